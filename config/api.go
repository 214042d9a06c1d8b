package config

// ApiConfig is the full environment-driven configuration for cmd/api and
// cmd/worker/subscription (spec.md §6's enumerated configuration block).
type ApiConfig struct {
	Database struct {
		Host            string `toml:"host" env:"BTC_GIFTCARD_DB_HOST"`
		Port            string `toml:"port" env:"BTC_GIFTCARD_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"BTC_GIFTCARD_DB_USER"`
		Password        string `toml:"password" env:"BTC_GIFTCARD_DB_PASSWORD"`
		DB              string `toml:"db" env:"BTC_GIFTCARD_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"BTC_GIFTCARD_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"BTC_GIFTCARD_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"BTC_GIFTCARD_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"BTC_GIFTCARD_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"BTC_GIFTCARD_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"BTC_GIFTCARD_REDIS_HOST"`
		Port     string `toml:"port" env:"BTC_GIFTCARD_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"BTC_GIFTCARD_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"BTC_GIFTCARD_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	LND struct {
		GRPCHost     string `toml:"grpc_host" env:"LND_GRPC_HOST" env-default:"localhost"`
		GRPCPort     string `toml:"grpc_port" env:"LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath  string `toml:"tls_cert_path" env:"LND_TLS_CERT_PATH"`
		MacaroonPath string `toml:"macaroon_path" env:"LND_MACAROON_PATH"`
		Network      string `toml:"network" env:"LND_NETWORK" env-default:"mainnet"`
	} `toml:"lnd"`

	Nostr struct {
		ModuleK1Hex   string `toml:"module_k1_hex" env:"SERVER_AES_KEY_HEX"`
		PrivateKeyHex string `toml:"private_key_hex" env:"NOSTR_PRIVATE_KEY"`
		PublicKeyHex  string `toml:"public_key_hex" env:"NOSTR_PUBLIC_KEY"`
	} `toml:"nostr"`

	LaWallet struct {
		CardWriterPubKey              string `toml:"card_writer_pubkey" env:"CARD_WRITER_PUBKEY"`
		AdminPubKeys                  string `toml:"admin_pubkeys" env:"ADMIN_PUBKEYS"`
		FederationID                  string `toml:"federation_id" env:"LAWALLET_FEDERATION_ID"`
		APIBaseURL                    string `toml:"api_base_url" env:"LAWALLET_API_BASE_URL"`
		LedgerPubKey                  string `toml:"ledger_pubkey" env:"LEDGER_PUBLIC_KEY"`
		BtcGatewayPubKey              string `toml:"btc_gateway_pubkey" env:"BTC_GATEWAY_PUBLIC_KEY"`
		DefaultLimits                 string `toml:"default_limits" env:"DEFAULT_LIMITS"`
		DefaultTrustedMerchants       string `toml:"default_trusted_merchants" env:"DEFAULT_TRUSTED_MERCHANTS"`
		PaymentRequestExpiryInSeconds int    `toml:"payment_request_expiry_in_seconds" env:"PAYMENT_REQUEST_EXPIRY_IN_SECONDS" env-default:"600"`
		ResetExpirySeconds            int64  `toml:"reset_expiry_seconds" env:"RESET_EXPIRY_SECONDS" env-default:"180"`
		OutboxStream                  string `toml:"outbox_stream" env:"CARD_OUTBOX_STREAM" env-default:"card.outbox"`
		InboxStream                   string `toml:"inbox_stream" env:"CARD_INBOX_STREAM" env-default:"card.inbox"`
		SubscriptionConsumerGroup     string `toml:"subscription_consumer_group" env:"CARD_SUBSCRIPTION_GROUP" env-default:"card-config-change"`
	} `toml:"lawallet"`

	IdentityProvider struct {
		APIBase string `toml:"api_base" env:"IDENTITY_PROVIDER_API_BASE"`
	} `toml:"identity_provider"`

	Server struct {
		Port string `toml:"port" env:"SERVER_PORT" env-default:"8080"`
	} `toml:"server"`
}
