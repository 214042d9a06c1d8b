package lnd

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
)

// DecodeInvoice decodes a BOLT11 invoice string without paying it. Used to
// validate invoice amount and expiry before a standard LNURL-withdraw
// callback is honored.
func (c *Client) DecodeInvoice(ctx context.Context, bolt11 string) (*Invoice, error) {
	resp, err := c.lnClient.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: bolt11})
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}

	expiryTime := time.Unix(resp.Timestamp+resp.Expiry, 0)
	isExpired := time.Now().After(expiryTime)

	return &Invoice{
		Destination: resp.Destination,
		AmountSats:  resp.NumSatoshis,
		AmountMsat:  resp.NumMsat,
		PaymentHash: resp.PaymentHash,
		Expiry:      resp.Expiry,
		Description: resp.Description,
		IsExpired:   isExpired,
	}, nil
}
