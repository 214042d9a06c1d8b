package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lawalletio/card/internal/crypto"
)

// DesignRef resolves a Design either by name or by uuid; exactly one must
// be set.
type DesignRef struct {
	Name string
	UUID string
}

func (s *Store) resolveDesign(ctx context.Context, tx pgx.Tx, ref DesignRef) (*Design, error) {
	var query string
	var arg string
	if ref.UUID != "" {
		query = `SELECT uuid, name, description FROM designs WHERE uuid = $1`
		arg = ref.UUID
	} else {
		query = `SELECT uuid, name, description FROM designs WHERE name = $1`
		arg = ref.Name
	}

	var d Design
	err := tx.QueryRow(ctx, query, arg).Scan(&d.UUID, &d.Name, &d.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDesignNotFound
		}
		return nil, fmt.Errorf("failed to resolve design: %w", err)
	}
	return &d, nil
}

// GetDesign looks up a Design by uuid.
func (s *Store) GetDesign(ctx context.Context, designUUID string) (*Design, error) {
	var d Design
	err := s.pool.QueryRow(ctx, `SELECT uuid, name, description FROM designs WHERE uuid = $1`, designUUID).
		Scan(&d.UUID, &d.Name, &d.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDesignNotFound
		}
		return nil, fmt.Errorf("failed to get design %s: %w", designUUID, err)
	}
	return &d, nil
}

// CreateNTAG inserts a new NTAG, minting random per-card keys k0/k2/k3/k4
// and binding the module-wide k1. Returns the existing NTAG (idempotent)
// if cid already exists.
func (s *Store) CreateNTAG(ctx context.Context, cid string, ctr int64, moduleK1 string, design DesignRef) (*NTAG, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if existing, err := s.getNTAGByCidTx(ctx, tx, cid); err == nil {
		return existing, tx.Commit(ctx)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	d, err := s.resolveDesign(ctx, tx, design)
	if err != nil {
		return nil, err
	}

	k0, err := crypto.GenerateRandomKey(crypto.NTAGKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate k0: %w", err)
	}
	k2, err := crypto.GenerateRandomKey(crypto.NTAGKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate k2: %w", err)
	}
	k3, err := crypto.GenerateRandomKey(crypto.NTAGKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate k3: %w", err)
	}
	k4, err := crypto.GenerateRandomKey(crypto.NTAGKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate k4: %w", err)
	}

	ntag := &NTAG{
		Cid:        cid,
		K0:         hex.EncodeToString(k0),
		K1:         moduleK1,
		K2:         hex.EncodeToString(k2),
		K3:         hex.EncodeToString(k3),
		K4:         hex.EncodeToString(k4),
		Ctr:        ctr,
		DesignUUID: d.UUID,
	}

	_, err = tx.Exec(ctx, `INSERT INTO ntags (cid, k0, k1, k2, k3, k4, ctr, otc, design_uuid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ntag.Cid, ntag.K0, ntag.K1, ntag.K2, ntag.K3, ntag.K4, ntag.Ctr, ntag.OTC, ntag.DesignUUID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create ntag: %w", err)
	}

	return ntag, tx.Commit(ctx)
}

func (s *Store) getNTAGByCidTx(ctx context.Context, tx pgx.Tx, cid string) (*NTAG, error) {
	var n NTAG
	err := tx.QueryRow(ctx, `SELECT cid,k0,k1,k2,k3,k4,ctr,otc,design_uuid FROM ntags WHERE cid = $1`, cid).
		Scan(&n.Cid, &n.K0, &n.K1, &n.K2, &n.K3, &n.K4, &n.Ctr, &n.OTC, &n.DesignUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ntag %s: %w", cid, err)
	}
	return &n, nil
}

// GetNTAGByCid looks up an NTAG by cid regardless of module key.
func (s *Store) GetNTAGByCid(ctx context.Context, cid string) (*NTAG, error) {
	var n NTAG
	err := s.pool.QueryRow(ctx, `SELECT cid,k0,k1,k2,k3,k4,ctr,otc,design_uuid FROM ntags WHERE cid = $1`, cid).
		Scan(&n.Cid, &n.K0, &n.K1, &n.K2, &n.K3, &n.K4, &n.Ctr, &n.OTC, &n.DesignUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ntag %s: %w", cid, err)
	}
	return &n, nil
}

// GetNTAGByCidAndK1 is the lookup C1 performs: (cid, module k1).
func (s *Store) GetNTAGByCidAndK1(ctx context.Context, cid, moduleK1 string) (*NTAG, error) {
	var n NTAG
	err := s.pool.QueryRow(ctx,
		`SELECT cid,k0,k1,k2,k3,k4,ctr,otc,design_uuid FROM ntags WHERE cid = $1 AND k1 = $2`,
		cid, moduleK1).
		Scan(&n.Cid, &n.K0, &n.K1, &n.K2, &n.K3, &n.K4, &n.Ctr, &n.OTC, &n.DesignUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ntag %s: %w", cid, err)
	}
	return &n, nil
}

// UpdateCounterConditional atomically advances ntag.ctr to newCtr, only if
// newCtr is strictly greater than the stored value (C1 step 6-8). Returns
// false if the condition failed (stale/replayed counter).
func (s *Store) UpdateCounterConditional(ctx context.Context, cid string, newCtr int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE ntags SET ctr = $2 WHERE cid = $1 AND ctr < $2`, cid, newCtr)
	if err != nil {
		return false, fmt.Errorf("failed to update ntag counter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetOTC idempotently binds otc to the NTAG identified by cid.
func (s *Store) SetOTC(ctx context.Context, cid, otc string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ntag, err := s.getNTAGByCidTx(ctx, tx, cid)
	if err != nil {
		return err
	}

	if ntag.OTC != nil {
		if *ntag.OTC == otc {
			return tx.Commit(ctx)
		}
		return ErrOTCConflict
	}

	var conflictCid string
	err = tx.QueryRow(ctx, `SELECT cid FROM ntags WHERE otc = $1 AND cid <> $2`, otc, cid).Scan(&conflictCid)
	if err == nil {
		return ErrOTCAlreadyBound
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check otc uniqueness: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE ntags SET otc = $2 WHERE cid = $1`, cid, otc); err != nil {
		return fmt.Errorf("failed to set otc: %w", err)
	}

	return tx.Commit(ctx)
}

// FindAvailableNTAGByOTC returns the NTAG bound to otc, only if it is not
// yet bound to any Card.
func (s *Store) FindAvailableNTAGByOTC(ctx context.Context, otc string) (*NTAG, error) {
	var n NTAG
	err := s.pool.QueryRow(ctx, `
		SELECT n.cid, n.k0, n.k1, n.k2, n.k3, n.k4, n.ctr, n.otc, n.design_uuid
		FROM ntags n
		WHERE n.otc = $1
		  AND NOT EXISTS (SELECT 1 FROM cards c WHERE c.ntag424_cid = n.cid)`,
		otc).
		Scan(&n.Cid, &n.K0, &n.K1, &n.K2, &n.K3, &n.K4, &n.Ctr, &n.OTC, &n.DesignUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find available ntag by otc: %w", err)
	}
	return &n, nil
}

// DeleteNTAG removes an NTAG entirely (admin delete).
func (s *Store) DeleteNTAG(ctx context.Context, cid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ntags WHERE cid = $1`, cid)
	if err != nil {
		return fmt.Errorf("failed to delete ntag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
