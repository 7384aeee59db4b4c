package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
)

type vrfRequestRow struct {
	ID               int64          `db:"id"`
	KeyHash          string         `db:"key_hash"`
	SubscriptionID   int64          `db:"subscription_id"`
	MinConfirmations int32          `db:"min_confirmations"`
	CallbackGasLimit int64          `db:"callback_gas_limit"`
	NumWords         int32          `db:"num_words"`
	Seed             []byte         `db:"seed"`
	Proof            []byte         `db:"proof"`
	RandomWords      pq.StringArray `db:"random_words"`
	Status           string         `db:"status"`
	Attempts         int            `db:"attempts"`
	LastError        string         `db:"last_error"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	FulfilledAt      sql.NullTime   `db:"fulfilled_at"`
}

const vrfColumns = `id, key_hash, subscription_id, min_confirmations, callback_gas_limit, num_words,
	seed, proof, random_words, status, attempts, last_error, created_at, updated_at, fulfilled_at`

func (r vrfRequestRow) toRequest() (vrf.Request, error) {
	req := vrf.Request{
		ID: uint64(r.ID),
		Params: vrf.RequestParams{
			KeyHash:          r.KeyHash,
			SubscriptionID:   uint64(r.SubscriptionID),
			MinConfirmations: uint16(r.MinConfirmations),
			CallbackGasLimit: uint32(r.CallbackGasLimit),
			NumWords:         uint32(r.NumWords),
		},
		Seed:      r.Seed,
		Proof:     r.Proof,
		Status:    vrf.RequestStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	for i, raw := range r.RandomWords {
		w, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return vrf.Request{}, fmt.Errorf("vrf request %d: malformed word %d", r.ID, i)
		}
		req.Words = append(req.Words, w)
	}
	if r.FulfilledAt.Valid {
		t := r.FulfilledAt.Time.UTC()
		req.FulfilledAt = &t
	}
	return req, nil
}

func wordStrings(words []*big.Int) pq.StringArray {
	out := make(pq.StringArray, len(words))
	for i, w := range words {
		out[i] = w.String()
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) CreateRequest(ctx context.Context, req vrf.Request) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO vrf_requests (`+vrfColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, int64(req.ID), req.Params.KeyHash, int64(req.Params.SubscriptionID), int32(req.Params.MinConfirmations),
		int64(req.Params.CallbackGasLimit), int32(req.Params.NumWords), req.Seed, req.Proof,
		wordStrings(req.Words), string(req.Status), req.Attempts, req.LastError, req.CreatedAt,
		req.UpdatedAt, nullTime(req.FulfilledAt))
	if err != nil {
		return fmt.Errorf("create vrf request: %w", err)
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, req vrf.Request) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE vrf_requests
		SET proof = $2, random_words = $3, status = $4, attempts = $5, last_error = $6,
		    updated_at = $7, fulfilled_at = $8
		WHERE id = $1
	`, int64(req.ID), req.Proof, wordStrings(req.Words), string(req.Status), req.Attempts,
		req.LastError, req.UpdatedAt, nullTime(req.FulfilledAt))
	if err != nil {
		return fmt.Errorf("update vrf request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return vrf.ErrRequestNotFound
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id uint64) (vrf.Request, error) {
	var row vrfRequestRow
	err := s.conn(ctx).GetContext(ctx, &row, `SELECT `+vrfColumns+` FROM vrf_requests WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return vrf.Request{}, vrf.ErrRequestNotFound
	}
	if err != nil {
		return vrf.Request{}, fmt.Errorf("get vrf request: %w", err)
	}
	return row.toRequest()
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status vrf.RequestStatus) ([]vrf.Request, error) {
	var rows []vrfRequestRow
	if err := s.conn(ctx).SelectContext(ctx, &rows,
		`SELECT `+vrfColumns+` FROM vrf_requests WHERE status = $1 ORDER BY id`, string(status)); err != nil {
		return nil, fmt.Errorf("list vrf requests: %w", err)
	}
	out := make([]vrf.Request, 0, len(rows))
	for _, row := range rows {
		req, err := row.toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) LatestRequestID(ctx context.Context) (uint64, error) {
	var latest int64
	if err := s.conn(ctx).GetContext(ctx, &latest, `SELECT COALESCE(MAX(id), 0) FROM vrf_requests`); err != nil {
		return 0, fmt.Errorf("latest vrf request id: %w", err)
	}
	return uint64(latest), nil
}
