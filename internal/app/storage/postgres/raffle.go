package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
)

type roundRow struct {
	Number           int64     `db:"round_number"`
	State            string    `db:"state"`
	EntryFee         int64     `db:"entry_fee"`
	IntervalMS       int64     `db:"interval_ms"`
	LastResolution   time.Time `db:"last_resolution"`
	PendingRequestID int64     `db:"pending_request_id"`
	RecentWinner     string    `db:"recent_winner"`
	Balance          int64     `db:"balance"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (s *Store) LoadRound(ctx context.Context) (lottery.Round, error) {
	q := s.conn(ctx)
	var row roundRow
	err := q.GetContext(ctx, &row, `
		SELECT round_number, state, entry_fee, interval_ms, last_resolution, pending_request_id,
		       recent_winner, balance, updated_at
		FROM raffle_state
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return lottery.Round{}, lottery.ErrRoundNotFound
	}
	if err != nil {
		return lottery.Round{}, fmt.Errorf("load raffle state: %w", err)
	}

	participants := []string{}
	if err := q.SelectContext(ctx, &participants, `
		SELECT participant FROM raffle_participants ORDER BY position
	`); err != nil {
		return lottery.Round{}, fmt.Errorf("load participants: %w", err)
	}

	return lottery.Round{
		Number:           row.Number,
		State:            lottery.RaffleState(row.State),
		Participants:     participants,
		EntryFee:         row.EntryFee,
		Interval:         time.Duration(row.IntervalMS) * time.Millisecond,
		LastResolution:   row.LastResolution.UTC(),
		PendingRequestID: lottery.RequestID(row.PendingRequestID),
		RecentWinner:     row.RecentWinner,
		Balance:          row.Balance,
		UpdatedAt:        row.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) SaveRound(ctx context.Context, round lottery.Round) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return s.writeRound(ctx, round)
	})
}

// SettleRound writes next and runs pay in one transaction; a pay error rolls both back.
func (s *Store) SettleRound(ctx context.Context, next lottery.Round, pay func(ctx context.Context) error) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.writeRound(ctx, next); err != nil {
			return err
		}
		return pay(ctx)
	})
}

// writeRound upserts the state row and syncs participants. Participants only grow by
// appending or reset to empty, so rows past the new length are dropped and the missing
// tail is inserted.
func (s *Store) writeRound(ctx context.Context, round lottery.Round) error {
	q := s.conn(ctx)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO raffle_state (id, round_number, state, entry_fee, interval_ms, last_resolution,
		                          pending_request_id, recent_winner, balance, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET round_number = EXCLUDED.round_number,
		    state = EXCLUDED.state,
		    entry_fee = EXCLUDED.entry_fee,
		    interval_ms = EXCLUDED.interval_ms,
		    last_resolution = EXCLUDED.last_resolution,
		    pending_request_id = EXCLUDED.pending_request_id,
		    recent_winner = EXCLUDED.recent_winner,
		    balance = EXCLUDED.balance,
		    updated_at = EXCLUDED.updated_at
	`, round.Number, string(round.State), round.EntryFee, round.Interval.Milliseconds(),
		round.LastResolution.UTC(), int64(round.PendingRequestID), round.RecentWinner,
		round.Balance, round.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("save raffle state: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		DELETE FROM raffle_participants WHERE position >= $1
	`, len(round.Participants)); err != nil {
		return fmt.Errorf("trim participants: %w", err)
	}

	var stored int
	if err := q.GetContext(ctx, &stored, `SELECT COUNT(*) FROM raffle_participants`); err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	for i := stored; i < len(round.Participants); i++ {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO raffle_participants (position, participant) VALUES ($1, $2)
		`, i, round.Participants[i]); err != nil {
			return fmt.Errorf("insert participant %d: %w", i, err)
		}
	}
	return nil
}
