package store

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/engine"
)

// Observe implements engine.Observer by appending rec to the journal.
func (s *Store) Observe(ctx context.Context, rec engine.TraceRecord) error {
	return s.WriteRecord(ctx, rec)
}

var _ engine.Observer = (*Store)(nil)

// WriteRecord inserts a dispatch and its sends in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a record already in the
// journal is silently ignored along with its sends.
//
// Payloads and updates are serialized to canonical JSON per RFC 8785.
func (s *Store) WriteRecord(ctx context.Context, rec engine.TraceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("write record: empty id")
	}

	payloadJSON, err := marshalObject(rec.Payload)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	updateJSON, err := marshalOptional(rec.Update)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dispatches
		(id, seq, flow_token, cause_id, component, instance_id, event, payload,
		 outcome, propagated, update_data, state_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		rec.FlowToken,
		nullString(rec.CauseID),
		rec.Target.Component,
		rec.Target.ID,
		rec.Event,
		payloadJSON,
		string(rec.Outcome),
		rec.Propagated,
		updateJSON,
		nullString(rec.StateHash),
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write record %s: rows affected: %w", rec.ID, err)
	}
	if inserted == 0 {
		return nil
	}

	for i, sent := range rec.Sends {
		sentJSON, err := marshalObject(sent.Payload)
		if err != nil {
			return fmt.Errorf("write record %s: send %d: %w", rec.ID, i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sends (dispatch_id, position, component, instance_id, event, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			i,
			sent.Target.Component,
			sent.Target.ID,
			sent.Event,
			sentJSON,
		)
		if err != nil {
			return fmt.Errorf("write record %s: send %d: %w", rec.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write record %s: commit: %w", rec.ID, err)
	}
	return nil
}
