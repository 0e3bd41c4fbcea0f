package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

const dispatchColumns = `id, seq, flow_token, cause_id, component, instance_id, event, payload,
	outcome, propagated, update_data, state_hash, error`

// ReadFlow returns every dispatch of a flow, ordered by seq ASC, id ASC.
// Returns an empty slice (not nil) if the flow has no records.
func (s *Store) ReadFlow(ctx context.Context, flowToken string) ([]engine.TraceRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+dispatchColumns+`
		FROM dispatches
		WHERE flow_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flowToken)
}

// ReadAll returns the whole journal in dispatch order.
func (s *Store) ReadAll(ctx context.Context) ([]engine.TraceRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+dispatchColumns+`
		FROM dispatches
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// ReadInstance returns every dispatch delivered to one instance.
func (s *Store) ReadInstance(ctx context.Context, ref ir.InstanceRef) ([]engine.TraceRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+dispatchColumns+`
		FROM dispatches
		WHERE component = ? AND instance_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, ref.Component, ref.ID)
}

// ReadRecord retrieves a single dispatch by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRecord(ctx context.Context, id string) (engine.TraceRecord, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT `+dispatchColumns+`
		FROM dispatches
		WHERE id = ?
	`, id)
	if err != nil {
		return engine.TraceRecord{}, err
	}
	if len(recs) == 0 {
		return engine.TraceRecord{}, sql.ErrNoRows
	}
	return recs[0], nil
}

// ReadCaused returns the dispatches directly caused by id: the events its
// sends produced and, when it propagated, the parent dispatch.
func (s *Store) ReadCaused(ctx context.Context, id string) ([]engine.TraceRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+dispatchColumns+`
		FROM dispatches
		WHERE cause_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, id)
}

// ReadLineage walks cause links from id back to the externally queued
// dispatch and returns the chain root first.
func (s *Store) ReadLineage(ctx context.Context, id string) ([]engine.TraceRecord, error) {
	var chain []engine.TraceRecord
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if seen[cur] {
			return nil, fmt.Errorf("read lineage: cause loop at %s", cur)
		}
		seen[cur] = true

		rec, err := s.ReadRecord(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("read lineage: %s: %w", cur, err)
		}
		chain = append(chain, rec)
		cur = rec.CauseID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// FlowTokens lists every flow in the journal, ordered by first dispatch.
func (s *Store) FlowTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_token
		FROM dispatches
		GROUP BY flow_token
		ORDER BY MIN(seq) ASC, flow_token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query flow tokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan flow token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow tokens: %w", err)
	}
	return tokens, nil
}

// LastSeq returns the highest seq in the journal, or 0 when it is empty.
// A new run continues numbering with engine.NewClockAt(LastSeq).
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM dispatches`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

// CountByOutcome returns how many dispatches ended in each outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[engine.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM dispatches GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[engine.Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]engine.TraceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}

	records := []engine.TraceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	rows.Close()

	// Sends are loaded after the cursor closes: the pool has one connection.
	if err := s.attachSends(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (engine.TraceRecord, error) {
	var (
		rec                        engine.TraceRecord
		causeID, stateHash, errMsg sql.NullString
		updateJSON                 sql.NullString
		payloadJSON, outcome       string
	)
	err := rows.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.FlowToken,
		&causeID,
		&rec.Target.Component,
		&rec.Target.ID,
		&rec.Event,
		&payloadJSON,
		&outcome,
		&rec.Propagated,
		&updateJSON,
		&stateHash,
		&errMsg,
	)
	if err != nil {
		return engine.TraceRecord{}, fmt.Errorf("scan dispatch: %w", err)
	}

	if rec.Payload, err = unmarshalObject(payloadJSON); err != nil {
		return engine.TraceRecord{}, fmt.Errorf("dispatch %s payload: %w", rec.ID, err)
	}
	if rec.Update, err = unmarshalOptional(updateJSON); err != nil {
		return engine.TraceRecord{}, fmt.Errorf("dispatch %s update: %w", rec.ID, err)
	}
	rec.CauseID = causeID.String
	rec.StateHash = stateHash.String
	rec.Error = errMsg.String
	rec.Outcome = engine.Outcome(outcome)
	return rec, nil
}

// attachSends fills Sends for every record with one query.
func (s *Store) attachSends(ctx context.Context, records []engine.TraceRecord) error {
	if len(records) == 0 {
		return nil
	}

	index := make(map[string]int, len(records))
	placeholders := make([]string, len(records))
	args := make([]any, len(records))
	for i, rec := range records {
		index[rec.ID] = i
		placeholders[i] = "?"
		args[i] = rec.ID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dispatch_id, component, instance_id, event, payload
		FROM sends
		WHERE dispatch_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY dispatch_id COLLATE BINARY ASC, position ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("query sends: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dispatchID, payloadJSON string
			sent                    engine.Sent
		)
		if err := rows.Scan(&dispatchID, &sent.Target.Component, &sent.Target.ID, &sent.Event, &payloadJSON); err != nil {
			return fmt.Errorf("scan send: %w", err)
		}
		if sent.Payload, err = unmarshalObject(payloadJSON); err != nil {
			return fmt.Errorf("send of %s: %w", dispatchID, err)
		}
		i := index[dispatchID]
		records[i].Sends = append(records[i].Sends, sent)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sends: %w", err)
	}
	return nil
}
