package store

import "context"

// IncrCounter is the Metrics component's only write path (spec §4.8 / §9's
// "process-wide counters flushed to table" design note): in-process values
// accumulate and are periodically flushed here, or callers increment
// directly for low-frequency events like rate-limit retries.
func (s *Store) IncrCounter(ctx context.Context, botID, key string, delta int64) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metric_counters (bot_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (bot_id, key) DO UPDATE SET value = value + excluded.value;
		`, botID, key, delta)
		return err
	})
}

// CounterValue reads a single named counter, used by tests and the
// /metrics handler's per-key breakdown.
func (s *Store) CounterValue(ctx context.Context, botID, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metric_counters WHERE bot_id = ? AND key = ?`, botID, key).Scan(&v)
	if err != nil {
		return 0, nil // absent counter reads as zero, never an error
	}
	return v, nil
}

// AllCounters returns the raw counter table for a bot, for the /metrics
// JSON readout's "raw counters" section.
func (s *Store) AllCounters(ctx context.Context, botID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM metric_counters WHERE bot_id = ?`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
