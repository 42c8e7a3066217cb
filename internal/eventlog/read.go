package eventlog

import (
	"context"
	"fmt"

	"github.com/noteflowhq/noteflow/internal/event"
)

// ReadFrom returns all events with position > after, in position order.
// after=0 reads the full log.
func (s *Store) ReadFrom(ctx context.Context, after int64) ([]event.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, id, type, payload
		FROM events
		WHERE position > ?
		ORDER BY position ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("read events after %d: %w", after, err)
	}
	defer rows.Close()

	var envs []event.Envelope
	for rows.Next() {
		var (
			env     event.Envelope
			typ     string
			payload []byte
		)
		if err := rows.Scan(&env.Position, &env.ID, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Type = event.Type(typ)

		p, err := event.Decode(env.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("decode event at position %d: %w", env.Position, err)
		}
		env.Payload = p

		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events after %d: %w", after, err)
	}
	return envs, nil
}

// LastPosition returns the position of the newest event, 0 for an empty log.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM events`,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("last position: %w", err)
	}
	return pos, nil
}
