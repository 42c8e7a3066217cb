package eventlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noteflowhq/noteflow/internal/event"
)

// Append validates the payload, assigns the next position, and persists the
// event under a fresh commit nonce. Validation failure is surfaced
// synchronously to the committer (*schema.ValidationError); nothing reaches
// the log.
//
// Every call is a distinct commit: re-running a cell appends a second
// CellOutputsCleared even though its payload is byte-identical to the
// first. Callers on an at-least-once transport that need retries to
// collapse into one event use AppendWithNonce with a stable nonce instead.
func (s *Store) Append(ctx context.Context, p event.Payload) (event.Envelope, error) {
	return s.AppendWithNonce(ctx, uuid.NewString(), p)
}

// AppendWithNonce is Append with a caller-supplied commit nonce. The event
// ID is content-addressed over (nonce, type, payload), so redelivering the
// same commit returns the originally stored envelope without writing.
func (s *Store) AppendWithNonce(ctx context.Context, nonce string, p event.Payload) (event.Envelope, error) {
	data, err := event.Encode(p)
	if err != nil {
		return event.Envelope{}, err
	}

	if err := s.validator.Validate(p.EventType(), data); err != nil {
		return event.Envelope{}, err
	}

	id, err := event.ID(nonce, p)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("append %s: %w", p.EventType(), err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(p.EventType()), string(data))
	if err != nil {
		return event.Envelope{}, fmt.Errorf("append %s: %w", p.EventType(), err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return event.Envelope{}, fmt.Errorf("append %s: rows affected: %w", p.EventType(), err)
	}

	env := event.Envelope{ID: id, Type: p.EventType(), Payload: p}

	if rows == 0 {
		// Duplicate delivery of the same commit - return the stored position.
		err = s.db.QueryRowContext(ctx,
			`SELECT position FROM events WHERE id = ?`, id,
		).Scan(&env.Position)
		if err != nil {
			return event.Envelope{}, fmt.Errorf("append %s: select existing: %w", p.EventType(), err)
		}
		return env, nil
	}

	pos, err := res.LastInsertId()
	if err != nil {
		return event.Envelope{}, fmt.Errorf("append %s: last insert id: %w", p.EventType(), err)
	}
	env.Position = pos

	// Wake tailing subscriptions after the row is durable.
	s.notifier.broadcast()

	return env, nil
}
