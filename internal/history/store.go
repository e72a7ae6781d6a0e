package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-usbrole/internal/capability"
	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timestampLayout is fixed width so created_at sorts as text.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// RoleTransition is one role change of a port.
type RoleTransition struct {
	EventID uuid.UUID `json:"event_id"`
	PortID  string    `json:"port_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"timestamp"`
}

// Store is the SQLite-backed transition history. It also acts as a
// capability.Sink.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// HandleChange records change.
func (s *Store) HandleChange(ctx context.Context, change capability.Change) error {
	return s.RecordCapability(ctx, change)
}

// RecordCapability inserts a capability transition.
func (s *Store) RecordCapability(ctx context.Context, change capability.Change) error {
	if change.PortID == "" {
		return fmt.Errorf("port id is required")
	}
	if change.EventID == uuid.Nil {
		change.EventID = uuid.New()
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}

	active := 0
	if change.Active {
		active = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capability_history (id, port_id, capability, active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		change.EventID.String(),
		change.PortID,
		string(change.Capability),
		active,
		formatTimestamp(change.At),
	)
	if err != nil {
		return fmt.Errorf("inserting capability history: %w", err)
	}
	return nil
}

// RecordRole inserts a role transition.
func (s *Store) RecordRole(ctx context.Context, t RoleTransition) error {
	if t.PortID == "" {
		return fmt.Errorf("port id is required")
	}
	if t.EventID == uuid.Nil {
		t.EventID = uuid.New()
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_history (id, port_id, from_role, to_role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.EventID.String(),
		t.PortID,
		t.From,
		t.To,
		formatTimestamp(t.At),
	)
	if err != nil {
		return fmt.Errorf("inserting role history: %w", err)
	}
	return nil
}

// Capabilities returns the most recent capability transitions of a port,
// newest first. limit defaults to 50 and is capped at 200.
func (s *Store) Capabilities(ctx context.Context, portID string, limit int) ([]capability.Change, error) {
	if portID == "" {
		return nil, fmt.Errorf("port id is required")
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, port_id, capability, active, created_at
		 FROM capability_history
		 WHERE port_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		portID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying capability history: %w", err)
	}
	defer rows.Close()

	changes := make([]capability.Change, 0, limit)
	for rows.Next() {
		var (
			c         capability.Change
			id, name  string
			active    int
			createdAt string
		)
		if err := rows.Scan(&id, &c.PortID, &name, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning capability history: %w", err)
		}
		if c.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing event id: %w", err)
		}
		if c.At, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		c.Capability = usbrole.Capability(name)
		c.Active = active == 1
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating capability history: %w", err)
	}
	return changes, nil
}

// Roles returns the most recent role transitions of a port, newest first.
func (s *Store) Roles(ctx context.Context, portID string, limit int) ([]RoleTransition, error) {
	if portID == "" {
		return nil, fmt.Errorf("port id is required")
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, port_id, from_role, to_role, created_at
		 FROM role_history
		 WHERE port_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		portID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying role history: %w", err)
	}
	defer rows.Close()

	transitions := make([]RoleTransition, 0, limit)
	for rows.Next() {
		var (
			t             RoleTransition
			id, createdAt string
		)
		if err := rows.Scan(&id, &t.PortID, &t.From, &t.To, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning role history: %w", err)
		}
		if t.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing event id: %w", err)
		}
		if t.At, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role history: %w", err)
	}
	return transitions, nil
}

// Prune deletes entries older than olderThan from both tables and returns
// how many rows went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTimestamp(time.Now().Add(-olderThan))

	var total int64
	for _, table := range []string{"capability_history", "role_history"} {
		// Table names come from the fixed list above.
		result, err := s.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE created_at < ?", //nolint:gosec // Constant table names
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp accepts the store's own layout and plain RFC 3339.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
