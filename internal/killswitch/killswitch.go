// Package killswitch holds the process-wide emergency stop flag. The gate
// and the dispatcher read it before every decision and every send; only the
// administrative API toggles it.
package killswitch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is a snapshot of the switch.
type State struct {
	Engaged       bool      `json:"engaged"`
	LastChangedBy string    `json:"last_changed_by,omitempty"`
	LastChangedAt time.Time `json:"last_changed_at,omitempty"`
}

// Switch is the process-wide kill switch. Reads are a single atomic load;
// toggles append to kill_switch_log and fan out to subscribers.
type Switch struct {
	engaged atomic.Bool
	db      *sql.DB

	mu            sync.Mutex
	lastChangedBy string
	lastChangedAt time.Time
	subs          map[int]chan State
	nextSubID     int
}

// New creates a Switch backed by db, restoring the last persisted state.
func New(ctx context.Context, db *sql.DB) (*Switch, error) {
	s := &Switch{
		db:   db,
		subs: make(map[int]chan State),
	}

	var engaged int
	var by, at string
	err := db.QueryRowContext(ctx,
		"SELECT engaged, changed_by, changed_at FROM kill_switch_log ORDER BY seq DESC LIMIT 1;",
	).Scan(&engaged, &by, &at)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// never toggled; stays off
	case err != nil:
		return nil, fmt.Errorf("restore kill switch state: %w", err)
	default:
		s.engaged.Store(engaged != 0)
		s.lastChangedBy = by
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			s.lastChangedAt = t
		}
	}
	return s, nil
}

// Engaged reports whether the switch is on. Safe for concurrent use from
// every gate evaluation and dispatch attempt.
func (s *Switch) Engaged() bool {
	return s.engaged.Load()
}

// State returns the current snapshot including change metadata.
func (s *Switch) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Engaged:       s.engaged.Load(),
		LastChangedBy: s.lastChangedBy,
		LastChangedAt: s.lastChangedAt,
	}
}

// Set toggles the switch, records the change, and notifies subscribers.
// The audit row is written before the switch flips; a toggle that cannot be
// recorded does not take effect.
func (s *Switch) Set(ctx context.Context, engaged bool, changedBy string) (State, error) {
	if changedBy == "" {
		return State{}, fmt.Errorf("changedBy is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	val := 0
	if engaged {
		val = 1
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO kill_switch_log(engaged, changed_by, changed_at) VALUES(?, ?, ?);",
		val, changedBy, now.Format(time.RFC3339Nano),
	); err != nil {
		return State{}, fmt.Errorf("record kill switch change: %w", err)
	}

	s.engaged.Store(engaged)
	s.lastChangedBy = changedBy
	s.lastChangedAt = now

	st := State{Engaged: engaged, LastChangedBy: changedBy, LastChangedAt: now}
	for _, ch := range s.subs {
		// Don't let slow subscribers block the toggle.
		select {
		case ch <- st:
		default:
		}
	}
	return st, nil
}

// Subscribe returns a channel of state changes and a cancel func.
func (s *Switch) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 8)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// History returns the most recent toggles, newest first.
func (s *Switch) History(ctx context.Context, limit int) ([]State, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT engaged, changed_by, changed_at FROM kill_switch_log ORDER BY seq DESC LIMIT ?;", limit)
	if err != nil {
		return nil, fmt.Errorf("read kill switch history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []State
	for rows.Next() {
		var engaged int
		var by, at string
		if err := rows.Scan(&engaged, &by, &at); err != nil {
			return nil, fmt.Errorf("scan kill switch history: %w", err)
		}
		st := State{Engaged: engaged != 0, LastChangedBy: by}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			st.LastChangedAt = t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
