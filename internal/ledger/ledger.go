// Package ledger provides an append-only event history for hueboblightd.
// It is written for auditing and never used to restore light state.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventSyncState     EventType = "sync_state"
	EventAutoOff       EventType = "auto_off"
	EventReconfigured  EventType = "reconfigured"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	Session   string         `json:"session,omitempty"`
}

// Ledger provides append-only event logging. A nil *Ledger discards writes,
// so callers do not need to check whether the ledger is enabled.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, source, session string, payload map[string]any) error {
	if l == nil {
		return nil
	}

	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, session) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().UnixMilli(), string(payloadJSON), source, session,
	)
	return err
}

// Recent returns the latest entries, newest first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	if l == nil {
		return nil, nil
	}

	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, session
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	if l == nil {
		return nil, nil
	}

	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, session
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	if l == nil {
		return 0, nil
	}

	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Subscribe records every daemon event published on bus
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	if l == nil || bus == nil {
		return
	}

	for _, t := range eventbus.AllEventTypes {
		bus.Subscribe(t, l.record)
	}
}

func (l *Ledger) record(e eventbus.Event) {
	session, _ := e.Data["session"].(string)
	if err := l.Append(EventType(e.Type), "daemon", session, e.Data); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to append ledger entry")
	}
}

// RunCleanup deletes entries older than retention every interval until ctx
// is done.
func (l *Ledger) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	if l == nil || retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, session sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &session)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if session.Valid {
			entry.Session = session.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
