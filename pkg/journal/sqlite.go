package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates the events table on db if needed.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		event_metadata TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Save(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, event_data, event_metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.Type, string(data), string(meta), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// ByType returns events of one type, oldest first. Data comes back as
// json.RawMessage.
func (s *SQLiteSink) ByType(ctx context.Context, eventType string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, event_data, event_metadata, created_at FROM events WHERE event_type = ? ORDER BY created_at, rowid`, eventType)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			e          Event
			data, meta string
		)
		if err := rows.Scan(&e.ID, &e.Type, &data, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Data = json.RawMessage(data)
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding event metadata: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}
