package device

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteContextStore implements ContextStore using SQLite.
//
// Contexts are loaded once into memory on startup; Resolve serves from
// the in-memory map and only touches the database when an unknown sid is
// first seen. A failed insert is reported but the in-memory record stays
// usable for the rest of the process.
type SQLiteContextStore struct {
	db       *sql.DB
	contexts map[string]*Context
	logger   Logger
}

// NewSQLiteContextStore creates a context store backed by the given
// open SQLite connection.
func NewSQLiteContextStore(db *sql.DB) *SQLiteContextStore {
	return &SQLiteContextStore{
		db:       db,
		contexts: make(map[string]*Context),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *SQLiteContextStore) SetLogger(logger Logger) {
	s.logger = logger
}

// Load reads every persisted context into memory.
func (s *SQLiteContextStore) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sid, room, name, model FROM device_contexts")
	if err != nil {
		return fmt.Errorf("querying device contexts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sid string
		c := &Context{}
		if err := rows.Scan(&sid, &c.Room, &c.Name, &c.Model); err != nil {
			return fmt.Errorf("scanning device context: %w", err)
		}
		s.contexts[sid] = c
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating device contexts: %w", err)
	}

	s.logger.Info("device contexts loaded", "count", len(s.contexts))
	return nil
}

// Resolve returns the context for sid. An unknown sid gets a fresh
// record with empty room/name and the wire model, which is persisted
// immediately; if the insert fails the record is returned anyway along
// with the error.
func (s *SQLiteContextStore) Resolve(ctx context.Context, sid, model string) (*Context, error) {
	if c, ok := s.contexts[sid]; ok {
		return c, nil
	}

	c := &Context{Model: model}
	s.contexts[sid] = c
	s.logger.Info("no context for device, creating", "sid", sid, "model", model)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO device_contexts (sid, room, name, model) VALUES (?, ?, ?, ?)",
		sid, c.Room, c.Name, c.Model,
	)
	if err != nil {
		return c, fmt.Errorf("persisting device context: %w", err)
	}
	return c, nil
}

// SetContext updates the room/name for a sid and persists the change.
// The in-memory record is updated in place so devices holding a
// reference see the new context immediately.
func (s *SQLiteContextStore) SetContext(ctx context.Context, sid, room, name string) error {
	c, ok := s.contexts[sid]
	if !ok {
		c = &Context{}
		s.contexts[sid] = c
	}
	c.Room = room
	c.Name = name

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_contexts (sid, room, name, model) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sid) DO UPDATE SET room = excluded.room, name = excluded.name`,
		sid, room, name, c.Model,
	)
	if err != nil {
		return fmt.Errorf("updating device context: %w", err)
	}
	return nil
}
