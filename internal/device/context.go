package device

import "context"

// ContextStore is the durable side of context resolution: a mapping from
// sid to {room, name, model}, read once at startup and appended to
// whenever an unknown sid is first seen. Contexts are never deleted.
//
// Implementations must hand out stable *Context pointers: devices keep a
// reference to the record, so edits made through the store are visible to
// every device created from it.
type ContextStore interface {
	ContextResolver

	// Load reads every persisted context into memory. Called once on
	// startup before ingestion begins.
	Load(ctx context.Context) error

	// SetContext updates the room/name for a sid and persists the change.
	SetContext(ctx context.Context, sid, room, name string) error
}

// MemoryContextStore is an in-memory ContextStore with no persistence.
// Used in tests and by hosts that run without a database.
type MemoryContextStore struct {
	contexts map[string]*Context
}

// NewMemoryContextStore creates an empty in-memory context store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[string]*Context)}
}

// Load is a no-op for the in-memory store.
func (s *MemoryContextStore) Load(context.Context) error {
	return nil
}

// Resolve returns the context for sid, creating an empty-room/empty-name
// record on first sighting.
func (s *MemoryContextStore) Resolve(_ context.Context, sid, model string) (*Context, error) {
	if c, ok := s.contexts[sid]; ok {
		return c, nil
	}
	c := &Context{Model: model}
	s.contexts[sid] = c
	return c, nil
}

// SetContext updates the room/name for a sid.
func (s *MemoryContextStore) SetContext(_ context.Context, sid, room, name string) error {
	c, ok := s.contexts[sid]
	if !ok {
		c = &Context{}
		s.contexts[sid] = c
	}
	c.Room = room
	c.Name = name
	return nil
}
