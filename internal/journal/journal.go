package journal

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindAsk Kind = "ask"
	KindSQL Kind = "sql"
)

// Entry records one question or raw statement and how it ended.
type Entry struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	Question   string    `json:"question,omitempty"`
	SQL        string    `json:"sql"`
	Valid      bool      `json:"valid"`
	Corrected  bool      `json:"corrected"`
	RowCount   int       `json:"row_count"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	TraceID    string    `json:"trace_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	HealthCheck(ctx context.Context) error
}

const DefaultMemorySize = 200

// Memory keeps the most recent entries in a fixed-size ring.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	lastID  int64
	now     func() time.Time
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{entries: make([]Entry, size), now: time.Now}
}

func (m *Memory) Record(_ context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	entry.ID = m.lastID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}
	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.next
	if m.full {
		count = len(m.entries)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		index := (m.next - 1 - i + len(m.entries)) % len(m.entries)
		out = append(out, m.entries[index])
	}
	return out, nil
}

func (m *Memory) HealthCheck(context.Context) error {
	return nil
}
