// Package memory is the conversation-experience store chat.Engine writes
// to after each turn, queryable for topic continuity. chat.Engine records
// the role, the message text and a time-of-day bucket; it does not extract
// entities or concepts into the record. Importance is kept fully
// opaque — callers set it, nothing in this package interprets it
// (SPEC_FULL.md §12 open-question decision).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is one stored experience — a user or assistant turn plus the
// metadata extracted from it.
type Record struct {
	ID         string
	SessionID  string
	SpaceID    string
	Role       string
	Content    string
	Entities   []string
	Concepts   []string
	TimeOfDay  string
	Importance float32
	CreatedAt  time.Time
}

// QueryOpts filters a memory Query.
type QueryOpts struct {
	SessionID string
	SpaceID   string
	Topic     string
	Limit     int
}

// Store is the narrow interface chat.Engine depends on — defined locally
// so chat doesn't need to know whether memory is backed by a file, a
// database, or (as here) an in-process map.
type Store interface {
	Write(ctx context.Context, r Record) error
	Query(ctx context.Context, opts QueryOpts) ([]Record, error)
}

// InMemory is a process-lifetime Store, guarded by its own RWMutex per
// spec.md §5's concurrency model (conversation memory store behind its own
// async RW-lock, independent of ragengine's).
type InMemory struct {
	mu      sync.RWMutex
	records []Record
}

// NewInMemory returns an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Write(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *InMemory) Query(_ context.Context, opts QueryOpts) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Record
	for _, r := range s.records {
		if opts.SessionID != "" && r.SessionID != opts.SessionID {
			continue
		}
		if opts.SpaceID != "" && r.SpaceID != opts.SpaceID {
			continue
		}
		if opts.Topic != "" && !mentionsTopic(r, opts.Topic) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func mentionsTopic(r Record, topic string) bool {
	lowerTopic := strings.ToLower(topic)
	if strings.Contains(strings.ToLower(r.Content), lowerTopic) {
		return true
	}
	for _, c := range r.Concepts {
		if strings.EqualFold(c, topic) {
			return true
		}
	}
	for _, e := range r.Entities {
		if strings.EqualFold(e, topic) {
			return true
		}
	}
	return false
}

// Null is a no-op Store for configurations that disable conversation
// memory entirely.
type Null struct{}

func (Null) Write(context.Context, Record) error             { return nil }
func (Null) Query(context.Context, QueryOpts) ([]Record, error) { return nil, nil }

// TimeOfDay buckets t into the coarse label chat.Engine records alongside
// each memory write.
func TimeOfDay(t time.Time) string {
	h := t.Hour()
	switch {
	case h < 5:
		return "night"
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	case h < 21:
		return "evening"
	default:
		return "night"
	}
}
