package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dataxchange/dxp/pkg/record"
)

// Record is one object written by an import provider.
type Record struct {
	// RunID is the run that produced the record.
	RunID string `json:"run_id"`

	// Action is the import action that produced the record.
	Action string `json:"action"`

	// Subject is the import subject, such as "labresult" or "site".
	Subject string `json:"subject"`

	// Key identifies the record within its subject. Location records use
	// the slash separated hierarchy path.
	Key string `json:"key"`

	// Parent is the key of the parent record, if any.
	Parent string `json:"parent,omitempty"`

	// Fields holds the record values.
	Fields *record.Bag `json:"fields"`

	CreatedAt time.Time `json:"created_at"`
}

// Sink receives the records produced by import providers.
type Sink interface {
	Put(ctx context.Context, rec *Record) error
}

// RecordQuery selects stored records.
type RecordQuery struct {
	// Subject matches the record subject, ignoring case. Required.
	Subject string

	// RunID restricts the result to one run. Empty selects every run.
	RunID string

	// Latest restricts the result to the most recent run that produced
	// the subject. It is ignored when RunID is set.
	Latest bool
}

// RecordSource lists stored records for export providers.
type RecordSource interface {
	Records(ctx context.Context, q RecordQuery) ([]*Record, error)
}

// MemorySink keeps records in memory. It is safe for concurrent use.
type MemorySink struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Put appends rec.
func (s *MemorySink) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// All returns every record in insertion order.
func (s *MemorySink) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Record(nil), s.records...)
}

// Records returns the records matching q in insertion order.
func (s *MemorySink) Records(ctx context.Context, q RecordQuery) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runID := q.RunID
	if runID == "" && q.Latest {
		for i := len(s.records) - 1; i >= 0; i-- {
			if strings.EqualFold(s.records[i].Subject, q.Subject) {
				runID = s.records[i].RunID
				break
			}
		}
	}

	var out []*Record
	for _, rec := range s.records {
		if !strings.EqualFold(rec.Subject, q.Subject) {
			continue
		}
		if runID != "" && rec.RunID != runID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// nopSink discards records.
type nopSink struct{}

func (nopSink) Put(context.Context, *Record) error { return nil }

func sinkOrNop(s Sink) Sink {
	if s == nil {
		return nopSink{}
	}
	return s
}
