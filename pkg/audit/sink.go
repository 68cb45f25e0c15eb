package audit

import (
	"context"
	"errors"
)

// Sink receives a copy of every recorded entry after it has been appended
// to the trail. Sink failures are logged by the trail and never affect the
// log itself.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

// MultiSink writes to several sinks in order
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink fanning out to sinks. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends another sink
func (m *MultiSink) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Write writes to every sink, continuing past failures, and returns the
// first error.
func (m *MultiSink) Write(ctx context.Context, entry Entry) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink and joins their errors
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
