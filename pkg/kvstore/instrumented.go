package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/isotrack/pkg/observability"
)

// instrumentedStore records operation counts, latency and errors for the
// wrapped store
type instrumentedStore struct {
	Store
	backend string
	metrics *observability.Metrics
}

// Instrument wraps store so each operation feeds metrics under the given
// backend label. A nil metrics returns store unchanged.
func Instrument(store Store, backend string, metrics *observability.Metrics) Store {
	if metrics == nil {
		return store
	}
	return &instrumentedStore{Store: store, backend: backend, metrics: metrics}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.ObserveStorage(op, s.backend, time.Since(start), errorType(err))
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCapacity(err):
		return "capacity"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := s.Store.Get(ctx, key)
	s.observe("get", start, err)
	return value, ok, err
}

func (s *instrumentedStore) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.Store.Set(ctx, key, value)
	s.observe("set", start, err)
	if err == nil {
		s.metrics.ObserveValueSize(s.backend, len(value))
	}
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.Store.Ping(ctx)
	s.observe("ping", start, err)
	return err
}
