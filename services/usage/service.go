// Package usage records per-request token counts and derived cost to a local
// sqlite database and serves aggregates from it. Writes go through a buffered
// channel drained by one writer goroutine, so the request path never blocks
// on the store; when the buffer is full records are dropped, not queued.
package usage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// insertTimeout bounds one store write so a wedged database cannot stall the
// writer goroutine forever.
const insertTimeout = 5 * time.Second

// Service accepts usage records from request handlers and persists them in
// the background.
type Service struct {
	store  *Store
	logger *zap.Logger

	records chan Record
	dropped atomic.Int64
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewService creates the usage service. Records accepted before Start buffer
// up to bufferSize and drain once the writer runs.
func NewService(store *Store, logger *zap.Logger, bufferSize int) *Service {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Service{
		store:   store,
		logger:  logger,
		records: make(chan Record, bufferSize),
	}
}

// Start launches the writer goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("usage service already closed")
	}
	if s.started {
		return fmt.Errorf("usage service already started")
	}

	s.wg.Add(1)
	go s.writer()
	s.started = true

	s.logger.Info("started usage writer", zap.Int("buffer_size", cap(s.records)))
	return nil
}

// Record queues one usage record, never blocking the caller. Missing ID and
// timestamp are filled in; cost is always derived from the pricing table so
// the store holds a single source of cost truth.
func (s *Service) Record(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	rec.Cost = CostUSD(rec.Model, rec.PromptTokens, rec.CompletionTokens)

	select {
	case s.records <- rec:
	default:
		s.dropped.Add(1)
		s.logger.Warn("usage buffer full, dropping record",
			zap.String("route", rec.Route),
			zap.String("model", rec.Model))
	}
}

// Summary aggregates stored records newer than since by route, backend and
// model. Reads go straight to the store; records still buffered are not
// visible yet.
func (s *Service) Summary(ctx context.Context, since time.Time) ([]SummaryRow, error) {
	return s.store.Summarize(ctx, since)
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Stats reports buffer occupancy and how many records were dropped.
func (s *Service) Stats() Stats {
	return Stats{
		Buffered: len(s.records),
		Dropped:  s.dropped.Load(),
	}
}

// Stats describes the state of the write buffer.
type Stats struct {
	Buffered int
	Dropped  int64
}

// StartRetentionWorker periodically prunes records older than retention until
// ctx is cancelled. A retention of zero keeps records forever.
func (s *Service) StartRetentionWorker(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started usage retention worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, insertTimeout)
			removed, err := s.store.Prune(pctx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				s.logger.Error("failed to prune usage records", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("pruned usage records", zap.Int64("removed", removed))
			}
		case <-ctx.Done():
			s.logger.Info("stopping usage retention worker")
			return
		}
	}
}

// Close drains buffered records and closes the store. Records arriving after
// Close are discarded.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	close(s.records)

	if started {
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("usage writer did not drain: %w", ctx.Err())
		}
	} else {
		// Writer never ran; drain synchronously so nothing recorded so
		// far is lost.
		for rec := range s.records {
			s.persist(rec)
		}
	}

	return s.store.Close()
}

// writer drains the record channel until Close closes it.
func (s *Service) writer() {
	defer s.wg.Done()

	for rec := range s.records {
		s.persist(rec)
	}
}

func (s *Service) persist(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, rec); err != nil {
		s.logger.Error("failed to write usage record",
			zap.Error(err),
			zap.String("route", rec.Route),
			zap.String("id", rec.ID))
	}
}
