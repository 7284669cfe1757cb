// internal/historian/historian.go
//
// Package historian drains the match action queue from Redis and persists the
// records in batches. A batch is written when it reaches the configured size or
// when the periodic flush job fires, whichever comes first.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink persists a batch of actions atomically.
type Sink interface {
	InsertMatchActions(ctx context.Context, recs []models.MatchAction) error
}

// popTimeout bounds each BLPop so shutdown is noticed promptly.
const popTimeout = 3 * time.Second

type Options struct {
	Queue      string
	BatchSize  int
	FlushEvery time.Duration
	// MaxPending caps the records kept while the sink fails; the oldest are dropped first.
	MaxPending int
}

// Service collects queued match actions and flushes them to a Sink.
type Service struct {
	rdb    *redis.Client
	sink   Sink
	logger *logrus.Logger
	opts   Options

	flushMu sync.Mutex // serializes sink writes
	batchMu sync.Mutex
	batch   []models.MatchAction
}

func NewService(rdb *redis.Client, sink Sink, logger *logrus.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 500 * time.Millisecond
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = 50 * opts.BatchSize
	}
	return &Service{
		rdb:    rdb,
		sink:   sink,
		logger: logger,
		opts:   opts,
		batch:  make([]models.MatchAction, 0, opts.BatchSize),
	}
}

// Run pops records until ctx is cancelled, then flushes whatever is left.
func (s *Service) Run(ctx context.Context) error {
	sched, err := s.startFlushJob(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("historian scheduler shutdown")
		}
		// ctx is already done here; the final flush gets its own deadline
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Flush(flushCtx)
	}()

	s.logger.WithField("queue", s.opts.Queue).Info("historian started")
	for {
		if ctx.Err() != nil {
			s.logger.Info("historian shutting down")
			return nil
		}
		res, err := s.rdb.BLPop(ctx, popTimeout, s.opts.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).Error("BLPop failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload
		if len(res) < 2 {
			continue
		}
		s.HandlePayload(ctx, res[1])
	}
}

// startFlushJob schedules the time-triggered flush on a gocron duration job.
func (s *Service) startFlushJob(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.opts.FlushEvery),
		gocron.NewTask(func() { s.Flush(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("scheduling flush job: %w", err)
	}
	sched.Start()
	return sched, nil
}

// HandlePayload decodes one queued record and adds it to the batch. Malformed
// payloads are logged and discarded.
func (s *Service) HandlePayload(ctx context.Context, payload string) {
	var rec models.MatchAction
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.logger.WithError(err).Warn("invalid action record")
		return
	}
	s.Add(ctx, rec)
}

// Add appends a record and flushes once the batch is full.
func (s *Service) Add(ctx context.Context, rec models.MatchAction) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	s.trimLocked()
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Pending returns the number of buffered records.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Flush writes the current batch to the sink. The batch lock is released during
// the write; on failure the records go back in front of anything added since
// and are retried on the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.batchMu.Lock()
	out := s.batch
	s.batch = make([]models.MatchAction, 0, s.opts.BatchSize)
	s.batchMu.Unlock()

	if len(out) == 0 {
		return
	}
	if err := s.sink.InsertMatchActions(ctx, out); err != nil {
		s.logger.WithError(err).WithField("count", len(out)).Error("flushing match actions")
		s.batchMu.Lock()
		s.batch = append(out, s.batch...)
		s.trimLocked()
		s.batchMu.Unlock()
		return
	}
	s.logger.WithField("count", len(out)).Debug("flushed match actions")
}

// trimLocked drops the oldest records beyond MaxPending. batchMu must be held.
func (s *Service) trimLocked() {
	over := len(s.batch) - s.opts.MaxPending
	if over <= 0 {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"dropped":     over,
		"max_pending": s.opts.MaxPending,
	}).Warn("historian backlog full, dropping oldest match actions")
	s.batch = append([]models.MatchAction(nil), s.batch[over:]...)
}
