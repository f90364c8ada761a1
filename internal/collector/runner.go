package collector

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/storage"
)

// Runner acquires price observations on a fixed cadence and persists them.
// Observations come either from polling a PriceSource or from a streaming
// channel; same-millisecond duplicates reported by the store are skipped.
type Runner struct {
	source   PriceSource
	stream   <-chan *domain.PriceObservation
	store    storage.PriceObservationStore
	interval time.Duration
	logger   *log.Logger

	stored          atomic.Int64
	duplicates      atomic.Int64
	failures        atomic.Int64
	lastTimestampMs atomic.Int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	// Source is polled every Interval. Ignored when Stream is set.
	Source PriceSource
	// Stream delivers pushed observations. When set, polling is disabled.
	Stream <-chan *domain.PriceObservation
	// Store receives every observation.
	Store storage.PriceObservationStore
	// Interval between polls. Default: 60s.
	Interval time.Duration
	Logger   *log.Logger
}

// NewRunner creates a new collector runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("collector: store is required")
	}
	if opts.Source == nil && opts.Stream == nil {
		return nil, errors.New("collector: source or stream is required")
	}

	interval := opts.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:   opts.Source,
		stream:   opts.Stream,
		store:    opts.Store,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run starts continuous collection. It blocks until context is cancelled
// or the stream channel closes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("Starting collector...")

	// A nil stream channel never fires in the select below, so the poll
	// ticker drives collection. With a stream the ticker stays nil.
	var tickCh <-chan time.Time
	if r.stream == nil {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tickCh = ticker.C

		// Collect immediately so the first observation does not wait
		// a full interval.
		r.collectOnce(ctx)
		r.logger.Printf("Collector started, poll interval: %v", r.interval)
	} else {
		r.logger.Println("Collector started, consuming stream")
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Collector stopping...")
			return ctx.Err()

		case obs, ok := <-r.stream:
			if !ok {
				r.logger.Println("Price stream channel closed")
				return errors.New("price stream channel closed")
			}
			r.storeObservation(ctx, obs)

		case <-tickCh:
			r.collectOnce(ctx)
		}
	}
}

// collectOnce fetches one observation from the source and stores it.
func (r *Runner) collectOnce(ctx context.Context) {
	obs, err := r.source.FetchPrice(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failures.Add(1)
		observability.RecordCollectorError("fetch")
		r.logger.Printf("Error fetching price: %v", err)
		return
	}
	observability.RecordObservationFetched()

	r.storeObservation(ctx, obs)
}

// storeObservation persists a single observation, tolerating duplicates.
func (r *Runner) storeObservation(ctx context.Context, obs *domain.PriceObservation) {
	if err := r.store.Insert(ctx, obs); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Same-millisecond tick already persisted, not an error
			r.duplicates.Add(1)
			observability.RecordDuplicateSkipped()
			return
		}
		r.failures.Add(1)
		observability.RecordCollectorError("store")
		r.logger.Printf("Error storing observation: %v", err)
		return
	}

	r.stored.Add(1)
	r.lastTimestampMs.Store(obs.TimestampMs)
	observability.RecordObservationStored(obs.Price, obs.TimestampMs)
	r.logger.Printf("Observation stored: price=%.2f ts=%d source=%s", obs.Price, obs.TimestampMs, obs.Source)
}

// RunnerStats holds collector counters since start.
type RunnerStats struct {
	ObservationsStored int64
	DuplicatesSkipped  int64
	Failures           int64
	LastTimestampMs    int64
}

// Stats returns current runner statistics.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		ObservationsStored: r.stored.Load(),
		DuplicatesSkipped:  r.duplicates.Load(),
		Failures:           r.failures.Load(),
		LastTimestampMs:    r.lastTimestampMs.Load(),
	}
}
