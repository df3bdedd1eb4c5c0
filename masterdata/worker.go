package masterdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Worker processes queued uploads in a background goroutine. A periodic
// sweep also picks up uploads left pending (queue overflow, restart) and
// requeues uploads abandoned mid-run.
type Worker struct {
	Service       *Service
	SweepInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewWorker creates a worker for svc.
func NewWorker(svc *Service) *Worker {
	return &Worker{
		Service:       svc,
		SweepInterval: time.Minute,
	}
}

// Start begins processing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker != nil {
		return
	}
	w.ticker = time.NewTicker(w.SweepInterval)
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()

	w.Service.Log.Info("upload worker started", "sweep_interval", w.SweepInterval.String())
}

// Stop waits for the upload in flight, then returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.wg.Wait()
	w.ticker = nil
	w.Service.Log.Info("upload worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	// Resume anything a previous process left pending or processing.
	w.sweep()

	for {
		select {
		case id := <-w.Service.queue:
			w.process(id)
		case <-w.ticker.C:
			w.sweep()
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) process(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), ProcessTimeout)
	defer cancel()

	if err := w.Service.Process(ctx, id); err != nil {
		w.Service.Log.Error("upload processing failed", "upload_id", id, "error", err)
	}
}

func (w *Worker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := w.Service.RequeueStale(ctx); err != nil {
		w.Service.Log.Error("failed to requeue stale uploads", "error", err)
	}
	pending, err := w.Service.Uploads.ListUploadsByStatus(ctx, StatusPending)
	cancel()
	if err != nil {
		w.Service.Log.Error("failed to list pending uploads", "error", err)
		return
	}
	for _, u := range pending {
		select {
		case <-w.stop:
			return
		default:
		}
		w.process(u.ID)
	}
}

// =============================================================================
// CLIENT-SIDE POLLING
// =============================================================================

const (
	DefaultPollInterval = time.Second
	DefaultPollAttempts = 120
)

// ErrPollTimeout is returned when an upload is still running after the last
// attempt.
var ErrPollTimeout = errors.New("upload did not finish in time")

// WaitForUpload polls fetch until the upload reaches a terminal status.
// Zero interval or attempts use the defaults (1s x 120).
func WaitForUpload(ctx context.Context, fetch func(context.Context) (*Upload, error), interval time.Duration, maxAttempts int) (*Upload, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Upload
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		u, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		last = u
		if u.Status.Terminal() {
			return u, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
	return last, fmt.Errorf("%w after %d attempts", ErrPollTimeout, maxAttempts)
}
