/*
scheduler.go - Scheduled commission history sync

PURPOSE:
  Periodically syncs agent and employee commission history for every
  organization that has policies, so history stays current without a
  manual POST /api/commissions/sync.

DESIGN:
  - Cron expression (robfig/cron, standard 5-field syntax)
  - One sync per organization per tick, sequential
  - A failing organization is logged and skipped; the others still run
  - Overlapping ticks are skipped while a run is still in progress

CONFIGURATION:
  - Schedule: cron expression (default: "0 2 * * *", daily at 02:00)
  - Enabled: Whether scheduler is active (SYNC_ENABLED)

USAGE:
  scheduler := NewSyncScheduler(store, engine, metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncCommissions endpoint (manual sync)
  - commission/sync.go: Engine.Sync
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/logger"
	"github.com/warp/brokerage-engine/metrics"
)

// DefaultSyncSchedule runs the sync daily at 02:00.
const DefaultSyncSchedule = "0 2 * * *"

// OrgLister enumerates organizations to sync. sqlite.Store implements it.
type OrgLister interface {
	ListOrgIDs(ctx context.Context) ([]string, error)
}

// SyncScheduler runs Engine.Sync on a cron schedule.
type SyncScheduler struct {
	Orgs     OrgLister
	Engine   *commission.Engine
	Metrics  *metrics.Metrics
	Log      logger.Logger
	Schedule string
	Enabled  bool

	// RunTimeout bounds one full run across all organizations.
	RunTimeout time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	running sync.Mutex
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(orgs OrgLister, engine *commission.Engine, m *metrics.Metrics, log logger.Logger) *SyncScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &SyncScheduler{
		Orgs:       orgs,
		Engine:     engine,
		Metrics:    m,
		Log:        log.With("component", "scheduler"),
		Schedule:   DefaultSyncSchedule,
		Enabled:    true,
		RunTimeout: 30 * time.Minute,
	}
}

// Start registers the cron job. An invalid schedule is returned as an error.
func (s *SyncScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.Schedule, s.tick); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.Log.Info("scheduler started", "schedule", s.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.Log.Info("scheduler stopped")
	}
}

func (s *SyncScheduler) tick() {
	if !s.running.TryLock() {
		s.Log.Warn("previous sync still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.RunTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce syncs every organization and returns the combined result.
func (s *SyncScheduler) RunOnce(ctx context.Context) (commission.SyncResult, error) {
	var total commission.SyncResult

	orgs, err := s.Orgs.ListOrgIDs(ctx)
	if err != nil {
		s.Log.Error("failed to list organizations", "error", err)
		return total, err
	}

	var failed int
	for _, org := range orgs {
		res, err := s.Engine.Sync(ctx, commission.ReportRequest{OrgID: org})
		if s.Metrics != nil {
			s.Metrics.RecordSync("cron", res, err)
		}
		if err != nil {
			failed++
			s.Log.Error("sync failed", "org_id", org, "error", err)
			continue
		}
		total.Policies += res.Policies
		total.AgentRows += res.AgentRows
		total.EmployeeRows += res.EmployeeRows
		s.Log.Info("sync completed", "org_id", org, "policies", res.Policies,
			"agent_rows", res.AgentRows, "employee_rows", res.EmployeeRows)
	}

	if failed > 0 {
		return total, fmt.Errorf("%d of %d organizations failed to sync", failed, len(orgs))
	}
	return total, nil
}
