package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hweilin/moneybook/internal/emailauth"
	"github.com/hweilin/moneybook/pkg/logger"
)

// MisfireWindow is how far back a missed firing is still made up. A
// scan whose slot passed within the window runs once at reload; older
// misses wait for the next slot.
const MisfireWindow = time.Hour

// dailyTickSpec fires the recurring-template due check every morning
const dailyTickSpec = "0 8 * * *"

// ScanRunner executes one mailbox scan. The scheduler only decides
// when; fetching and importing live behind this interface.
type ScanRunner interface {
	RunScan(ctx context.Context, config *emailauth.ScanConfig) error
}

// DueNotifier surfaces pending recurring occurrences to the user.
// Nothing is posted; approval stays manual.
type DueNotifier interface {
	NotifyDue(ctx context.Context) error
}

// Scheduler drives periodic work off a cron dispatcher. One goroutine
// per firing; a per-config lock keeps overlapping firings of the same
// config from racing.
type Scheduler struct {
	cron     *cron.Cron
	configs  emailauth.Repository
	runner   ScanRunner
	notifier DueNotifier
	log      *logger.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
	running map[uuid.UUID]bool

	now func() time.Time
}

// New creates a scheduler; Start registers the jobs and begins firing
func New(configs emailauth.Repository, runner ScanRunner, notifier DueNotifier, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		configs:  configs,
		runner:   runner,
		notifier: notifier,
		log:      log,
		entries:  make(map[uuid.UUID]cron.EntryID),
		running:  make(map[uuid.UUID]bool),
		now:      time.Now,
	}
}

// Start loads the active scan configs, registers the daily tick and
// begins dispatching. Misfires within the window run immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.notifier != nil {
		if _, err := s.cron.AddFunc(dailyTickSpec, func() { s.tick(ctx) }); err != nil {
			return fmt.Errorf("failed to register daily tick: %w", err)
		}
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts dispatching and waits for in-flight jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reload re-registers every active scan config. Configs whose
// authorization is no longer CONNECTED are absent from the listing and
// drop out here. Without a runner there is nothing to register; the
// daily tick still fires.
func (s *Scheduler) Reload(ctx context.Context) error {
	if s.runner == nil {
		return nil
	}
	configs, err := s.configs.ListActiveScanConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scan configs: %w", err)
	}

	s.mu.Lock()
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[uuid.UUID]cron.EntryID, len(configs))
	s.mu.Unlock()

	now := s.now().UTC()
	for _, cfg := range configs {
		if err := s.register(ctx, cfg); err != nil {
			s.log.WithError(err).WithField("scan_config_id", cfg.ID).Error("failed to register scan config")
			continue
		}
		if missed, at := missedFiring(cfg, now); missed {
			s.log.WithField("scan_config_id", cfg.ID).Info("making up missed scan", "scheduled_at", at)
			go s.runScan(ctx, cfg.ID)
		}
	}
	return nil
}

// Register adds or replaces one config's cron entry, for configs
// created while the process runs.
func (s *Scheduler) Register(ctx context.Context, cfg *emailauth.ScanConfig) error {
	if s.runner == nil {
		return nil
	}
	s.mu.Lock()
	if id, ok := s.entries[cfg.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, cfg.ID)
	}
	s.mu.Unlock()
	return s.register(ctx, cfg)
}

// Unregister drops a config's cron entry
func (s *Scheduler) Unregister(configID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[configID]; ok {
		s.cron.Remove(id)
		delete(s.entries, configID)
	}
}

func (s *Scheduler) register(ctx context.Context, cfg *emailauth.ScanConfig) error {
	spec, err := cronSpec(cfg)
	if err != nil {
		return err
	}

	configID := cfg.ID
	entryID, err := s.cron.AddFunc(spec, func() { s.runScan(ctx, configID) })
	if err != nil {
		return fmt.Errorf("bad cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	s.entries[cfg.ID] = entryID
	s.mu.Unlock()
	return nil
}

// runScan executes one scan, skipping if the same config is already
// in flight.
func (s *Scheduler) runScan(ctx context.Context, configID uuid.UUID) {
	s.mu.Lock()
	if s.running[configID] {
		s.mu.Unlock()
		s.log.WithField("scan_config_id", configID).Warn("scan still running, skipping firing")
		return
	}
	s.running[configID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, configID)
		s.mu.Unlock()
	}()

	cfg, err := s.configs.GetScanConfig(ctx, configID)
	if err != nil {
		s.log.WithError(err).WithField("scan_config_id", configID).Error("scan config disappeared")
		return
	}
	if !cfg.IsActive {
		return
	}

	if err := s.runner.RunScan(ctx, cfg); err != nil {
		s.log.WithError(err).WithField("scan_config_id", configID).Error("scan failed")
	}
}

// tick runs the daily recurring-template due check
func (s *Scheduler) tick(ctx context.Context) {
	if err := s.notifier.NotifyDue(ctx); err != nil {
		s.log.WithError(err).Error("due notification failed")
	}
}

// cronSpec renders a config's schedule as a 5-field cron expression
func cronSpec(cfg *emailauth.ScanConfig) (string, error) {
	if cfg.Hour < 0 || cfg.Hour > 23 {
		return "", fmt.Errorf("hour %d out of range", cfg.Hour)
	}
	switch cfg.Frequency {
	case emailauth.ScanDaily:
		return fmt.Sprintf("0 %d * * *", cfg.Hour), nil
	case emailauth.ScanWeekly:
		if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
			return "", fmt.Errorf("day of week %d out of range", cfg.DayOfWeek)
		}
		return fmt.Sprintf("0 %d * * %d", cfg.Hour, cfg.DayOfWeek), nil
	}
	return "", fmt.Errorf("unknown frequency %q", cfg.Frequency)
}

// missedFiring reports whether the config's most recent slot fell
// inside the misfire window without a scan having run for it.
func missedFiring(cfg *emailauth.ScanConfig, now time.Time) (bool, time.Time) {
	last := lastSlot(cfg, now)
	if now.Sub(last) > MisfireWindow {
		return false, last
	}
	if cfg.LastScanAt != nil && !cfg.LastScanAt.Before(last) {
		return false, last
	}
	return true, last
}

// lastSlot is the most recent scheduled instant at or before now
func lastSlot(cfg *emailauth.ScanConfig, now time.Time) time.Time {
	slot := time.Date(now.Year(), now.Month(), now.Day(), cfg.Hour, 0, 0, 0, now.Location())
	if slot.After(now) {
		slot = slot.AddDate(0, 0, -1)
	}
	if cfg.Frequency == emailauth.ScanWeekly {
		for int(slot.Weekday()) != cfg.DayOfWeek {
			slot = slot.AddDate(0, 0, -1)
		}
	}
	return slot
}
