package services

import (
	"context"
	"fmt"
	"time"

	"labcrm/internal/metrics"
	"labcrm/internal/models"
	"labcrm/pkg/distlock"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ScanResult summarizes one date scan pass.
type ScanResult struct {
	Skipped   bool      `json:"skipped"` // lock held elsewhere
	Day       time.Time `json:"day"`
	Rules     int       `json:"rules"`
	Matched   int       `json:"matched"`
	Executed  int       `json:"executed"`
	Failed    int       `json:"failed"`
	Filtered  int       `json:"filtered"` // entities whose conditions did not hold
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// DateTriggerScanner fires DATE_REACHED rules for entities whose date field is days_before days ahead.
type DateTriggerScanner struct {
	svc      *AutomationService
	lock     distlock.DistLock
	location *time.Location
	timeout  time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewDateTriggerScanner builds a scanner. lock may be nil for single-instance deployments; loc defaults to UTC.
func NewDateTriggerScanner(svc *AutomationService, lock distlock.DistLock, loc *time.Location, logger *logrus.Logger) *DateTriggerScanner {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DateTriggerScanner{
		svc:      svc,
		lock:     lock,
		location: loc,
		logger:   logger,
		now:      svc.now,
	}
}

// SetTimeout bounds a single pass; zero disables the bound.
func (sc *DateTriggerScanner) SetTimeout(d time.Duration) { sc.timeout = d }

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Scan runs one pass over every ACTIVE DATE_REACHED rule. Failures of individual entities are
// counted and the pass continues.
func (sc *DateTriggerScanner) Scan(ctx context.Context) (*ScanResult, error) {
	ctx, span := sc.svc.tracer.Start(ctx, "automation.scan")
	defer span.End()

	if sc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.timeout)
		defer cancel()
	}

	started := sc.now()
	today := StartOfDay(started, sc.location)
	result := &ScanResult{Day: today, StartedAt: started}

	if sc.lock != nil {
		acquired, err := sc.lock.Acquire(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("acquire scan lock: %w", err)
		}
		if !acquired {
			metrics.IncScanSkipped()
			sc.logger.Info("automation: date scan skipped, another instance holds the lock")
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := sc.lock.Release(context.Background()); err != nil {
				sc.logger.Warnf("automation: release scan lock: %v", err)
			}
		}()
		if ext, ok := sc.lock.(distlock.Extender); ok {
			var cancel context.CancelCauseFunc
			ctx, cancel = context.WithCancelCause(ctx)
			defer cancel(nil)
			go distlock.KeepAlive(ctx, ext, func(err error) {
				sc.logger.Errorf("automation: date scan stopped: %v", err)
				cancel(err)
			})
		}
	}

	var rules []models.AutomationRule
	if err := sc.svc.db.WithContext(ctx).
		Where("trigger_type = ? AND status = ?", models.TriggerDateReached, models.RuleActive).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load date rules: %w", err)
	}
	result.Rules = len(rules)

	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		sc.scanRule(ctx, &rule, today, result)
	}
	if ctx.Err() != nil {
		err := context.Cause(ctx)
		span.RecordError(err)
		return result, fmt.Errorf("date scan interrupted: %w", err)
	}

	result.Duration = sc.now().Sub(started).String()
	metrics.IncScanPass(result.Matched)
	span.SetAttributes(
		attribute.Int("automation.scan.rules", result.Rules),
		attribute.Int("automation.scan.matched", result.Matched),
		attribute.Int("automation.scan.executed", result.Executed),
		attribute.Int("automation.scan.failed", result.Failed),
	)
	sc.logger.Infof("automation: date scan for %s done: rules=%d matched=%d executed=%d filtered=%d failed=%d",
		today.Format("2006-01-02"), result.Rules, result.Matched, result.Executed, result.Filtered, result.Failed)
	return result, nil
}

func (sc *DateTriggerScanner) scanRule(ctx context.Context, rule *models.AutomationRule, today time.Time, result *ScanResult) {
	cfg := rule.Config()
	target := today.AddDate(0, 0, cfg.DaysBefore)

	ids, err := sc.svc.entities.FindIDsByDate(ctx, cfg.Model, cfg.Field, target)
	if err != nil {
		result.Failed++
		sc.logger.Errorf("automation: date rule %d (%s.%s): %v", rule.ID, cfg.Model, cfg.Field, err)
		return
	}
	result.Matched += len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		ok, err := sc.svc.conditions.Check(ctx, rule.Conditions, cfg.Model, id)
		if err != nil {
			result.Failed++
			sc.logger.Errorf("automation: date rule %d conditions on %s %d: %v", rule.ID, cfg.Model, id, err)
			continue
		}
		if !ok {
			result.Filtered++
			continue
		}
		if _, err := sc.svc.Execute(ctx, rule.ID, cfg.Model, id, nil); err != nil {
			result.Failed++
			sc.logger.Warnf("automation: date rule %d on %s %d: %v", rule.ID, cfg.Model, id, err)
			continue
		}
		result.Executed++
	}
}

// Start runs a pass immediately and then every interval until ctx is cancelled.
func (sc *DateTriggerScanner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sc.logger.Infof("automation: date scanner started (interval=%s, tz=%s)", interval, sc.location)
	sc.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("automation: date scanner stopped")
			return
		case <-ticker.C:
			sc.runOnce(ctx)
		}
	}
}

func (sc *DateTriggerScanner) runOnce(ctx context.Context) {
	if _, err := sc.Scan(ctx); err != nil {
		sc.logger.Errorf("automation: date scan failed: %v", err)
	}
}
