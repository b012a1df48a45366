package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labcrm/internal/metrics"
	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var errRuleUnavailable = errors.New("rule is missing or inactive")

// AutomationEvent is a business event that may start rules of the matching trigger type.
type AutomationEvent struct {
	Type     models.TriggerType
	Model    string
	TargetID uint
	// Field is the changed attribute for STATUS_CHANGE events.
	Field string
	Data  interface{}
}

// PendingRunResult summarizes one pass over due delayed actions.
type PendingRunResult struct {
	Executed  int `json:"executed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// AutomationOption customizes an AutomationService.
type AutomationOption func(*automationDeps)

type automationDeps struct {
	users         UserDirectory
	notifications NotificationSink
	activities    ActivitySink
	now           func() time.Time
}

// WithNotificationSink replaces the gorm notification sink.
func WithNotificationSink(sink NotificationSink) AutomationOption {
	return func(d *automationDeps) { d.notifications = sink }
}

// WithActivitySink replaces the gorm activity sink.
func WithActivitySink(sink ActivitySink) AutomationOption {
	return func(d *automationDeps) { d.activities = sink }
}

// WithUserDirectory replaces the gorm user directory.
func WithUserDirectory(users UserDirectory) AutomationOption {
	return func(d *automationDeps) { d.users = users }
}

// WithClock sets the time source used for executions and delayed actions.
func WithClock(now func() time.Time) AutomationOption {
	return func(d *automationDeps) { d.now = now }
}

// AutomationService runs rules: it owns the execution pipeline and wires the rule store,
// execution log, condition evaluator and action executor together.
type AutomationService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	now        func() time.Time
	entities   *EntityAccessor
	rules      *RuleStore
	executions *ExecutionLog
	conditions *ConditionEvaluator
	actions    *ActionExecutor
	catalog    *TemplateCatalog
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, opts ...AutomationOption) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	deps := &automationDeps{
		users:         NewGormUserDirectory(db),
		notifications: NewGormNotificationSink(db),
		activities:    NewGormActivitySink(db),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(deps)
	}

	entities := NewEntityAccessor(db)
	rules := NewRuleStore(db, entities, logger)
	rules.now = deps.now
	executions := NewExecutionLog(db, logger)
	executions.now = deps.now

	s := &AutomationService{
		db:         db,
		logger:     logger,
		tracer:     otel.Tracer("labcrm.automation"),
		now:        deps.now,
		entities:   entities,
		rules:      rules,
		executions: executions,
		conditions: NewConditionEvaluator(entities),
		actions:    NewActionExecutor(entities, deps.users, deps.notifications, deps.activities, logger),
	}
	s.catalog = NewTemplateCatalog(rules)
	return s
}

func (s *AutomationService) Rules() *RuleStore { return s.rules }
func (s *AutomationService) Executions() *ExecutionLog { return s.executions }
func (s *AutomationService) Catalog() *TemplateCatalog { return s.catalog }

// Execute runs one rule against one target entity and returns the persisted execution.
// A failed action is persisted first and then returned as *ActionExecutionError along with the execution.
func (s *AutomationService) Execute(ctx context.Context, ruleID uint, model string, targetID uint, triggerData interface{}) (*models.AutomationExecution, error) {
	ctx, span := s.tracer.Start(ctx, "automation.execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("automation.rule_id", int64(ruleID)),
		attribute.String("automation.target_model", model),
		attribute.Int64("automation.target_id", int64(targetID)),
	)

	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rule.Status != models.RuleActive {
		return nil, notFound("active automation rule %d", ruleID)
	}
	if !s.entities.Supports(model) {
		return nil, invalid("unsupported entity model %q", model)
	}
	payload, err := models.JSONPayload(triggerData)
	if err != nil {
		return nil, invalid("trigger data: %v", err)
	}

	exec, err := s.executions.Begin(ctx, rule.ID, model, targetID, payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("automation.execution_id", int64(exec.ID)))

	ok, err := s.conditions.Check(ctx, rule.Conditions, model, targetID)
	if err != nil {
		return s.fail(ctx, span, exec, fmt.Errorf("check conditions: %w", err))
	}
	if !ok {
		if err := s.executions.MarkSkipped(ctx, exec); err != nil {
			span.RecordError(err)
			return exec, err
		}
		metrics.IncExecution(string(models.ExecutionSkipped))
		s.logger.Debugf("automation: rule %d skipped for %s %d", rule.ID, model, targetID)
		return exec, nil
	}

	vars := triggerVariables(payload)
	results := make([]models.ActionResult, 0, len(rule.Actions))
	for i := range rule.Actions {
		action := &rule.Actions[i]
		var outcome ActionOutcome
		if action.DelayMinutes != nil && *action.DelayMinutes > 0 {
			outcome, err = s.schedule(ctx, exec, action)
		} else {
			outcome, err = s.actions.Execute(ctx, action, model, targetID, vars)
		}
		if err != nil {
			return s.fail(ctx, span, exec, &ActionExecutionError{
				ExecutionID: exec.ID,
				ActionID:    action.ID,
				ActionType:  action.ActionType,
				Err:         err,
			})
		}
		results = append(results, models.ActionResult{
			ActionID:   action.ID,
			ActionType: action.ActionType,
			Success:    outcome.Success,
			Message:    outcome.Message,
		})
	}

	if err := s.executions.MarkSucceeded(ctx, exec, results); err != nil {
		span.RecordError(err)
		return exec, err
	}
	metrics.IncExecution(string(models.ExecutionSuccess))
	span.SetAttributes(attribute.Int("automation.actions", len(results)))
	s.logger.Infof("automation: rule %d (%s) executed on %s %d, %d action(s)", rule.ID, rule.Name, model, targetID, len(results))
	return exec, nil
}

// fail persists a FAILED execution and hands cause back to the caller.
func (s *AutomationService) fail(ctx context.Context, span trace.Span, exec *models.AutomationExecution, cause error) (*models.AutomationExecution, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if err := s.executions.MarkFailed(ctx, exec, cause.Error()); err != nil {
		s.logger.Errorf("automation: failed to persist failure of execution %d: %v", exec.ID, err)
	}
	metrics.IncExecution(string(models.ExecutionFailed))
	s.logger.Warnf("automation: rule %d failed on %s %d: %v", exec.RuleID, exec.TargetModel, exec.TargetID, cause)
	return exec, cause
}

func (s *AutomationService) schedule(ctx context.Context, exec *models.AutomationExecution, action *models.AutomationAction) (ActionOutcome, error) {
	executeAt := s.now().Add(time.Duration(*action.DelayMinutes) * time.Minute)
	pending := &models.AutomationPendingAction{
		ExecutionID: exec.ID,
		RuleID:      exec.RuleID,
		ActionID:    action.ID,
		TargetModel: exec.TargetModel,
		TargetID:    exec.TargetID,
		TriggerData: exec.TriggerData,
		ExecuteAt:   executeAt,
		Status:      models.PendingActionPending,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(pending).Error; err != nil {
		return ActionOutcome{}, fmt.Errorf("schedule delayed action: %w", err)
	}
	metrics.IncDelayedQueued()
	return ActionOutcome{Success: true, Message: "scheduled for " + executeAt.UTC().Format(time.RFC3339)}, nil
}

// triggerVariables exposes an object payload to templates; other payloads contribute nothing.
func triggerVariables(payload []byte) map[string]interface{} {
	vars := map[string]interface{}{}
	if len(payload) == 0 {
		return vars
	}
	if err := json.Unmarshal(payload, &vars); err != nil || vars == nil {
		return map[string]interface{}{}
	}
	return vars
}

// HandleEvent runs every ACTIVE rule subscribed to the event, highest priority first.
// Rule failures are logged and never returned: automation must not block the business operation.
func (s *AutomationService) HandleEvent(ctx context.Context, evt AutomationEvent) []*models.AutomationExecution {
	if s.db == nil {
		return nil
	}
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("trigger_type = ? AND status = ?", evt.Type, models.RuleActive).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error; err != nil {
		s.logger.Warnf("automation: load rules for %s failed: %v", evt.Type, err)
		return nil
	}

	var executions []*models.AutomationExecution
	for _, rule := range rules {
		if !matchesEvent(rule.Config(), evt) {
			continue
		}
		exec, err := s.Execute(ctx, rule.ID, evt.Model, evt.TargetID, evt.Data)
		if err != nil {
			s.logger.Warnf("automation: rule %d on %s %s %d: %v", rule.ID, evt.Type, evt.Model, evt.TargetID, err)
		}
		if exec != nil {
			executions = append(executions, exec)
		}
	}
	return executions
}

func matchesEvent(cfg models.TriggerConfig, evt AutomationEvent) bool {
	if cfg.Model != evt.Model {
		return false
	}
	switch evt.Type {
	case models.TriggerStatusChange:
		return cfg.Field == evt.Field
	case models.TriggerDateReached, models.TriggerItemCreated, models.TriggerItemUpdated:
		return true
	default:
		return false
	}
}

// RunDueActions executes delayed actions whose time has come. Actions of deleted or inactive rules,
// or whose action row is gone, are cancelled.
func (s *AutomationService) RunDueActions(ctx context.Context, limit int) (*PendingRunResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.run_due_actions")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	var due []models.AutomationPendingAction
	if err := s.db.WithContext(ctx).
		Where("status = ? AND execute_at <= ?", models.PendingActionPending, s.now()).
		Order("execute_at ASC").Order("id ASC").
		Limit(limit).
		Find(&due).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load pending actions: %w", err)
	}

	result := &PendingRunResult{}
	for i := range due {
		pending := &due[i]
		action, err := s.pendingTarget(ctx, pending)
		if err != nil {
			if errors.Is(err, errRuleUnavailable) {
				if s.settlePending(ctx, pending, models.PendingActionCancelled, err.Error()) {
					result.Cancelled++
				}
				continue
			}
			s.logger.Errorf("automation: load pending action %d: %v", pending.ID, err)
			continue
		}
		if !s.settlePending(ctx, pending, models.PendingActionExecuted, "") {
			continue
		}
		metrics.IncDelayedRun()

		_, err = s.actions.Execute(ctx, action, pending.TargetModel, pending.TargetID, triggerVariables(pending.TriggerData))
		if err != nil {
			result.Failed++
			msg := err.Error()
			s.logger.Warnf("automation: delayed action %d of rule %d failed: %v", action.ID, pending.RuleID, err)
			txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Model(&models.AutomationPendingAction{}).Where("id = ?", pending.ID).
					Updates(map[string]interface{}{"status": models.PendingActionFailed, "error": msg}).Error; err != nil {
					return err
				}
				return recordRuleError(tx, pending.RuleID, msg)
			})
			if txErr != nil {
				s.logger.Errorf("automation: record failure of pending action %d: %v", pending.ID, txErr)
			}
			continue
		}
		result.Executed++
	}

	span.SetAttributes(
		attribute.Int("automation.pending.executed", result.Executed),
		attribute.Int("automation.pending.failed", result.Failed),
		attribute.Int("automation.pending.cancelled", result.Cancelled),
	)
	if len(due) > 0 {
		s.logger.Infof("automation: delayed actions executed=%d failed=%d cancelled=%d", result.Executed, result.Failed, result.Cancelled)
	}
	return result, nil
}

func (s *AutomationService) pendingTarget(ctx context.Context, pending *models.AutomationPendingAction) (*models.AutomationAction, error) {
	rule, err := s.rules.GetRule(ctx, pending.RuleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errRuleUnavailable
		}
		return nil, err
	}
	if rule.Status != models.RuleActive {
		return nil, errRuleUnavailable
	}
	for i := range rule.Actions {
		if rule.Actions[i].ID == pending.ActionID {
			return &rule.Actions[i], nil
		}
	}
	return nil, errRuleUnavailable
}

// settlePending moves a pending row out of PENDING; false means another worker got there first.
func (s *AutomationService) settlePending(ctx context.Context, pending *models.AutomationPendingAction, status models.PendingActionStatus, message string) bool {
	now := s.now()
	updates := map[string]interface{}{"status": status, "executed_at": now}
	if message != "" {
		updates["error"] = message
	}
	res := s.db.WithContext(ctx).Model(&models.AutomationPendingAction{}).
		Where("id = ? AND status = ?", pending.ID, models.PendingActionPending).
		Updates(updates)
	if res.Error != nil {
		s.logger.Errorf("automation: update pending action %d: %v", pending.ID, res.Error)
		return false
	}
	return res.RowsAffected == 1
}

// StartPendingActionWorker polls for due delayed actions until ctx is cancelled.
func (s *AutomationService) StartPendingActionWorker(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("automation: delayed action worker started (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("automation: delayed action worker stopped")
			return
		case <-ticker.C:
			if _, err := s.RunDueActions(ctx, batch); err != nil {
				s.logger.Errorf("automation: delayed action pass failed: %v", err)
			}
		}
	}
}
