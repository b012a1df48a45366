package services

import (
	"context"
	"fmt"

	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
)

// ActionOutcome is what a single action reports back to the pipeline.
type ActionOutcome struct {
	Success bool
	Message string
}

// ActionExecutor runs one automation action against a target entity.
type ActionExecutor struct {
	entities      EntityStore
	users         UserDirectory
	notifications NotificationSink
	activities    ActivitySink
	logger        *logrus.Logger
}

func NewActionExecutor(entities EntityStore, users UserDirectory, notifications NotificationSink, activities ActivitySink, logger *logrus.Logger) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{
		entities:      entities,
		users:         users,
		notifications: notifications,
		activities:    activities,
		logger:        logger,
	}
}

// Execute dispatches on the action's decoded config. A returned error aborts the rest of the run.
func (e *ActionExecutor) Execute(ctx context.Context, action *models.AutomationAction, model string, targetID uint, triggerData map[string]interface{}) (ActionOutcome, error) {
	if !isKnownActionType(action.ActionType) {
		e.logger.Warnf("automation: action %d has unknown type %s, skipping", action.ID, action.ActionType)
		return ActionOutcome{Success: true, Message: fmt.Sprintf("action type %s not implemented", action.ActionType)}, nil
	}
	cfg, err := action.Config()
	if err != nil {
		return ActionOutcome{}, err
	}

	switch c := cfg.(type) {
	case models.NotificationActionConfig:
		return e.sendNotification(ctx, c, model, targetID, triggerData)
	case models.StatusActionConfig:
		return e.updateStatus(ctx, c, model, targetID)
	case models.ActivityActionConfig:
		return e.createActivity(ctx, c, model, targetID, triggerData)
	default:
		return ActionOutcome{}, fmt.Errorf("no executor for action type %s", cfg.ActionType())
	}
}

func (e *ActionExecutor) sendNotification(ctx context.Context, c models.NotificationActionConfig, model string, targetID uint, triggerData map[string]interface{}) (ActionOutcome, error) {
	entity, err := e.entities.FindByID(ctx, model, targetID)
	if err != nil {
		return ActionOutcome{}, err
	}
	vars := MergeVariables(entity, triggerData)
	title := RenderTemplate(c.Title, vars)
	message := RenderTemplate(c.Message, vars)
	link := RenderTemplate(c.Link, vars)

	recipients, err := e.resolveRecipients(ctx, c, entity)
	if err != nil {
		return ActionOutcome{}, err
	}
	for _, userID := range recipients {
		n := &models.Notification{
			UserID:  userID,
			Title:   title,
			Message: message,
			Link:    link,
		}
		if err := e.notifications.CreateNotification(ctx, n); err != nil {
			return ActionOutcome{}, fmt.Errorf("create notification for user %d: %w", userID, err)
		}
	}
	return ActionOutcome{Success: true, Message: fmt.Sprintf("sent %d notification(s)", len(recipients))}, nil
}

func (e *ActionExecutor) resolveRecipients(ctx context.Context, c models.NotificationActionConfig, entity map[string]interface{}) ([]uint, error) {
	var ids []uint
	switch c.RecipientType {
	case models.RecipientOwner:
		if owner := ownerOf(entity); owner != 0 {
			ids = append(ids, owner)
		}
	case models.RecipientSpecific:
		ids = append(ids, c.RecipientIDs...)
	case models.RecipientRole:
		found, err := e.users.FindUsersByRole(ctx, c.Role, true)
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", c.Role, err)
		}
		ids = found
	}
	return uniqueIDs(ids), nil
}

func (e *ActionExecutor) updateStatus(ctx context.Context, c models.StatusActionConfig, model string, targetID uint) (ActionOutcome, error) {
	field := c.TargetField()
	if err := e.entities.Update(ctx, model, targetID, map[string]interface{}{field: c.Value}); err != nil {
		return ActionOutcome{}, err
	}
	return ActionOutcome{Success: true, Message: fmt.Sprintf("set %s to %s", field, stringify(normalizeValue(c.Value)))}, nil
}

func (e *ActionExecutor) createActivity(ctx context.Context, c models.ActivityActionConfig, model string, targetID uint, triggerData map[string]interface{}) (ActionOutcome, error) {
	entity, err := e.entities.FindByID(ctx, model, targetID)
	if err != nil {
		return ActionOutcome{}, err
	}
	vars := MergeVariables(entity, triggerData)
	activityType := c.ActivityType
	if activityType == "" {
		activityType = "NOTE"
	}
	activity := &models.Activity{
		EntityType:      model,
		EntityID:        targetID,
		ActivityType:    activityType,
		Subject:         RenderTemplate(c.Subject, vars),
		Content:         RenderTemplate(c.Content, vars),
		UserID:          ownerOf(entity),
		IsAutoGenerated: true,
	}
	if err := e.activities.CreateActivity(ctx, activity); err != nil {
		return ActionOutcome{}, fmt.Errorf("create activity: %w", err)
	}
	return ActionOutcome{Success: true, Message: fmt.Sprintf("created activity %d", activity.ID)}, nil
}

func isKnownActionType(t models.ActionType) bool {
	switch t {
	case models.ActionSendNotification, models.ActionUpdateStatus, models.ActionCreateActivity:
		return true
	default:
		return false
	}
}

// ownerOf returns the owning user of an entity snapshot, 0 when absent.
func ownerOf(entity map[string]interface{}) uint {
	f, ok := toNumber(normalizeValue(entity["owner_id"]))
	if !ok || f <= 0 {
		return 0
	}
	return uint(f)
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
