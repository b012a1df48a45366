package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionListRequest 执行记录列表请求
type ExecutionListRequest struct {
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
	RuleID      uint   `form:"rule_id"`
	Status      string `form:"status"`
	TargetModel string `form:"target_model"`
	TargetID    uint   `form:"target_id"`
}

// ExecutionLog records rule runs. Each execution starts PENDING and transitions exactly once.
type ExecutionLog struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewExecutionLog(db *gorm.DB, logger *logrus.Logger) *ExecutionLog {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionLog{db: db, logger: logger, now: time.Now}
}

// Begin inserts a PENDING execution.
func (l *ExecutionLog) Begin(ctx context.Context, ruleID uint, model string, targetID uint, triggerData datatypes.JSON) (*models.AutomationExecution, error) {
	if len(triggerData) == 0 {
		triggerData = datatypes.JSON("null")
	}
	exec := &models.AutomationExecution{
		RuleID:      ruleID,
		TargetModel: model,
		TargetID:    targetID,
		TriggerData: triggerData,
		Status:      models.ExecutionPending,
		StartedAt:   l.now(),
	}
	if err := l.db.WithContext(ctx).Create(exec).Error; err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}
	return exec, nil
}

// MarkSkipped closes an execution whose conditions did not hold. Rule statistics are untouched.
func (l *ExecutionLog) MarkSkipped(ctx context.Context, exec *models.AutomationExecution) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.complete(tx, exec, models.ExecutionSkipped, nil, nil)
	})
}

// MarkSucceeded stores the per-action results and bumps the rule's statistics.
func (l *ExecutionLog) MarkSucceeded(ctx context.Context, exec *models.AutomationExecution, results []models.ActionResult) error {
	if results == nil {
		results = []models.ActionResult{}
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.complete(tx, exec, models.ExecutionSuccess, results, nil); err != nil {
			return err
		}
		return tx.Model(&models.AutomationRule{}).Where("id = ?", exec.RuleID).
			UpdateColumns(map[string]interface{}{
				"execution_count":  gorm.Expr("execution_count + ?", 1),
				"last_executed_at": *exec.CompletedAt,
				"last_error":       nil,
			}).Error
	})
}

// MarkFailed stores the failure message on the execution and on the rule's last_error.
func (l *ExecutionLog) MarkFailed(ctx context.Context, exec *models.AutomationExecution, message string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.complete(tx, exec, models.ExecutionFailed, nil, &message); err != nil {
			return err
		}
		return recordRuleError(tx, exec.RuleID, message)
	})
}

func recordRuleError(tx *gorm.DB, ruleID uint, message string) error {
	return tx.Model(&models.AutomationRule{}).Where("id = ?", ruleID).
		UpdateColumn("last_error", message).Error
}

func (l *ExecutionLog) complete(tx *gorm.DB, exec *models.AutomationExecution, status models.ExecutionStatus, results []models.ActionResult, message *string) error {
	completedAt := l.now()
	if completedAt.Before(exec.StartedAt) {
		completedAt = exec.StartedAt
	}
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": completedAt,
	}
	if results != nil {
		updates["results"] = datatypes.JSONSlice[models.ActionResult](results)
	}
	if message != nil {
		updates["error"] = *message
	}
	result := tx.Model(&models.AutomationExecution{}).
		Where("id = ? AND status = ?", exec.ID, models.ExecutionPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to complete execution %d: %w", exec.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("execution %d is no longer pending", exec.ID)
	}

	exec.Status = status
	exec.CompletedAt = &completedAt
	if results != nil {
		exec.Results = results
	}
	if message != nil {
		msg := *message
		exec.Error = &msg
	}
	return nil
}

// ListExecutions returns executions newest first.
func (l *ExecutionLog) ListExecutions(ctx context.Context, req *ExecutionListRequest) ([]models.AutomationExecution, int64, error) {
	if req == nil {
		req = &ExecutionListRequest{}
	}
	page, pageSize := normalizePage(req.Page, req.PageSize)

	query := l.db.WithContext(ctx).Model(&models.AutomationExecution{})
	if req.RuleID != 0 {
		query = query.Where("rule_id = ?", req.RuleID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(req.Status))
	}
	if req.TargetModel != "" {
		query = query.Where("target_model = ?", req.TargetModel)
	}
	if req.TargetID != 0 {
		query = query.Where("target_id = ?", req.TargetID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}
	var executions []models.AutomationExecution
	err := query.Order("started_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&executions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, total, nil
}

// GetExecution loads a single execution.
func (l *ExecutionLog) GetExecution(ctx context.Context, id uint) (*models.AutomationExecution, error) {
	var exec models.AutomationExecution
	if err := l.db.WithContext(ctx).First(&exec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("automation execution %d", id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &exec, nil
}
