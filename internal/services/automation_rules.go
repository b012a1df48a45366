package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntityCatalog answers which models and attributes rules may reference.
type EntityCatalog interface {
	Supports(model string) bool
	HasField(model, field string) bool
	IsDateField(model, field string) bool
}

// ActionInput 动作定义（创建/更新规则时使用）
type ActionInput struct {
	ActionType   models.ActionType      `json:"action_type" yaml:"action_type" binding:"required"`
	ActionConfig map[string]interface{} `json:"action_config" yaml:"action_config"`
	Order        *int                   `json:"order" yaml:"order"`
	DelayMinutes *int                   `json:"delay_minutes" yaml:"delay_minutes"`
}

// RuleCreateRequest 创建规则请求
type RuleCreateRequest struct {
	Name          string               `json:"name" yaml:"name" binding:"required"`
	Description   string               `json:"description" yaml:"description"`
	TriggerType   models.TriggerType   `json:"trigger_type" yaml:"trigger_type" binding:"required"`
	TriggerConfig models.TriggerConfig `json:"trigger_config" yaml:"trigger_config"`
	Conditions    []models.Condition   `json:"conditions" yaml:"conditions"`
	Status        models.RuleStatus    `json:"status" yaml:"status"`
	Priority      int                  `json:"priority" yaml:"priority"`
	Actions       []ActionInput        `json:"actions" yaml:"actions"`

	// set by migrations/seeding only
	IsSystem   bool   `json:"-" yaml:"-"`
	TemplateID string `json:"-" yaml:"-"`
}

// RuleUpdateRequest 更新规则请求；Actions 非 nil 时整体替换动作列表
type RuleUpdateRequest struct {
	Name          *string               `json:"name"`
	Description   *string               `json:"description"`
	TriggerType   *models.TriggerType   `json:"trigger_type"`
	TriggerConfig *models.TriggerConfig `json:"trigger_config"`
	Conditions    *[]models.Condition   `json:"conditions"`
	Status        *models.RuleStatus    `json:"status"`
	Priority      *int                  `json:"priority"`
	Actions       *[]ActionInput        `json:"actions"`
}

// RuleListRequest 规则列表请求
type RuleListRequest struct {
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
	Status      string `form:"status"` // ACTIVE, INACTIVE, ALL (default)
	TriggerType string `form:"trigger_type"`
	Search      string `form:"search"`
}

// RuleStore persists automation rules together with their ordered actions.
type RuleStore struct {
	db      *gorm.DB
	catalog EntityCatalog
	logger  *logrus.Logger
	now     func() time.Time
}

func NewRuleStore(db *gorm.DB, catalog EntityCatalog, logger *logrus.Logger) *RuleStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleStore{db: db, catalog: catalog, logger: logger, now: time.Now}
}

func preloadOrderedActions(db *gorm.DB) *gorm.DB {
	return db.Preload("Actions", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sort_order ASC")
	})
}

// ListRules returns a page of rules ordered by priority DESC, created_at DESC.
func (s *RuleStore) ListRules(ctx context.Context, req *RuleListRequest) ([]models.AutomationRule, int64, error) {
	if req == nil {
		req = &RuleListRequest{}
	}
	page, pageSize := normalizePage(req.Page, req.PageSize)

	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	switch status := strings.ToUpper(req.Status); status {
	case "", "ALL":
	case string(models.RuleActive), string(models.RuleInactive):
		query = query.Where("status = ?", status)
	default:
		return nil, 0, invalid("unsupported status filter %q", req.Status)
	}
	if req.TriggerType != "" {
		query = query.Where("trigger_type = ?", strings.ToUpper(req.TriggerType))
	}
	if req.Search != "" {
		term := "%" + likeEscaper.Replace(strings.ToLower(req.Search)) + "%"
		query = query.Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	var rules []models.AutomationRule
	err := preloadOrderedActions(query).
		Order("priority DESC").Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rules).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, total, nil
}

// GetRule loads a rule with its actions sorted by order.
func (s *RuleStore) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := preloadOrderedActions(s.db.WithContext(ctx)).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("automation rule %d", id)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// CreateRule validates and stores a new rule owned by ownerID.
func (s *RuleStore) CreateRule(ctx context.Context, ownerID uint, req *RuleCreateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, invalid("request required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name is required")
	}
	if err := s.validateTrigger(req.TriggerType, req.TriggerConfig); err != nil {
		return nil, err
	}
	if err := ValidateConditions(req.Conditions); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = models.RuleActive
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	actions, err := buildActions(req.Actions)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rule := &models.AutomationRule{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		TriggerConfig: datatypes.NewJSONType(req.TriggerConfig),
		Conditions:    conditionsColumn(req.Conditions),
		Status:        status,
		Priority:      req.Priority,
		CreatedBy:     ownerID,
		IsSystem:      req.IsSystem,
		TemplateID:    req.TemplateID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Actions:       actions,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	s.logger.Infof("automation: created rule %d (%s, %s) by user %d", rule.ID, rule.Name, rule.TriggerType, ownerID)
	return s.GetRule(ctx, rule.ID)
}

// UpdateRule applies a partial update. When Actions is set the whole action set is replaced in the same transaction.
func (s *RuleStore) UpdateRule(ctx context.Context, id uint, req *RuleUpdateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, invalid("request required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AutomationRule
		if err := tx.First(&rule, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("automation rule %d", id)
			}
			return err
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return invalid("name is required")
			}
			updates["name"] = name
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.TriggerType != nil || req.TriggerConfig != nil {
			triggerType, cfg := rule.TriggerType, rule.Config()
			if req.TriggerType != nil {
				triggerType = *req.TriggerType
			}
			if req.TriggerConfig != nil {
				cfg = *req.TriggerConfig
			}
			if err := s.validateTrigger(triggerType, cfg); err != nil {
				return err
			}
			updates["trigger_type"] = triggerType
			updates["trigger_config"] = datatypes.NewJSONType(cfg)
		}
		if req.Conditions != nil {
			if err := ValidateConditions(*req.Conditions); err != nil {
				return err
			}
			updates["conditions"] = conditionsColumn(*req.Conditions)
		}
		if req.Status != nil {
			if err := validateStatus(*req.Status); err != nil {
				return err
			}
			updates["status"] = *req.Status
		}
		if req.Priority != nil {
			updates["priority"] = *req.Priority
		}

		var actions []models.AutomationAction
		if req.Actions != nil {
			built, err := buildActions(*req.Actions)
			if err != nil {
				return err
			}
			actions = built
		}

		updates["updated_at"] = s.now()
		if err := tx.Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}

		if req.Actions != nil {
			if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationAction{}).Error; err != nil {
				return fmt.Errorf("failed to remove actions: %w", err)
			}
			for i := range actions {
				actions[i].RuleID = id
			}
			if len(actions) > 0 {
				if err := tx.Create(&actions).Error; err != nil {
					return fmt.Errorf("failed to store actions: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("automation: updated rule %d", id)
	return s.GetRule(ctx, id)
}

// DeleteRule removes a rule, its actions and its queued delayed actions. System rules cannot be deleted.
// Execution records are kept.
func (s *RuleStore) DeleteRule(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AutomationRule
		if err := tx.First(&rule, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("automation rule %d", id)
			}
			return err
		}
		if rule.IsSystem {
			return invalid("system rule %d cannot be deleted", id)
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationPendingAction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationAction{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.AutomationRule{}, id).Error; err != nil {
			return err
		}
		s.logger.Infof("automation: deleted rule %d (%s)", id, rule.Name)
		return nil
	})
}

// ToggleRule flips ACTIVE and INACTIVE.
func (s *RuleStore) ToggleRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	next := models.RuleActive
	if rule.Status == models.RuleActive {
		next = models.RuleInactive
	}
	err = s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": next, "updated_at": s.now()}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to toggle rule: %w", err)
	}
	return s.GetRule(ctx, id)
}

func (s *RuleStore) validateTrigger(t models.TriggerType, cfg models.TriggerConfig) error {
	if err := cfg.CheckShape(t); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if s.catalog == nil {
		return nil
	}
	if !s.catalog.Supports(cfg.Model) {
		return invalid("unsupported trigger model %q", cfg.Model)
	}
	switch t {
	case models.TriggerStatusChange:
		if !s.catalog.HasField(cfg.Model, cfg.Field) {
			return invalid("%s has no attribute %q", cfg.Model, cfg.Field)
		}
	case models.TriggerDateReached:
		if !s.catalog.IsDateField(cfg.Model, cfg.Field) {
			return invalid("%s.%s is not a date attribute", cfg.Model, cfg.Field)
		}
	case models.TriggerItemCreated, models.TriggerItemUpdated:
	}
	return nil
}

func validateStatus(status models.RuleStatus) error {
	switch status {
	case models.RuleActive, models.RuleInactive:
		return nil
	default:
		return invalid("unsupported rule status %q", status)
	}
}

// buildActions validates action inputs; a missing order defaults to the input index.
func buildActions(inputs []ActionInput) ([]models.AutomationAction, error) {
	actions := make([]models.AutomationAction, 0, len(inputs))
	seen := make(map[int]bool, len(inputs))
	for i, in := range inputs {
		raw, err := json.Marshal(in.ActionConfig)
		if err != nil {
			return nil, invalid("actions[%d].action_config: %v", i, err)
		}
		if in.ActionConfig == nil {
			raw = []byte("{}")
		}
		if _, err := models.DecodeActionConfig(in.ActionType, raw); err != nil {
			return nil, fmt.Errorf("%w: actions[%d]: %w", ErrValidation, i, err)
		}
		order := i
		if in.Order != nil {
			order = *in.Order
		}
		if seen[order] {
			return nil, invalid("actions[%d]: duplicate order %d", i, order)
		}
		seen[order] = true
		if in.DelayMinutes != nil && *in.DelayMinutes < 0 {
			return nil, invalid("actions[%d]: delay_minutes must be >= 0", i)
		}
		actions = append(actions, models.AutomationAction{
			ActionType:   in.ActionType,
			ActionConfig: datatypes.JSON(raw),
			Order:        order,
			DelayMinutes: in.DelayMinutes,
		})
	}
	return actions, nil
}

func conditionsColumn(conditions []models.Condition) datatypes.JSONSlice[models.Condition] {
	if conditions == nil {
		return datatypes.JSONSlice[models.Condition]{}
	}
	return datatypes.JSONSlice[models.Condition](conditions)
}

// likeEscaper makes user input literal inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
