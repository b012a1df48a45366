package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TriggerType is the event class that starts a rule evaluation.
type TriggerType string

const (
	TriggerStatusChange TriggerType = "STATUS_CHANGE"
	TriggerDateReached  TriggerType = "DATE_REACHED"
	TriggerItemCreated  TriggerType = "ITEM_CREATED"
	TriggerItemUpdated  TriggerType = "ITEM_UPDATED"
)

// RuleStatus 规则状态
type RuleStatus string

const (
	RuleActive   RuleStatus = "ACTIVE"
	RuleInactive RuleStatus = "INACTIVE"
)

// ActionType 动作类型
type ActionType string

const (
	ActionSendNotification ActionType = "SEND_NOTIFICATION"
	ActionUpdateStatus     ActionType = "UPDATE_STATUS"
	ActionCreateActivity   ActionType = "CREATE_ACTIVITY"
)

// ExecutionStatus 执行状态，PENDING 之后只允许一次终态转换
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
)

// PendingActionStatus 延迟动作状态
type PendingActionStatus string

const (
	PendingActionPending   PendingActionStatus = "PENDING"
	PendingActionExecuted  PendingActionStatus = "EXECUTED"
	PendingActionFailed    PendingActionStatus = "FAILED"
	PendingActionCancelled PendingActionStatus = "CANCELLED"
)

// Condition operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
)

// Recipient types for SEND_NOTIFICATION.
const (
	RecipientOwner    = "owner"
	RecipientSpecific = "specific"
	RecipientRole     = "role"
)

var ErrInvalidConfig = errors.New("invalid config")

// TriggerConfig 触发器配置。Field 仅用于 STATUS_CHANGE / DATE_REACHED，DaysBefore 仅用于 DATE_REACHED。
type TriggerConfig struct {
	Model      string `json:"model" yaml:"model"`
	Field      string `json:"field,omitempty" yaml:"field,omitempty"`
	DaysBefore int    `json:"days_before,omitempty" yaml:"days_before,omitempty"`
}

// CheckShape validates the config fields required by the trigger type.
// Model/field existence is checked by the caller that knows the entity catalog.
func (c TriggerConfig) CheckShape(t TriggerType) error {
	if c.Model == "" {
		return fmt.Errorf("%w: trigger_config.model is required", ErrInvalidConfig)
	}
	switch t {
	case TriggerStatusChange:
		if c.Field == "" {
			return fmt.Errorf("%w: trigger_config.field is required for %s", ErrInvalidConfig, t)
		}
		if c.DaysBefore != 0 {
			return fmt.Errorf("%w: trigger_config.days_before is only valid for %s", ErrInvalidConfig, TriggerDateReached)
		}
	case TriggerDateReached:
		if c.Field == "" {
			return fmt.Errorf("%w: trigger_config.field is required for %s", ErrInvalidConfig, t)
		}
		if c.DaysBefore < 0 {
			return fmt.Errorf("%w: trigger_config.days_before must be >= 0", ErrInvalidConfig)
		}
	case TriggerItemCreated, TriggerItemUpdated:
		if c.Field != "" || c.DaysBefore != 0 {
			return fmt.Errorf("%w: %s only accepts trigger_config.model", ErrInvalidConfig, t)
		}
	default:
		return fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidConfig, t)
	}
	return nil
}

// Condition is a single field/operator/value test. Value is a string, number or (for "in") an array.
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// ActionConfig is the closed set of action configurations, one per ActionType.
type ActionConfig interface {
	ActionType() ActionType
	validate() error
}

// NotificationActionConfig SEND_NOTIFICATION 配置
type NotificationActionConfig struct {
	Title         string `json:"title"`
	Message       string `json:"message"`
	Link          string `json:"link,omitempty"`
	RecipientType string `json:"recipient_type"`
	RecipientIDs  []uint `json:"recipient_ids,omitempty"`
	Role          string `json:"role,omitempty"`
}

func (NotificationActionConfig) ActionType() ActionType { return ActionSendNotification }

func (c NotificationActionConfig) validate() error {
	if c.Title == "" && c.Message == "" {
		return fmt.Errorf("%w: notification needs a title or message", ErrInvalidConfig)
	}
	switch c.RecipientType {
	case RecipientOwner:
	case RecipientSpecific:
		if len(c.RecipientIDs) == 0 {
			return fmt.Errorf("%w: recipient_ids required for specific recipients", ErrInvalidConfig)
		}
	case RecipientRole:
		if c.Role == "" {
			return fmt.Errorf("%w: role required for role recipients", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported recipient_type %q", ErrInvalidConfig, c.RecipientType)
	}
	return nil
}

// StatusActionConfig UPDATE_STATUS 配置，Field 缺省为 status
type StatusActionConfig struct {
	Field string      `json:"field,omitempty"`
	Value interface{} `json:"value"`
}

func (StatusActionConfig) ActionType() ActionType { return ActionUpdateStatus }

func (c StatusActionConfig) validate() error {
	if c.Value == nil {
		return fmt.Errorf("%w: value is required", ErrInvalidConfig)
	}
	return nil
}

// TargetField returns the attribute written by the action.
func (c StatusActionConfig) TargetField() string {
	if c.Field == "" {
		return "status"
	}
	return c.Field
}

// ActivityActionConfig CREATE_ACTIVITY 配置
type ActivityActionConfig struct {
	Subject      string `json:"subject"`
	Content      string `json:"content,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
}

func (ActivityActionConfig) ActionType() ActionType { return ActionCreateActivity }

func (c ActivityActionConfig) validate() error {
	if c.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	return nil
}

// DecodeActionConfig parses and validates the raw config of the given action type.
func DecodeActionConfig(t ActionType, raw []byte) (ActionConfig, error) {
	var cfg ActionConfig
	switch t {
	case ActionSendNotification:
		var c NotificationActionConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	case ActionUpdateStatus:
		var c StatusActionConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	case ActionCreateActivity:
		var c ActivityActionConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	default:
		return nil, fmt.Errorf("%w: unsupported action type %q", ErrInvalidConfig, t)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AutomationRule 自动化规则
type AutomationRule struct {
	ID             uint                              `gorm:"primaryKey" json:"id"`
	Name           string                            `gorm:"not null" json:"name"`
	Description    string                            `gorm:"type:text" json:"description,omitempty"`
	TriggerType    TriggerType                       `gorm:"index;not null" json:"trigger_type"`
	TriggerConfig  datatypes.JSONType[TriggerConfig] `json:"trigger_config"`
	Conditions     datatypes.JSONSlice[Condition]    `json:"conditions"`
	Status         RuleStatus                        `gorm:"index;not null" json:"status"`
	Priority       int                               `gorm:"index;default:0" json:"priority"`
	ExecutionCount int64                             `gorm:"default:0" json:"execution_count"`
	LastExecutedAt *time.Time                        `json:"last_executed_at"`
	LastError      *string                           `gorm:"type:text" json:"last_error"`
	CreatedBy      uint                              `gorm:"index" json:"created_by"`
	IsSystem       bool                              `gorm:"default:false" json:"is_system"`
	TemplateID     string                            `gorm:"index" json:"template_id,omitempty"`
	CreatedAt      time.Time                         `json:"created_at"`
	UpdatedAt      time.Time                         `json:"updated_at"`

	Actions []AutomationAction `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"actions"`
}

// Config returns the decoded trigger configuration.
func (r *AutomationRule) Config() TriggerConfig {
	return r.TriggerConfig.Data()
}

// AutomationAction 规则下的有序动作
type AutomationAction struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	RuleID       uint           `gorm:"not null;uniqueIndex:idx_rule_action_order" json:"rule_id"`
	ActionType   ActionType     `gorm:"not null" json:"action_type"`
	ActionConfig datatypes.JSON `json:"action_config"`
	Order        int            `gorm:"column:sort_order;not null;uniqueIndex:idx_rule_action_order" json:"order"`
	DelayMinutes *int           `json:"delay_minutes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Config decodes the action configuration for its action type.
func (a *AutomationAction) Config() (ActionConfig, error) {
	return DecodeActionConfig(a.ActionType, a.ActionConfig)
}

// ActionResult is the per-action outcome stored on a successful execution.
type ActionResult struct {
	ActionID   uint       `json:"action_id"`
	ActionType ActionType `json:"action_type"`
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
}

// AutomationExecution 单次规则触发的执行记录
type AutomationExecution struct {
	ID          uint                              `gorm:"primaryKey" json:"id"`
	RuleID      uint                              `gorm:"index" json:"rule_id"`
	TargetModel string                            `gorm:"index:idx_execution_target" json:"target_model"`
	TargetID    uint                              `gorm:"index:idx_execution_target" json:"target_id"`
	TriggerData datatypes.JSON                    `json:"trigger_data"`
	Status      ExecutionStatus                   `gorm:"index;not null" json:"status"`
	Results     datatypes.JSONSlice[ActionResult] `json:"results,omitempty"`
	Error       *string                           `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time                         `json:"started_at"`
	CompletedAt *time.Time                        `json:"completed_at"`
}

// AutomationPendingAction 延迟执行的动作（delay_minutes > 0）
type AutomationPendingAction struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	ExecutionID uint                `gorm:"index" json:"execution_id"`
	RuleID      uint                `gorm:"index" json:"rule_id"`
	ActionID    uint                `gorm:"index" json:"action_id"`
	TargetModel string              `json:"target_model"`
	TargetID    uint                `json:"target_id"`
	TriggerData datatypes.JSON      `json:"trigger_data"`
	ExecuteAt   time.Time           `gorm:"index" json:"execute_at"`
	Status      PendingActionStatus `gorm:"index;not null" json:"status"`
	Error       *string             `gorm:"type:text" json:"error,omitempty"`
	ExecutedAt  *time.Time          `json:"executed_at"`
	CreatedAt   time.Time           `json:"created_at"`
}

// JSONPayload encodes an opaque payload; nil becomes the JSON literal null so the column is never SQL NULL.
func JSONPayload(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("null"), nil
	}
	if raw, ok := v.(datatypes.JSON); ok && len(raw) > 0 {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
