package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"index;default:'sales'" json:"role"` // admin, sales, lab_manager, finance
	Status    string         `gorm:"default:'active'" json:"status"`    // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 客户
type Customer struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"not null" json:"name"`
	Industry      string         `json:"industry"`
	Email         string         `json:"email"`
	Phone         string         `json:"phone"`
	Status        string         `gorm:"index;default:'ACTIVE'" json:"status"` // PROSPECT, ACTIVE, DORMANT
	OwnerID       uint           `gorm:"index" json:"owner_id"`
	LastContactAt *time.Time     `json:"last_contact_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// 线索
type Lead struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Company        string         `gorm:"not null" json:"company"`
	ContactName    string         `json:"contact_name"`
	Email          string         `json:"email"`
	Source         string         `json:"source"`                           // web, referral, trade_fair
	Status         string         `gorm:"index;default:'NEW'" json:"status"` // NEW, CONTACTED, QUALIFIED, WON, LOST
	EstimatedValue float64        `json:"estimated_value"`
	OwnerID        uint           `gorm:"index" json:"owner_id"`
	NextFollowUpAt *time.Time     `json:"next_follow_up_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// 报价单
type Quotation struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Number      string         `gorm:"uniqueIndex" json:"number"`
	Title       string         `json:"title"`
	CustomerID  uint           `gorm:"index" json:"customer_id"`
	LeadID      *uint          `gorm:"index" json:"lead_id"`
	Status      string         `gorm:"index;default:'DRAFT'" json:"status"` // DRAFT, SENT, ACCEPTED, REJECTED, EXPIRED
	TotalAmount float64        `json:"total_amount"`
	Currency    string         `gorm:"default:'EUR'" json:"currency"`
	OwnerID     uint           `gorm:"index" json:"owner_id"`
	ValidUntil  *time.Time     `json:"valid_until"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// 合同
type Contract struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Number      string         `gorm:"uniqueIndex" json:"number"`
	CustomerID  uint           `gorm:"index" json:"customer_id"`
	QuotationID *uint          `gorm:"index" json:"quotation_id"`
	Status      string         `gorm:"index;default:'DRAFT'" json:"status"` // DRAFT, ACTIVE, COMPLETED, TERMINATED
	Value       float64        `json:"value"`
	OwnerID     uint           `gorm:"index" json:"owner_id"`
	StartDate   *time.Time     `json:"start_date"`
	EndDate     *time.Time     `json:"end_date"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// 检测研究（合同下的试验项目）
type Study struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Code       string         `gorm:"uniqueIndex" json:"code"`
	Title      string         `json:"title"`
	ContractID uint           `gorm:"index" json:"contract_id"`
	Status     string         `gorm:"index;default:'PLANNED'" json:"status"` // PLANNED, IN_PROGRESS, REPORTING, COMPLETED
	OwnerID    uint           `gorm:"index" json:"owner_id"`
	StartDate  *time.Time     `json:"start_date"`
	DueDate    *time.Time     `json:"due_date"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// 站内通知
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Link      string    `json:"link"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// 活动/审计记录
type Activity struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	EntityType      string    `gorm:"index:idx_activity_entity" json:"entity_type"`
	EntityID        uint      `gorm:"index:idx_activity_entity" json:"entity_id"`
	ActivityType    string    `gorm:"default:'NOTE'" json:"activity_type"` // NOTE, CALL, EMAIL, TASK
	Subject         string    `json:"subject"`
	Content         string    `gorm:"type:text" json:"content"`
	UserID          uint      `gorm:"index" json:"user_id"`
	IsAutoGenerated bool      `gorm:"default:false" json:"is_auto_generated"`
	CreatedAt       time.Time `json:"created_at"`
}
