package services

import (
	"context"
	"time"

	"labcrm/internal/models"

	"gorm.io/gorm"
)

// UserDirectory resolves notification recipients by role.
type UserDirectory interface {
	FindUsersByRole(ctx context.Context, role string, activeOnly bool) ([]uint, error)
}

// NotificationSink stores in-app notifications.
type NotificationSink interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// ActivitySink stores audit activities.
type ActivitySink interface {
	CreateActivity(ctx context.Context, a *models.Activity) error
}

// GormUserDirectory 基于 users 表的用户目录
type GormUserDirectory struct {
	db *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory { return &GormUserDirectory{db: db} }

func (d *GormUserDirectory) FindUsersByRole(ctx context.Context, role string, activeOnly bool) ([]uint, error) {
	query := d.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role)
	if activeOnly {
		query = query.Where("status = ?", "active")
	}
	var ids []uint
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GormNotificationSink 写入 notifications 表
type GormNotificationSink struct {
	db *gorm.DB
}

func NewGormNotificationSink(db *gorm.DB) *GormNotificationSink { return &GormNotificationSink{db: db} }

func (s *GormNotificationSink) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(n).Error
}

// GormActivitySink 写入 activities 表
type GormActivitySink struct {
	db *gorm.DB
}

func NewGormActivitySink(db *gorm.DB) *GormActivitySink { return &GormActivitySink{db: db} }

func (s *GormActivitySink) CreateActivity(ctx context.Context, a *models.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(a).Error
}
