package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"labcrm/internal/database"
	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fixed clock for deterministic date math: Friday 2026-10-16 09:30 UTC
var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := "file:services_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.Models()...), "automigrate")
	return db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func newTestService(t *testing.T, opts ...AutomationOption) (*AutomationService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	opts = append([]AutomationOption{WithClock(fixedClock)}, opts...)
	return NewAutomationService(db, newTestLogger(), opts...), db
}

func seedUser(t *testing.T, db *gorm.DB, username, role, status string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@lab.test", Name: username, Role: role, Status: status}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedQuotation(t *testing.T, db *gorm.DB, number, status string, ownerID uint, validUntil *time.Time) *models.Quotation {
	t.Helper()
	q := &models.Quotation{
		Number:      number,
		Title:       "Tensile test " + number,
		CustomerID:  1,
		Status:      status,
		TotalAmount: 1250.5,
		Currency:    "EUR",
		OwnerID:     ownerID,
		ValidUntil:  validUntil,
	}
	require.NoError(t, db.Create(q).Error)
	return q
}

func dayAt(days int, hour int) *time.Time {
	d := time.Date(testNow.Year(), testNow.Month(), testNow.Day()+days, hour, 0, 0, 0, time.UTC)
	return &d
}

func intPtr(v int) *int { return &v }

func notifyOwnerAction(title string) ActionInput {
	return ActionInput{
		ActionType: models.ActionSendNotification,
		ActionConfig: map[string]interface{}{
			"title":          title,
			"message":        "Quotation {{number}} status {{status}}",
			"recipient_type": models.RecipientOwner,
		},
	}
}

func activityAction(subject string) ActionInput {
	return ActionInput{
		ActionType:   models.ActionCreateActivity,
		ActionConfig: map[string]interface{}{"subject": subject},
	}
}

func statusAction(value string) ActionInput {
	return ActionInput{
		ActionType:   models.ActionUpdateStatus,
		ActionConfig: map[string]interface{}{"value": value},
	}
}

func quotationStatusRule(actions ...ActionInput) *RuleCreateRequest {
	return &RuleCreateRequest{
		Name:          "quotation status",
		TriggerType:   models.TriggerStatusChange,
		TriggerConfig: models.TriggerConfig{Model: ModelQuotation, Field: "status"},
		Actions:       actions,
	}
}

// memoryEntities is an in-memory EntityStore.
type memoryEntities struct {
	mu      sync.Mutex
	records map[string]map[uint]map[string]interface{}
	reads   int
}

func newMemoryEntities() *memoryEntities {
	return &memoryEntities{records: map[string]map[uint]map[string]interface{}{}}
}

func (m *memoryEntities) put(model string, id uint, attrs map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[model] == nil {
		m.records[model] = map[uint]map[string]interface{}{}
	}
	attrs["id"] = float64(id)
	m.records[model][id] = attrs
}

func (m *memoryEntities) FindByID(_ context.Context, model string, id uint) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if _, known := m.records[model]; !known {
		return nil, invalid("unsupported entity model %q", model)
	}
	rec, ok := m.records[model][id]
	if !ok {
		return nil, notFound("%s %d", model, id)
	}
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (m *memoryEntities) Update(_ context.Context, model string, id uint, changes map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[model]; !ok {
		return invalid("unsupported entity model %q", model)
	}
	rec, ok := m.records[model][id]
	if !ok {
		return notFound("%s %d", model, id)
	}
	for k, v := range changes {
		rec[k] = v
	}
	return nil
}

type recordingNotifications struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (r *recordingNotifications) CreateNotification(_ context.Context, n *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uint(len(r.sent) + 1)
	r.sent = append(r.sent, *n)
	return nil
}

type recordingActivities struct {
	mu      sync.Mutex
	created []models.Activity
	err     error
}

func (r *recordingActivities) CreateActivity(_ context.Context, a *models.Activity) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uint(len(r.created) + 1)
	r.created = append(r.created, *a)
	return nil
}

type staticUsers map[string][]uint

func (s staticUsers) FindUsersByRole(_ context.Context, role string, _ bool) ([]uint, error) {
	if role == "broken" {
		return nil, errors.New("directory unavailable")
	}
	return s[role], nil
}
