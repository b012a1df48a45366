package services

import (
	"context"
	"errors"
	"testing"

	"labcrm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type actionFixture struct {
	entities      *memoryEntities
	notifications *recordingNotifications
	activities    *recordingActivities
	executor      *ActionExecutor
}

func newActionFixture() *actionFixture {
	f := &actionFixture{
		entities:      newMemoryEntities(),
		notifications: &recordingNotifications{},
		activities:    &recordingActivities{},
	}
	f.entities.put(ModelQuotation, 11, map[string]interface{}{
		"number":   "Q-2026-011",
		"status":   "SENT",
		"owner_id": float64(5),
	})
	f.entities.put(ModelLead, 3, map[string]interface{}{"company": "Acme Rail", "status": "NEW"})
	users := staticUsers{"lab_manager": {8, 9}}
	f.executor = NewActionExecutor(f.entities, users, f.notifications, f.activities, newTestLogger())
	return f
}

func storedAction(id uint, t models.ActionType, config string) *models.AutomationAction {
	return &models.AutomationAction{ID: id, ActionType: t, ActionConfig: datatypes.JSON(config)}
}

func TestSendNotificationAction(t *testing.T) {
	ctx := context.Background()

	t.Run("owner with rendered text", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification,
			`{"title":"{{number}} is {{status}}","message":"by {{actor}}","link":"/quotations/{{id}}","recipient_type":"owner"}`)

		out, err := f.executor.Execute(ctx, a, ModelQuotation, 11, map[string]interface{}{"status": "ACCEPTED", "actor": "ops"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "sent 1 notification(s)", out.Message)
		require.Len(t, f.notifications.sent, 1)
		n := f.notifications.sent[0]
		assert.Equal(t, uint(5), n.UserID)
		assert.Equal(t, "Q-2026-011 is ACCEPTED", n.Title)
		assert.Equal(t, "by ops", n.Message)
		assert.Equal(t, "/quotations/11", n.Link)
	})

	t.Run("entity without owner sends nothing", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"owner"}`)
		out, err := f.executor.Execute(ctx, a, ModelLead, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, "sent 0 notification(s)", out.Message)
		assert.Empty(t, f.notifications.sent)
	})

	t.Run("specific recipients are deduplicated", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"specific","recipient_ids":[3,3,4]}`)
		out, err := f.executor.Execute(ctx, a, ModelQuotation, 11, nil)
		require.NoError(t, err)
		assert.Equal(t, "sent 2 notification(s)", out.Message)
	})

	t.Run("role recipients", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"role","role":"lab_manager"}`)
		_, err := f.executor.Execute(ctx, a, ModelQuotation, 11, nil)
		require.NoError(t, err)
		require.Len(t, f.notifications.sent, 2)
		assert.Equal(t, uint(8), f.notifications.sent[0].UserID)
		assert.Equal(t, uint(9), f.notifications.sent[1].UserID)
	})

	t.Run("directory failure", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"role","role":"broken"}`)
		_, err := f.executor.Execute(ctx, a, ModelQuotation, 11, nil)
		assert.ErrorContains(t, err, "directory unavailable")
	})

	t.Run("sink failure", func(t *testing.T) {
		f := newActionFixture()
		f.notifications.err = errors.New("mailbox full")
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"owner"}`)
		_, err := f.executor.Execute(ctx, a, ModelQuotation, 11, nil)
		assert.ErrorContains(t, err, "mailbox full")
	})

	t.Run("missing entity", func(t *testing.T) {
		f := newActionFixture()
		a := storedAction(1, models.ActionSendNotification, `{"title":"hi","recipient_type":"owner"}`)
		_, err := f.executor.Execute(ctx, a, ModelQuotation, 99, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateStatusAction(t *testing.T) {
	ctx := context.Background()
	f := newActionFixture()

	out, err := f.executor.Execute(ctx, storedAction(2, models.ActionUpdateStatus, `{"value":"EXPIRED"}`), ModelQuotation, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, "set status to EXPIRED", out.Message)
	attrs, _ := f.entities.FindByID(ctx, ModelQuotation, 11)
	assert.Equal(t, "EXPIRED", attrs["status"])

	out, err = f.executor.Execute(ctx, storedAction(3, models.ActionUpdateStatus, `{"field":"currency","value":"USD"}`), ModelQuotation, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, "set currency to USD", out.Message)

	_, err = f.executor.Execute(ctx, storedAction(2, models.ActionUpdateStatus, `{"value":"EXPIRED"}`), ModelQuotation, 99, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateActivityAction(t *testing.T) {
	ctx := context.Background()
	f := newActionFixture()

	a := storedAction(4, models.ActionCreateActivity, `{"subject":"Follow up {{number}}","content":"status {{status}}"}`)
	out, err := f.executor.Execute(ctx, a, ModelQuotation, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, "created activity 1", out.Message)
	require.Len(t, f.activities.created, 1)
	activity := f.activities.created[0]
	assert.Equal(t, ModelQuotation, activity.EntityType)
	assert.Equal(t, uint(11), activity.EntityID)
	assert.Equal(t, "NOTE", activity.ActivityType)
	assert.Equal(t, "Follow up Q-2026-011", activity.Subject)
	assert.Equal(t, "status SENT", activity.Content)
	assert.Equal(t, uint(5), activity.UserID)
	assert.True(t, activity.IsAutoGenerated)

	f.activities.err = errors.New("disk full")
	_, err = f.executor.Execute(ctx, storedAction(5, models.ActionCreateActivity, `{"subject":"x","activity_type":"TASK"}`), ModelQuotation, 11, nil)
	assert.ErrorContains(t, err, "disk full")
}

func TestUnknownAndBrokenActions(t *testing.T) {
	ctx := context.Background()
	f := newActionFixture()

	out, err := f.executor.Execute(ctx, storedAction(6, "SEND_SMS", `{}`), ModelQuotation, 11, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "action type SEND_SMS not implemented", out.Message)

	_, err = f.executor.Execute(ctx, storedAction(7, models.ActionCreateActivity, `{"content":"no subject"}`), ModelQuotation, 11, nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
