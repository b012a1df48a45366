package services

import (
	"context"
	"testing"
	"time"

	"labcrm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityAccessorCatalog(t *testing.T) {
	accessor := NewEntityAccessor(newTestDB(t))

	assert.Equal(t, []string{ModelContract, ModelCustomer, ModelLead, ModelQuotation, ModelStudy}, accessor.SupportedModels())
	assert.True(t, accessor.Supports(ModelQuotation))
	assert.False(t, accessor.Supports("Invoice"))

	assert.True(t, accessor.HasField(ModelQuotation, "status"))
	assert.True(t, accessor.HasField(ModelLead, "next_follow_up_at"))
	assert.False(t, accessor.HasField(ModelQuotation, "ValidUntil"), "attributes use json names")
	assert.False(t, accessor.HasField(ModelQuotation, "deleted_at"))
	assert.False(t, accessor.HasField("Invoice", "status"))

	assert.True(t, accessor.IsDateField(ModelQuotation, "valid_until"))
	assert.True(t, accessor.IsDateField(ModelContract, "end_date"))
	assert.True(t, accessor.IsDateField(ModelStudy, "due_date"))
	assert.False(t, accessor.IsDateField(ModelQuotation, "status"))
	assert.False(t, accessor.IsDateField(ModelQuotation, "missing"))
}

func TestEntityAccessorFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accessor := NewEntityAccessor(db)
	owner := seedUser(t, db, "mia", "sales", "active")
	q := seedQuotation(t, db, "Q-100", "SENT", owner.ID, dayAt(7, 12))

	attrs, err := accessor.FindByID(ctx, ModelQuotation, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q-100", attrs["number"])
	assert.Equal(t, "SENT", attrs["status"])
	assert.Equal(t, float64(owner.ID), attrs["owner_id"])
	assert.Equal(t, float64(1250.5), attrs["total_amount"])
	assert.Equal(t, "2026-10-23T12:00:00Z", attrs["valid_until"])
	assert.Nil(t, attrs["lead_id"])

	_, err = accessor.FindByID(ctx, ModelQuotation, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = accessor.FindByID(ctx, "Invoice", q.ID)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, accessor.Update(ctx, ModelQuotation, q.ID, map[string]interface{}{"status": "EXPIRED"}))
	var reloaded models.Quotation
	require.NoError(t, db.First(&reloaded, q.ID).Error)
	assert.Equal(t, "EXPIRED", reloaded.Status)

	assert.ErrorIs(t, accessor.Update(ctx, ModelQuotation, q.ID, map[string]interface{}{"colour": "red"}), ErrValidation)
	assert.ErrorIs(t, accessor.Update(ctx, ModelQuotation, q.ID, map[string]interface{}{"id": 5}), ErrValidation)
	assert.ErrorIs(t, accessor.Update(ctx, ModelQuotation, 9999, map[string]interface{}{"status": "SENT"}), ErrNotFound)
	assert.NoError(t, accessor.Update(ctx, ModelQuotation, q.ID, nil))
}

func TestEntityAccessorFindIDsByDate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accessor := NewEntityAccessor(db)

	early := seedQuotation(t, db, "Q-1", "SENT", 1, dayAt(7, 0))
	late := seedQuotation(t, db, "Q-2", "SENT", 1, dayAt(7, 23))
	seedQuotation(t, db, "Q-3", "SENT", 1, dayAt(8, 0))
	seedQuotation(t, db, "Q-4", "SENT", 1, dayAt(6, 23))
	seedQuotation(t, db, "Q-5", "SENT", 1, nil)

	day := StartOfDay(testNow, time.UTC).AddDate(0, 0, 7)
	ids, err := accessor.FindIDsByDate(ctx, ModelQuotation, "valid_until", day)
	require.NoError(t, err)
	assert.Equal(t, []uint{early.ID, late.ID}, ids)

	_, err = accessor.FindIDsByDate(ctx, ModelQuotation, "status", day)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = accessor.FindIDsByDate(ctx, "Invoice", "valid_until", day)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEntityAccessorFindIDsByDateShortLocalDay(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accessor := NewEntityAccessor(db)
	berlin := loadBerlin(t)

	// 2026-03-29 is 23 hours long in Berlin
	lastMinute := time.Date(2026, 3, 29, 23, 59, 0, 0, berlin).UTC()
	afterMidnight := time.Date(2026, 3, 30, 0, 30, 0, 0, berlin).UTC()
	in := seedQuotation(t, db, "Q-8", "SENT", 1, &lastMinute)
	seedQuotation(t, db, "Q-9", "SENT", 1, &afterMidnight)

	ids, err := accessor.FindIDsByDate(ctx, ModelQuotation, "valid_until", time.Date(2026, 3, 29, 0, 0, 0, 0, berlin))
	require.NoError(t, err)
	assert.Equal(t, []uint{in.ID}, ids)
}
