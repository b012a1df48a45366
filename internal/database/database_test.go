package database

import (
	"testing"

	"labcrm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "migration is repeatable")

	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
	assert.True(t, db.Migrator().HasColumn(&models.AutomationAction{}, "sort_order"))
	assert.True(t, db.Migrator().HasIndex(&models.AutomationAction{}, "idx_rule_action_order"))
}
