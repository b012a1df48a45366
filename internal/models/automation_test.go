package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestTriggerConfigCheckShape(t *testing.T) {
	tests := []struct {
		name    string
		trigger TriggerType
		cfg     TriggerConfig
		wantErr bool
	}{
		{"status change", TriggerStatusChange, TriggerConfig{Model: "Lead", Field: "status"}, false},
		{"status change needs field", TriggerStatusChange, TriggerConfig{Model: "Lead"}, true},
		{"status change rejects days", TriggerStatusChange, TriggerConfig{Model: "Lead", Field: "status", DaysBefore: 2}, true},
		{"date reached", TriggerDateReached, TriggerConfig{Model: "Contract", Field: "end_date", DaysBefore: 30}, false},
		{"date reached same day", TriggerDateReached, TriggerConfig{Model: "Contract", Field: "end_date"}, false},
		{"date reached negative", TriggerDateReached, TriggerConfig{Model: "Contract", Field: "end_date", DaysBefore: -1}, true},
		{"item created", TriggerItemCreated, TriggerConfig{Model: "Lead"}, false},
		{"item updated rejects field", TriggerItemUpdated, TriggerConfig{Model: "Lead", Field: "status"}, true},
		{"model required", TriggerItemCreated, TriggerConfig{}, true},
		{"unknown trigger", "WEBHOOK", TriggerConfig{Model: "Lead"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.CheckShape(tt.trigger)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeActionConfig(t *testing.T) {
	cfg, err := DecodeActionConfig(ActionSendNotification, []byte(`{"title":"t","recipient_type":"specific","recipient_ids":[4,5]}`))
	require.NoError(t, err)
	n, ok := cfg.(NotificationActionConfig)
	require.True(t, ok)
	assert.Equal(t, []uint{4, 5}, n.RecipientIDs)
	assert.Equal(t, ActionSendNotification, cfg.ActionType())

	cfg, err = DecodeActionConfig(ActionUpdateStatus, []byte(`{"value":"EXPIRED"}`))
	require.NoError(t, err)
	assert.Equal(t, "status", cfg.(StatusActionConfig).TargetField())

	cfg, err = DecodeActionConfig(ActionUpdateStatus, []byte(`{"field":"stage","value":2}`))
	require.NoError(t, err)
	assert.Equal(t, "stage", cfg.(StatusActionConfig).TargetField())

	_, err = DecodeActionConfig(ActionCreateActivity, []byte(`{"subject":"Call back"}`))
	assert.NoError(t, err)

	invalid := []struct {
		name string
		t    ActionType
		raw  string
	}{
		{"notification without text", ActionSendNotification, `{"recipient_type":"owner"}`},
		{"notification bad recipient", ActionSendNotification, `{"title":"t","recipient_type":"everyone"}`},
		{"specific without ids", ActionSendNotification, `{"title":"t","recipient_type":"specific"}`},
		{"role without role", ActionSendNotification, `{"title":"t","recipient_type":"role"}`},
		{"status without value", ActionUpdateStatus, `{"field":"status"}`},
		{"activity without subject", ActionCreateActivity, `{"content":"x"}`},
		{"malformed json", ActionCreateActivity, `{"subject":`},
		{"unknown type", "SEND_SMS", `{}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeActionConfig(tt.t, []byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestJSONPayload(t *testing.T) {
	raw, err := JSONPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	raw, err = JSONPayload(map[string]interface{}{"previous_status": "SENT"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"previous_status":"SENT"}`, string(raw))

	raw, err = JSONPayload(datatypes.JSON(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", string(raw))

	_, err = JSONPayload(make(chan int))
	assert.Error(t, err)
}

func TestRuleConfigRoundTrip(t *testing.T) {
	rule := AutomationRule{TriggerConfig: datatypes.NewJSONType(TriggerConfig{Model: "Study", Field: "due_date", DaysBefore: 3})}
	assert.Equal(t, TriggerConfig{Model: "Study", Field: "due_date", DaysBefore: 3}, rule.Config())

	action := AutomationAction{ActionType: ActionCreateActivity, ActionConfig: datatypes.JSON(`{"subject":"s"}`)}
	cfg, err := action.Config()
	require.NoError(t, err)
	assert.Equal(t, ActivityActionConfig{Subject: "s"}, cfg)
}
