package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shipvox/shipvox-backend/pkg/enums"
)

// CallAttempt is the append-mostly ledger row for one outbound voice call.
// Outcome fields stay null until the provider reports back via webhook or
// poll; IsSuccessful/NeedsRetry are derived and never both true.
type CallAttempt struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CallID string    `gorm:"column:call_id;type:text;not null;uniqueIndex"`
	AWB    string    `gorm:"column:awb;type:text;not null;index"`

	// Snapshot of the order at call time; ledger rows may outlive the order.
	CustomerName  string              `gorm:"column:customer_name;type:text"`
	CustomerPhone string              `gorm:"column:customer_phone;type:text;index"`
	Category      enums.OrderCategory `gorm:"column:category;type:text"`

	AssistantID    string `gorm:"column:assistant_id;type:text"`
	PhoneNumberID  string `gorm:"column:phone_number_id;type:text"`
	ProviderStatus string `gorm:"column:provider_status;type:text"`
	CallType       string `gorm:"column:call_type;type:text"`

	DurationSeconds *int             `gorm:"column:duration_seconds"`
	Cost            *decimal.Decimal `gorm:"column:cost;type:numeric(10,5)"`
	EndedReason     string           `gorm:"column:ended_reason;type:text"`
	RecordingURL    string           `gorm:"column:recording_url;type:text"`
	Transcript      string           `gorm:"column:transcript;type:text"`

	RetryIndex   int  `gorm:"column:retry_index;not null;default:0"`
	IsSuccessful bool `gorm:"column:is_successful;not null;default:false;index"`
	NeedsRetry   bool `gorm:"column:needs_retry;not null;default:false;index"`

	ProviderPayload json.RawMessage `gorm:"column:provider_payload;type:jsonb"`

	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	CallStartedAt *time.Time `gorm:"column:call_started_at"`
	CallEndedAt   *time.Time `gorm:"column:call_ended_at"`
}
