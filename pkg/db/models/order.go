package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shipvox/shipvox-backend/pkg/enums"
)

// Order caches one shipment snapshot pulled from the carrier API. There is
// exactly one row per AWB; sync rewrites category/status in place.
type Order struct {
	ID       uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AWB      string              `gorm:"column:awb;type:text;not null;uniqueIndex"`
	Category enums.OrderCategory `gorm:"column:category;type:text;not null;index"`

	CustomerName    string `gorm:"column:customer_name;type:text"`
	CustomerPhone   string `gorm:"column:customer_phone;type:text;index"`
	CustomerAddress string `gorm:"column:customer_address;type:text"`
	CustomerPincode string `gorm:"column:customer_pincode;type:text"`

	// Display-only strings passed through from the carrier.
	CODAmount string `gorm:"column:cod_amount;type:text"`
	Weight    string `gorm:"column:weight;type:text"`
	OrderDate string `gorm:"column:order_date;type:text"`

	TrackingURL   string          `gorm:"column:tracking_url;type:text"`
	CurrentStatus string          `gorm:"column:current_status;type:text;index"`
	LastScan      json.RawMessage `gorm:"column:last_scan;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
	SyncedAt  time.Time `gorm:"column:synced_at;index"`
}
