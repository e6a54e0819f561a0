package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
)

// ShopMetadata is captured from the platform when a connection is completed.
type ShopMetadata struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Currency string `json:"currency,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Plan     string `json:"plan,omitempty"`
}

// Connection binds one external store to one account.
type Connection struct {
	ID                   uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	AccountID            uuid.UUID                  `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_connections_account_shop,priority:1"`
	Platform             enums.Platform             `gorm:"column:platform;not null;uniqueIndex:ux_connections_account_shop,priority:2"`
	ShopDomain           string                     `gorm:"column:shop_domain;not null;uniqueIndex:ux_connections_account_shop,priority:3"`
	ExternalShopID       string                     `gorm:"column:external_shop_id"`
	Status               enums.ConnectionStatus     `gorm:"column:status;not null;default:'pending'"`
	Scopes               string                     `gorm:"column:scopes"`
	Metadata             dbtypes.JSON[ShopMetadata] `gorm:"column:metadata;type:jsonb"`
	LastSuccessfulSyncAt *time.Time                 `gorm:"column:last_successful_sync_at"`
	ConsecutiveFailures  int                        `gorm:"column:consecutive_failures;not null;default:0"`
	LastError            *string                    `gorm:"column:last_error"`
	LastErrorCode        *string                    `gorm:"column:last_error_code"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Connection) TableName() string { return "connections" }

func (c *Connection) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ConnectionCredential holds the encrypted OAuth token pair for a connection.
type ConnectionCredential struct {
	ConnectionID           uuid.UUID  `gorm:"column:connection_id;type:uuid;primaryKey"`
	AccessTokenCiphertext  []byte     `gorm:"column:access_token_ciphertext;not null"`
	RefreshTokenCiphertext []byte     `gorm:"column:refresh_token_ciphertext"`
	TokenType              string     `gorm:"column:token_type"`
	Scope                  string     `gorm:"column:scope"`
	ExpiresAt              *time.Time `gorm:"column:expires_at"`
	Version                int        `gorm:"column:version;not null;default:1"`
	CreatedAt              time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ConnectionCredential) TableName() string { return "connection_credentials" }
