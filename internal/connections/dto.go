package connections

import (
	"time"

	"github.com/google/uuid"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

// ConnectionDTO is the API view of a connection. Credentials never leave the
// vault.
type ConnectionDTO struct {
	ID                   uuid.UUID              `json:"id"`
	Platform             enums.Platform         `json:"platform"`
	ShopDomain           string                 `json:"shop_domain"`
	ShopName             string                 `json:"shop_name,omitempty"`
	Currency             string                 `json:"currency,omitempty"`
	Timezone             string                 `json:"timezone,omitempty"`
	Status               enums.ConnectionStatus `json:"status"`
	Scopes               string                 `json:"scopes,omitempty"`
	LastSuccessfulSyncAt *time.Time             `json:"last_successful_sync_at,omitempty"`
	ConsecutiveFailures  int                    `json:"consecutive_failures"`
	LastErrorCode        *string                `json:"last_error_code,omitempty"`
	LastErrorMessage     *string                `json:"last_error_message,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// FromModel maps a persisted connection into its DTO.
func FromModel(m *models.Connection) *ConnectionDTO {
	if m == nil {
		return nil
	}
	return &ConnectionDTO{
		ID:                   m.ID,
		Platform:             m.Platform,
		ShopDomain:           m.ShopDomain,
		ShopName:             m.Metadata.Data.Name,
		Currency:             m.Metadata.Data.Currency,
		Timezone:             m.Metadata.Data.Timezone,
		Status:               m.Status,
		Scopes:               m.Scopes,
		LastSuccessfulSyncAt: m.LastSuccessfulSyncAt,
		ConsecutiveFailures:  m.ConsecutiveFailures,
		LastErrorCode:        m.LastErrorCode,
		LastErrorMessage:     pkgerrors.PublicMessageFor(m.LastErrorCode),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// InitiateResult is returned by the first OAuth phase.
type InitiateResult struct {
	AuthorizationURL string    `json:"authorization_url"`
	Shop             string    `json:"shop"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// pendingAuthorization is the Redis payload behind an OAuth state token.
type pendingAuthorization struct {
	AccountID uuid.UUID `json:"account_id"`
	Shop      string    `json:"shop"`
}
