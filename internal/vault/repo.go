package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

// Repository persists encrypted credentials.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindCredential loads the credential row of a connection.
func (r *Repository) FindCredential(ctx context.Context, connectionID uuid.UUID) (*models.ConnectionCredential, error) {
	var cred models.ConnectionCredential
	if err := r.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

// SaveCredential inserts or replaces the credential and bumps its version.
func (r *Repository) SaveCredential(ctx context.Context, cred *models.ConnectionCredential) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"access_token_ciphertext":  cred.AccessTokenCiphertext,
			"refresh_token_ciphertext": cred.RefreshTokenCiphertext,
			"token_type":               cred.TokenType,
			"scope":                    cred.Scope,
			"expires_at":               cred.ExpiresAt,
			"version":                  gorm.Expr("connection_credentials.version + 1"),
			"updated_at":               time.Now().UTC(),
		}),
	}).Create(cred).Error
}

// DeleteCredential removes the credential row.
func (r *Repository) DeleteCredential(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("connection_id = ?", connectionID).Delete(&models.ConnectionCredential{}).Error
}

// FindConnection loads the connection that owns a credential.
func (r *Repository) FindConnection(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	if err := r.db.WithContext(ctx).Where("id = ?", connectionID).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// MarkConnectionError flags the connection as needing re-authorization.
func (r *Repository) MarkConnectionError(ctx context.Context, connectionID uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]any{
			"status":          enums.ConnectionStatusError,
			"last_error":      reason,
			"last_error_code": string(pkgerrors.CodeAuth),
			"updated_at":      time.Now().UTC(),
		}).Error
}
