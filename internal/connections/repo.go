package connections

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db"
	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
)

// Repository handles connection persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindForAccount loads a connection owned by accountID.
func (r *Repository) FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	if err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListByAccount returns the account's connections, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Connection, error) {
	var conns []models.Connection
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpsertConnected creates the connection for (account, platform, shop) or
// re-activates the existing one, returning the stored row.
func (r *Repository) UpsertConnected(ctx context.Context, in *models.Connection) (*models.Connection, error) {
	out, err := r.upsertConnected(ctx, in)
	if err != nil && db.IsUniqueViolation(err, "ux_connections_account_shop", "connections.shop_domain") {
		// lost a race with a concurrent callback for the same shop
		return r.upsertConnected(ctx, in)
	}
	return out, err
}

func (r *Repository) upsertConnected(ctx context.Context, in *models.Connection) (*models.Connection, error) {
	var out *models.Connection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByShop(tx, in.AccountID, in.Platform, in.ShopDomain)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing == nil {
			in.Status = enums.ConnectionStatusConnected
			if err := tx.Create(in).Error; err != nil {
				return err
			}
			out = in
			return nil
		}
		if err := tx.Model(existing).Updates(map[string]any{
			"status":               enums.ConnectionStatusConnected,
			"external_shop_id":     in.ExternalShopID,
			"scopes":               in.Scopes,
			"metadata":             in.Metadata,
			"consecutive_failures": 0,
			"last_error":           nil,
			"last_error_code":      nil,
			"updated_at":           time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		out, err = findByShop(tx, in.AccountID, in.Platform, in.ShopDomain)
		return err
	})
	return out, err
}

// Delete removes the connection. Raw records and checkpoints cascade; sync
// run history is kept.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Connection{}).Error
}

func findByShop(tx *gorm.DB, accountID uuid.UUID, platform enums.Platform, shop string) (*models.Connection, error) {
	var conn models.Connection
	if err := tx.Where("account_id = ? AND platform = ? AND shop_domain = ?", accountID, platform, shop).
		First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}
