package binding

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	bindingdomain "smartpot-app-go/internal/domain/binding"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Transaction(ctx context.Context, fn func(bindingdomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func (r *PostgresRepository) GetFlower(ctx context.Context, id string) (*bindingdomain.Flower, error) {
	var flower bindingdomain.Flower
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&flower).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bindingdomain.ErrFlowerNotFound
		}
		return nil, err
	}
	return &flower, nil
}

func (r *PostgresRepository) GetSmartPot(ctx context.Context, serial string) (*bindingdomain.SmartPot, error) {
	var pot bindingdomain.SmartPot
	if err := r.db.WithContext(ctx).Where("serial_number = ?", serial).First(&pot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bindingdomain.ErrSmartPotNotFound
		}
		return nil, err
	}
	return &pot, nil
}

func (r *PostgresRepository) GetSmartPotByFlower(ctx context.Context, flowerID string) (*bindingdomain.SmartPot, error) {
	var pot bindingdomain.SmartPot
	if err := r.db.WithContext(ctx).Where("active_flower_id = ?", flowerID).First(&pot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bindingdomain.ErrSmartPotNotFound
		}
		return nil, err
	}
	return &pot, nil
}

func (r *PostgresRepository) GetHousehold(ctx context.Context, id string) (*bindingdomain.Household, error) {
	var household bindingdomain.Household
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&household).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bindingdomain.ErrHouseholdNotFound
		}
		return nil, err
	}
	return &household, nil
}

func (r *PostgresRepository) IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&bindingdomain.HouseholdMember{}).
		Where("household_id = ? AND user_id = ?", householdID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresRepository) UpdateFlowerBinding(ctx context.Context, update bindingdomain.FlowerBindingUpdate) error {
	values := map[string]any{
		"serial_number": nullable(update.SerialNumber),
		"version":       gorm.Expr("version + 1"),
		"updated_at":    time.Now().UTC(),
	}
	if update.HouseholdID != nil {
		values["household_id"] = *update.HouseholdID
	}

	result := r.db.WithContext(ctx).
		Model(&bindingdomain.Flower{}).
		Where("id = ? AND version = ?", update.ID, update.ExpectedVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrStale(ctx, &bindingdomain.Flower{}, "id = ?", update.ID, bindingdomain.ErrFlowerNotFound)
	}
	return nil
}

func (r *PostgresRepository) UpdateSmartPotBinding(ctx context.Context, update bindingdomain.SmartPotBindingUpdate) error {
	values := map[string]any{
		"active_flower_id": nullable(update.ActiveFlowerID),
		"version":          gorm.Expr("version + 1"),
		"updated_at":       time.Now().UTC(),
	}
	if update.SetHousehold {
		values["household_id"] = nullable(update.HouseholdID)
	}

	result := r.db.WithContext(ctx).
		Model(&bindingdomain.SmartPot{}).
		Where("serial_number = ? AND version = ?", update.SerialNumber, update.ExpectedVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrStale(ctx, &bindingdomain.SmartPot{}, "serial_number = ?", update.SerialNumber, bindingdomain.ErrSmartPotNotFound)
	}
	return nil
}

// missingOrStale tells a vanished row apart from a stale version after an
// update matched nothing.
func (r *PostgresRepository) missingOrStale(ctx context.Context, model any, query string, key string, notFound error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where(query, key).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return bindingdomain.ErrVersionConflict
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
