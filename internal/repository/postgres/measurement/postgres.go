package measurement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	measurementdomain "smartpot-app-go/internal/domain/measurement"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, measurement *measurementdomain.Measurement) error {
	if measurement.CreatedAt.IsZero() {
		measurement.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(measurement).Error
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*measurementdomain.Measurement, error) {
	var measurement measurementdomain.Measurement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&measurement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, measurementdomain.ErrMeasurementNotFound
		}
		return nil, err
	}
	return &measurement, nil
}

func (r *PostgresRepository) UpdateValue(ctx context.Context, id string, value float64) error {
	result := r.db.WithContext(ctx).
		Model(&measurementdomain.Measurement{}).
		Where("id = ?", id).
		Updates(map[string]any{"value": value, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return measurementdomain.ErrMeasurementNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&measurementdomain.Measurement{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return measurementdomain.ErrMeasurementNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByFlower(ctx context.Context, flowerID string, filter measurementdomain.HistoryFilter) ([]measurementdomain.Measurement, error) {
	query := r.db.WithContext(ctx).
		Model(&measurementdomain.Measurement{}).
		Where("flower_id = ?", flowerID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at <= ?", filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []measurementdomain.Measurement
	if err := query.Order("created_at desc").Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (r *PostgresRepository) Latest(ctx context.Context, flowerID string) ([]measurementdomain.Measurement, error) {
	latest := make([]measurementdomain.Measurement, 0, len(measurementdomain.Types))
	for _, t := range measurementdomain.Types {
		var item measurementdomain.Measurement
		err := r.db.WithContext(ctx).
			Where("flower_id = ? AND type = ?", flowerID, t).
			Order("created_at desc").
			Limit(1).
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		latest = append(latest, item)
	}
	return latest, nil
}
