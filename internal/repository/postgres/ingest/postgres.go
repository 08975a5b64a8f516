package ingest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ingestdomain "smartpot-app-go/internal/domain/ingest"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) BeginBatch(ctx context.Context, batch *ingestdomain.BatchRecord) (bool, *ingestdomain.BatchRecord, error) {
	err := r.db.WithContext(ctx).Create(batch).Error
	if err == nil {
		return true, nil, nil
	}
	if !isUniqueViolation(err) {
		return false, nil, err
	}
	if batch.IdempotencyKey == nil {
		return false, nil, nil
	}

	var existing ingestdomain.BatchRecord
	if err := r.db.WithContext(ctx).
		Where("gateway_id = ? AND idempotency_key = ?", batch.GatewayID, *batch.IdempotencyKey).
		First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return false, &existing, nil
}

func (r *PostgresRepository) CompleteBatch(ctx context.Context, batchID string, status ingestdomain.BatchState, responseJSON []byte) error {
	return r.db.WithContext(ctx).
		Model(&ingestdomain.BatchRecord{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":        status,
			"response_json": responseJSON,
		}).Error
}

func (r *PostgresRepository) ReserveReading(ctx context.Context, reading *ingestdomain.ReadingRecord) (bool, *ingestdomain.ReadingRecord, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_id"}, {Name: "reading_id"}},
			DoNothing: true,
		}).
		Create(reading)
	if result.Error != nil {
		return false, nil, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil, nil
	}

	var existing ingestdomain.ReadingRecord
	if err := r.db.WithContext(ctx).
		Where("gateway_id = ? AND reading_id = ?", reading.GatewayID, reading.ReadingID).
		First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return false, &existing, nil
}

func (r *PostgresRepository) UpdateReading(ctx context.Context, reading *ingestdomain.ReadingRecord) error {
	return r.db.WithContext(ctx).
		Model(&ingestdomain.ReadingRecord{}).
		Where("id = ?", reading.ID).
		Updates(map[string]any{
			"status":         reading.Status,
			"measurement_id": reading.MeasurementID,
			"flower_id":      reading.FlowerID,
			"error_code":     reading.ErrorCode,
			"error_message":  reading.ErrorMessage,
			"retryable":      reading.Retryable,
		}).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
