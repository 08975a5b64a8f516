package measurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	measurementdomain "smartpot-app-go/internal/domain/measurement"
)

func newTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&measurementdomain.Measurement{}))
	return NewPostgres(db)
}

func insert(t *testing.T, repo *PostgresRepository, flowerID string, kind measurementdomain.Type, value float64, at time.Time) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, repo.Create(context.Background(), &measurementdomain.Measurement{
		ID:           id,
		FlowerID:     flowerID,
		SerialNumber: "SN001",
		Type:         kind,
		Value:        value,
		CreatedAt:    at,
	}))
	return id
}

func TestListByFlowerKeepsNewestInAscendingOrder(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insert(t, repo, "f1", measurementdomain.TypeHumidity, float64(40+i), base.Add(time.Duration(i)*time.Minute))
	}
	insert(t, repo, "f2", measurementdomain.TypeHumidity, 10, base)

	items, err := repo.ListByFlower(context.Background(), "f1", measurementdomain.HistoryFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, 42.0, items[0].Value)
	require.Equal(t, 44.0, items[2].Value)

	items, err = repo.ListByFlower(context.Background(), "f1", measurementdomain.HistoryFilter{
		From: base.Add(time.Minute),
		To:   base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestLatestPerType(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	insert(t, repo, "f1", measurementdomain.TypeHumidity, 40, base)
	insert(t, repo, "f1", measurementdomain.TypeHumidity, 45, base.Add(time.Minute))
	insert(t, repo, "f1", measurementdomain.TypeTemperature, 21.5, base)

	latest, err := repo.Latest(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, item := range latest {
		if item.Type == measurementdomain.TypeHumidity {
			require.Equal(t, 45.0, item.Value)
		}
	}
}

func TestUpdateAndDeleteMissing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, repo.UpdateValue(ctx, "missing", 1), measurementdomain.ErrMeasurementNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "missing"), measurementdomain.ErrMeasurementNotFound)

	id := insert(t, repo, "f1", measurementdomain.TypeLight, 300, time.Now().UTC())
	require.NoError(t, repo.UpdateValue(ctx, id, 350))
	item, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 350.0, item.Value)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	require.ErrorIs(t, err, measurementdomain.ErrMeasurementNotFound)
}
