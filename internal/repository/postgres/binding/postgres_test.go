package binding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	bindingdomain "smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&bindingdomain.Household{},
		&bindingdomain.HouseholdMember{},
		&bindingdomain.Flower{},
		&bindingdomain.SmartPot{},
	))
	return db
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()

	h1 := "h1"
	serial := "SN001"
	flowerID := "f1"
	require.NoError(t, db.Create(&bindingdomain.Household{ID: "h1", Name: "Home", OwnerID: "u1"}).Error)
	require.NoError(t, db.Create(&bindingdomain.Household{ID: "h2", Name: "Office", OwnerID: "u2"}).Error)
	require.NoError(t, db.Create(&bindingdomain.HouseholdMember{HouseholdID: "h1", UserID: "u1", Role: bindingdomain.RoleOwner}).Error)
	require.NoError(t, db.Create(&bindingdomain.Flower{ID: "f1", Name: "Basil", HouseholdID: "h1", SerialNumber: &serial, Version: 1}).Error)
	require.NoError(t, db.Create(&bindingdomain.Flower{ID: "f2", Name: "Mint", HouseholdID: "h1", Version: 1}).Error)
	require.NoError(t, db.Create(&bindingdomain.SmartPot{ID: uuid.NewString(), SerialNumber: "SN001", HouseholdID: &h1, ActiveFlowerID: &flowerID, Version: 1}).Error)
	require.NoError(t, db.Create(&bindingdomain.SmartPot{ID: uuid.NewString(), SerialNumber: "SN002", HouseholdID: &h1, Version: 1}).Error)
}

func TestGetNotFoundMapsToDomainErrors(t *testing.T) {
	repo := NewPostgres(newTestDB(t))
	ctx := context.Background()

	_, err := repo.GetFlower(ctx, "missing")
	require.ErrorIs(t, err, bindingdomain.ErrFlowerNotFound)
	require.ErrorIs(t, err, bindingdomain.ErrNotFound)

	_, err = repo.GetSmartPot(ctx, "missing")
	require.ErrorIs(t, err, bindingdomain.ErrSmartPotNotFound)

	_, err = repo.GetSmartPotByFlower(ctx, "missing")
	require.ErrorIs(t, err, bindingdomain.ErrSmartPotNotFound)

	_, err = repo.GetHousehold(ctx, "missing")
	require.ErrorIs(t, err, bindingdomain.ErrHouseholdNotFound)
}

func TestUpdateFlowerBindingChecksVersion(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewPostgres(db)
	ctx := context.Background()

	err := repo.UpdateFlowerBinding(ctx, bindingdomain.FlowerBindingUpdate{ID: "f1", ExpectedVersion: 7})
	require.ErrorIs(t, err, bindingdomain.ErrVersionConflict)

	h2 := "h2"
	require.NoError(t, repo.UpdateFlowerBinding(ctx, bindingdomain.FlowerBindingUpdate{ID: "f1", HouseholdID: &h2, ExpectedVersion: 1}))

	flower, err := repo.GetFlower(ctx, "f1")
	require.NoError(t, err)
	require.Nil(t, flower.SerialNumber)
	require.Equal(t, "h2", flower.HouseholdID)
	require.Equal(t, int64(2), flower.Version)

	err = repo.UpdateFlowerBinding(ctx, bindingdomain.FlowerBindingUpdate{ID: "nope", ExpectedVersion: 1})
	require.ErrorIs(t, err, bindingdomain.ErrFlowerNotFound)
}

func TestUpdateSmartPotBindingHousehold(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewPostgres(db)
	ctx := context.Background()

	flowerID := "f1"
	require.NoError(t, repo.UpdateSmartPotBinding(ctx, bindingdomain.SmartPotBindingUpdate{
		SerialNumber:    "SN001",
		ActiveFlowerID:  &flowerID,
		SetHousehold:    true,
		ExpectedVersion: 1,
	}))

	pot, err := repo.GetSmartPot(ctx, "SN001")
	require.NoError(t, err)
	require.Nil(t, pot.HouseholdID)
	require.Equal(t, "f1", pot.ActiveFlower())
	require.Equal(t, int64(2), pot.Version)

	err = repo.UpdateSmartPotBinding(ctx, bindingdomain.SmartPotBindingUpdate{SerialNumber: "SN001", ExpectedVersion: 1})
	require.ErrorIs(t, err, bindingdomain.ErrVersionConflict)

	err = repo.UpdateSmartPotBinding(ctx, bindingdomain.SmartPotBindingUpdate{SerialNumber: "SN404", ExpectedVersion: 1})
	require.ErrorIs(t, err, bindingdomain.ErrSmartPotNotFound)
}

func TestIsHouseholdMember(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewPostgres(db)

	member, err := repo.IsHouseholdMember(context.Background(), "h1", "u1")
	require.NoError(t, err)
	require.True(t, member)

	member, err = repo.IsHouseholdMember(context.Background(), "h2", "u1")
	require.NoError(t, err)
	require.False(t, member)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewPostgres(db)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx bindingdomain.Repository) error {
		if err := tx.UpdateFlowerBinding(ctx, bindingdomain.FlowerBindingUpdate{ID: "f1", ExpectedVersion: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	flower, err := repo.GetFlower(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "SN001", flower.BoundSerial())
	require.Equal(t, int64(1), flower.Version)
}

func TestEnforcerAgainstSQLStore(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	enforcer := bindingdomain.NewEnforcer(NewPostgres(db), nil, logger.NewNop(), 0)
	ctx := context.Background()

	_, err := enforcer.Bind(ctx, "f2", "SN001")
	var conflictErr *bindingdomain.ConflictError
	require.ErrorAs(t, err, &conflictErr)

	outcome, err := enforcer.Unbind(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, bindingdomain.OutcomeUnbound, outcome.Kind)

	outcome, err = enforcer.Bind(ctx, "f2", "SN001")
	require.NoError(t, err)
	pair, ok := outcome.Bound()
	require.True(t, ok)
	require.Equal(t, bindingdomain.BoundPair{FlowerID: "f2", SerialNumber: "SN001"}, pair)

	owner, err := enforcer.OwningFlower(ctx, "SN001")
	require.NoError(t, err)
	require.Equal(t, "f2", owner)
}
