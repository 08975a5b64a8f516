package inmemory

import (
	"context"
	"errors"
	"testing"

	bindingdomain "smartpot-app-go/internal/domain/binding"
)

func TestBindingStoreTransactionDiscardsOnError(t *testing.T) {
	store := NewBindingStore()
	serial := "SN001"
	store.AddFlower(bindingdomain.Flower{ID: "f1", HouseholdID: "h1", SerialNumber: &serial})
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx bindingdomain.Repository) error {
		if err := tx.UpdateFlowerBinding(ctx, bindingdomain.FlowerBindingUpdate{ID: "f1", ExpectedVersion: 1}); err != nil {
			return err
		}
		flower, err := tx.GetFlower(ctx, "f1")
		if err != nil {
			return err
		}
		if flower.IsBound() {
			t.Fatalf("expected staged write visible inside transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	flower, err := store.GetFlower(ctx, "f1")
	if err != nil {
		t.Fatalf("get flower: %v", err)
	}
	if flower.BoundSerial() != "SN001" || flower.Version != 1 {
		t.Fatalf("expected rollback, got %+v", flower)
	}
}

func TestBindingStoreVersionCheck(t *testing.T) {
	store := NewBindingStore()
	store.AddSmartPot(bindingdomain.SmartPot{ID: "p1", SerialNumber: "SN001"})
	ctx := context.Background()

	err := store.UpdateSmartPotBinding(ctx, bindingdomain.SmartPotBindingUpdate{SerialNumber: "SN001", ExpectedVersion: 3})
	if !errors.Is(err, bindingdomain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	household := "h2"
	err = store.UpdateSmartPotBinding(ctx, bindingdomain.SmartPotBindingUpdate{SerialNumber: "SN001", SetHousehold: true, HouseholdID: &household, ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("expected update, got %v", err)
	}
	household = "mutated"

	pot, _ := store.GetSmartPot(ctx, "SN001")
	if pot.Household() != "h2" || pot.Version != 2 {
		t.Fatalf("expected h2 at version 2, got %+v", pot)
	}

	if _, err := store.GetSmartPot(ctx, "SN404"); !errors.Is(err, bindingdomain.ErrSmartPotNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBindingStoreMembership(t *testing.T) {
	store := NewBindingStore()
	store.AddHousehold(bindingdomain.Household{ID: "h1", OwnerID: "u1"}, "u2")

	for _, userID := range []string{"u1", "u2"} {
		member, _ := store.IsHouseholdMember(context.Background(), "h1", userID)
		if !member {
			t.Fatalf("expected %s to be a member", userID)
		}
	}
	member, _ := store.IsHouseholdMember(context.Background(), "h1", "u3")
	if member {
		t.Fatalf("expected u3 not to be a member")
	}
}
