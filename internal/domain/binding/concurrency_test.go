package binding_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/repository/inmemory"
)

func TestConcurrentBindHasExactlyOneWinner(t *testing.T) {
	store := inmemory.NewBindingStore()
	store.AddHousehold(binding.Household{ID: "h1", Name: "Home", OwnerID: "u1"})
	store.AddFlower(binding.Flower{ID: "f1", Name: "Basil", HouseholdID: "h1"})
	h1 := "h1"
	store.AddSmartPot(binding.SmartPot{ID: "p1", SerialNumber: "SN001", HouseholdID: &h1})
	store.AddSmartPot(binding.SmartPot{ID: "p2", SerialNumber: "SN002", HouseholdID: &h1})
	enforcer := binding.NewEnforcer(store, nil, nil, 0)

	serials := []string{"SN001", "SN002"}
	errs := make([]error, len(serials))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, serial := range serials {
		wg.Add(1)
		go func(i int, serial string) {
			defer wg.Done()
			<-start
			_, errs[i] = enforcer.Bind(context.Background(), "f1", serial)
		}(i, serial)
	}
	close(start)
	wg.Wait()

	var winners, conflicts int
	winner := ""
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
			winner = serials[i]
		case errors.Is(err, binding.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", winners, conflicts)
	}

	flower, _ := store.GetFlower(context.Background(), "f1")
	if flower.BoundSerial() != winner {
		t.Fatalf("expected flower bound to %s, got %s", winner, flower.BoundSerial())
	}
	for _, serial := range serials {
		pot, _ := store.GetSmartPot(context.Background(), serial)
		if serial == winner && pot.ActiveFlower() != "f1" {
			t.Fatalf("expected winner pot to serve f1")
		}
		if serial != winner && pot.IsBound() {
			t.Fatalf("expected loser pot %s unchanged, got %+v", serial, pot)
		}
	}
}

func TestConcurrentMutationsKeepBindingsSymmetric(t *testing.T) {
	store := inmemory.NewBindingStore()
	store.AddHousehold(binding.Household{ID: "h1", Name: "Home", OwnerID: "u1"})
	h1 := "h1"
	const size = 4
	for i := 0; i < size; i++ {
		store.AddFlower(binding.Flower{ID: fmt.Sprintf("f%d", i), Name: "plant", HouseholdID: "h1"})
		store.AddSmartPot(binding.SmartPot{ID: fmt.Sprintf("p%d", i), SerialNumber: fmt.Sprintf("SN%d", i), HouseholdID: &h1})
	}
	enforcer := binding.NewEnforcer(store, nil, nil, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				flowerID := fmt.Sprintf("f%d", (worker+i)%size)
				serial := fmt.Sprintf("SN%d", (worker*3+i)%size)
				if i%3 == 0 {
					_, _ = enforcer.Unbind(ctx, flowerID)
					continue
				}
				_, _ = enforcer.Bind(ctx, flowerID, serial)
			}
		}(worker)
	}
	wg.Wait()

	for i := 0; i < size; i++ {
		flower, _ := store.GetFlower(ctx, fmt.Sprintf("f%d", i))
		if flower.IsBound() {
			pot, _ := store.GetSmartPot(ctx, flower.BoundSerial())
			if pot.ActiveFlower() != flower.ID {
				t.Fatalf("flower %s points to %s which serves %q", flower.ID, pot.SerialNumber, pot.ActiveFlower())
			}
		}
		pot, _ := store.GetSmartPot(ctx, fmt.Sprintf("SN%d", i))
		if pot.IsBound() {
			owner, _ := store.GetFlower(ctx, pot.ActiveFlower())
			if owner.BoundSerial() != pot.SerialNumber {
				t.Fatalf("pot %s serves %s which points to %q", pot.SerialNumber, owner.ID, owner.BoundSerial())
			}
		}
	}
}
