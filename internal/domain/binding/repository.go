package binding

import "context"

// Repository is the entity store. Update methods must fail with
// ErrVersionConflict when the stored version differs from ExpectedVersion
// and bump the version on success.
type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error
	GetFlower(ctx context.Context, id string) (*Flower, error)
	GetSmartPot(ctx context.Context, serial string) (*SmartPot, error)
	GetSmartPotByFlower(ctx context.Context, flowerID string) (*SmartPot, error)
	GetHousehold(ctx context.Context, id string) (*Household, error)
	IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error)
	UpdateFlowerBinding(ctx context.Context, update FlowerBindingUpdate) error
	UpdateSmartPotBinding(ctx context.Context, update SmartPotBindingUpdate) error
}
