package inmemory

import (
	"context"
	"sync"
	"time"

	bindingdomain "smartpot-app-go/internal/domain/binding"
)

// BindingStore is a versioned, transactional entity store kept in memory.
// Transactions are serialised and work on a copy that replaces the live data
// on commit.
type BindingStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *bindingData
}

type bindingData struct {
	flowers    map[string]bindingdomain.Flower
	pots       map[string]bindingdomain.SmartPot
	households map[string]bindingdomain.Household
	members    map[string]map[string]string
}

func NewBindingStore() *BindingStore {
	return &BindingStore{
		data: &bindingData{
			flowers:    make(map[string]bindingdomain.Flower),
			pots:       make(map[string]bindingdomain.SmartPot),
			households: make(map[string]bindingdomain.Household),
			members:    make(map[string]map[string]string),
		},
	}
}

func (s *BindingStore) AddHousehold(household bindingdomain.Household, members ...string) {
	s.write(func(d *bindingData) error {
		now := time.Now().UTC()
		if household.CreatedAt.IsZero() {
			household.CreatedAt = now
		}
		household.UpdatedAt = now
		d.households[household.ID] = household

		roles, ok := d.members[household.ID]
		if !ok {
			roles = make(map[string]string)
			d.members[household.ID] = roles
		}
		if household.OwnerID != "" {
			roles[household.OwnerID] = bindingdomain.RoleOwner
		}
		for _, userID := range members {
			if _, exists := roles[userID]; !exists {
				roles[userID] = bindingdomain.RoleMember
			}
		}
		return nil
	})
}

func (s *BindingStore) AddFlower(flower bindingdomain.Flower) {
	s.write(func(d *bindingData) error {
		if flower.Version == 0 {
			flower.Version = 1
		}
		flower.SerialNumber = cloneString(flower.SerialNumber)
		flower.ProfileID = cloneString(flower.ProfileID)
		d.flowers[flower.ID] = flower
		return nil
	})
}

func (s *BindingStore) AddSmartPot(pot bindingdomain.SmartPot) {
	s.write(func(d *bindingData) error {
		if pot.Version == 0 {
			pot.Version = 1
		}
		pot.HouseholdID = cloneString(pot.HouseholdID)
		pot.ActiveFlowerID = cloneString(pot.ActiveFlowerID)
		d.pots[pot.SerialNumber] = pot
		return nil
	})
}

func (s *BindingStore) Transaction(ctx context.Context, fn func(bindingdomain.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&bindingTx{data: staged}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
	return nil
}

func (s *BindingStore) GetFlower(ctx context.Context, id string) (*bindingdomain.Flower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getFlower(id)
}

func (s *BindingStore) GetSmartPot(ctx context.Context, serial string) (*bindingdomain.SmartPot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getSmartPot(serial)
}

func (s *BindingStore) GetSmartPotByFlower(ctx context.Context, flowerID string) (*bindingdomain.SmartPot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getSmartPotByFlower(flowerID)
}

func (s *BindingStore) GetHousehold(ctx context.Context, id string) (*bindingdomain.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getHousehold(id)
}

func (s *BindingStore) IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.isMember(householdID, userID), nil
}

func (s *BindingStore) UpdateFlowerBinding(ctx context.Context, update bindingdomain.FlowerBindingUpdate) error {
	return s.write(func(d *bindingData) error {
		return d.updateFlower(update)
	})
}

func (s *BindingStore) UpdateSmartPotBinding(ctx context.Context, update bindingdomain.SmartPotBindingUpdate) error {
	return s.write(func(d *bindingData) error {
		return d.updatePot(update)
	})
}

// write applies a single change outside an explicit transaction.
func (s *BindingStore) write(fn func(*bindingData) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

type bindingTx struct {
	data *bindingData
}

func (t *bindingTx) Transaction(ctx context.Context, fn func(bindingdomain.Repository) error) error {
	return fn(t)
}

func (t *bindingTx) GetFlower(ctx context.Context, id string) (*bindingdomain.Flower, error) {
	return t.data.getFlower(id)
}

func (t *bindingTx) GetSmartPot(ctx context.Context, serial string) (*bindingdomain.SmartPot, error) {
	return t.data.getSmartPot(serial)
}

func (t *bindingTx) GetSmartPotByFlower(ctx context.Context, flowerID string) (*bindingdomain.SmartPot, error) {
	return t.data.getSmartPotByFlower(flowerID)
}

func (t *bindingTx) GetHousehold(ctx context.Context, id string) (*bindingdomain.Household, error) {
	return t.data.getHousehold(id)
}

func (t *bindingTx) IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error) {
	return t.data.isMember(householdID, userID), nil
}

func (t *bindingTx) UpdateFlowerBinding(ctx context.Context, update bindingdomain.FlowerBindingUpdate) error {
	return t.data.updateFlower(update)
}

func (t *bindingTx) UpdateSmartPotBinding(ctx context.Context, update bindingdomain.SmartPotBindingUpdate) error {
	return t.data.updatePot(update)
}

func (d *bindingData) clone() *bindingData {
	cloned := &bindingData{
		flowers:    make(map[string]bindingdomain.Flower, len(d.flowers)),
		pots:       make(map[string]bindingdomain.SmartPot, len(d.pots)),
		households: make(map[string]bindingdomain.Household, len(d.households)),
		members:    make(map[string]map[string]string, len(d.members)),
	}
	for id, flower := range d.flowers {
		cloned.flowers[id] = flower
	}
	for serial, pot := range d.pots {
		cloned.pots[serial] = pot
	}
	for id, household := range d.households {
		cloned.households[id] = household
	}
	for id, roles := range d.members {
		copied := make(map[string]string, len(roles))
		for userID, role := range roles {
			copied[userID] = role
		}
		cloned.members[id] = copied
	}
	return cloned
}

func (d *bindingData) getFlower(id string) (*bindingdomain.Flower, error) {
	flower, ok := d.flowers[id]
	if !ok {
		return nil, bindingdomain.ErrFlowerNotFound
	}
	flower.SerialNumber = cloneString(flower.SerialNumber)
	flower.ProfileID = cloneString(flower.ProfileID)
	return &flower, nil
}

func (d *bindingData) getSmartPot(serial string) (*bindingdomain.SmartPot, error) {
	pot, ok := d.pots[serial]
	if !ok {
		return nil, bindingdomain.ErrSmartPotNotFound
	}
	pot.HouseholdID = cloneString(pot.HouseholdID)
	pot.ActiveFlowerID = cloneString(pot.ActiveFlowerID)
	return &pot, nil
}

func (d *bindingData) getSmartPotByFlower(flowerID string) (*bindingdomain.SmartPot, error) {
	for serial, pot := range d.pots {
		if pot.ActiveFlowerID != nil && *pot.ActiveFlowerID == flowerID {
			return d.getSmartPot(serial)
		}
	}
	return nil, bindingdomain.ErrSmartPotNotFound
}

func (d *bindingData) getHousehold(id string) (*bindingdomain.Household, error) {
	household, ok := d.households[id]
	if !ok {
		return nil, bindingdomain.ErrHouseholdNotFound
	}
	return &household, nil
}

func (d *bindingData) isMember(householdID, userID string) bool {
	roles, ok := d.members[householdID]
	if !ok {
		return false
	}
	_, ok = roles[userID]
	return ok
}

func (d *bindingData) updateFlower(update bindingdomain.FlowerBindingUpdate) error {
	flower, ok := d.flowers[update.ID]
	if !ok {
		return bindingdomain.ErrFlowerNotFound
	}
	if flower.Version != update.ExpectedVersion {
		return bindingdomain.ErrVersionConflict
	}
	flower.SerialNumber = cloneString(update.SerialNumber)
	if update.HouseholdID != nil {
		flower.HouseholdID = *update.HouseholdID
	}
	flower.Version++
	flower.UpdatedAt = time.Now().UTC()
	d.flowers[flower.ID] = flower
	return nil
}

func (d *bindingData) updatePot(update bindingdomain.SmartPotBindingUpdate) error {
	pot, ok := d.pots[update.SerialNumber]
	if !ok {
		return bindingdomain.ErrSmartPotNotFound
	}
	if pot.Version != update.ExpectedVersion {
		return bindingdomain.ErrVersionConflict
	}
	pot.ActiveFlowerID = cloneString(update.ActiveFlowerID)
	if update.SetHousehold {
		pot.HouseholdID = cloneString(update.HouseholdID)
	}
	pot.Version++
	pot.UpdatedAt = time.Now().UTC()
	d.pots[pot.SerialNumber] = pot
	return nil
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
