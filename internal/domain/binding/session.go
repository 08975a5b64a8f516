package binding

import (
	"context"
	"errors"
)

type violation struct {
	flowerID string
	serial   string
	detail   string
}

// session is one attempt of an Enforcer operation against a transaction.
// In dry-run mode violations are recorded but nothing is written.
type session struct {
	ctx        context.Context
	tx         Repository
	dryRun     bool
	enforcer   *Enforcer
	events     []Event
	violations []violation
}

func (s *session) repaired() bool {
	return len(s.violations) > 0
}

// loadFlower reads a flower and clears whatever half of its binding is not
// mirrored by the other side.
func (s *session) loadFlower(id string) (*Flower, error) {
	flower, err := s.tx.GetFlower(s.ctx, id)
	if err != nil {
		return nil, err
	}

	if flower.IsBound() {
		pot, err := s.tx.GetSmartPot(s.ctx, flower.BoundSerial())
		switch {
		case errors.Is(err, ErrSmartPotNotFound):
			if err := s.repairFlower(flower, "bound smart pot does not exist"); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		case pot.ActiveFlower() != flower.ID:
			if err := s.repairFlower(flower, "smart pot points to "+pot.ActiveFlower()); err != nil {
				return nil, err
			}
		}
	}

	pointing, err := s.tx.GetSmartPotByFlower(s.ctx, flower.ID)
	switch {
	case errors.Is(err, ErrSmartPotNotFound):
	case err != nil:
		return nil, err
	case pointing.SerialNumber != flower.BoundSerial():
		if err := s.repairPot(pointing, "flower is bound to "+flower.BoundSerial()); err != nil {
			return nil, err
		}
	}

	return flower, nil
}

func (s *session) loadPot(serial string) (*SmartPot, error) {
	pot, err := s.tx.GetSmartPot(s.ctx, serial)
	if err != nil {
		return nil, err
	}
	if !pot.IsBound() {
		return pot, nil
	}

	flower, err := s.tx.GetFlower(s.ctx, pot.ActiveFlower())
	switch {
	case errors.Is(err, ErrFlowerNotFound):
		if err := s.repairPot(pot, "active flower does not exist"); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case flower.BoundSerial() != pot.SerialNumber:
		if err := s.repairPot(pot, "active flower is bound to "+flower.BoundSerial()); err != nil {
			return nil, err
		}
	}
	return pot, nil
}

func (s *session) repairFlower(flower *Flower, detail string) error {
	s.violations = append(s.violations, violation{flowerID: flower.ID, serial: flower.BoundSerial(), detail: detail})
	if s.dryRun {
		return nil
	}
	if err := s.setFlower(flower, nil, nil); err != nil {
		return err
	}
	s.emit(flower.ID, nil)
	return nil
}

func (s *session) repairPot(pot *SmartPot, detail string) error {
	s.violations = append(s.violations, violation{flowerID: pot.ActiveFlower(), serial: pot.SerialNumber, detail: detail})
	if s.dryRun {
		return nil
	}
	return s.setPot(pot, nil, false, nil)
}

// clearFlowerBinding clears both sides of a consistent binding.
func (s *session) clearFlowerBinding(flower *Flower) error {
	if !flower.IsBound() {
		return nil
	}
	pot, err := s.tx.GetSmartPot(s.ctx, flower.BoundSerial())
	if err != nil {
		return err
	}
	if err := s.setFlower(flower, nil, nil); err != nil {
		return err
	}
	if err := s.setPot(pot, nil, false, nil); err != nil {
		return err
	}
	s.emit(flower.ID, nil)
	return nil
}

func (s *session) setFlower(flower *Flower, serial *string, householdID *string) error {
	err := s.tx.UpdateFlowerBinding(s.ctx, FlowerBindingUpdate{
		ID:              flower.ID,
		SerialNumber:    serial,
		HouseholdID:     householdID,
		ExpectedVersion: flower.Version,
	})
	if err != nil {
		return err
	}
	flower.SerialNumber = serial
	if householdID != nil {
		flower.HouseholdID = *householdID
	}
	flower.Version++
	return nil
}

func (s *session) setPot(pot *SmartPot, flowerID *string, setHousehold bool, householdID *string) error {
	err := s.tx.UpdateSmartPotBinding(s.ctx, SmartPotBindingUpdate{
		SerialNumber:    pot.SerialNumber,
		ActiveFlowerID:  flowerID,
		SetHousehold:    setHousehold,
		HouseholdID:     householdID,
		ExpectedVersion: pot.Version,
	})
	if err != nil {
		return err
	}
	pot.ActiveFlowerID = flowerID
	if setHousehold {
		pot.HouseholdID = householdID
	}
	pot.Version++
	return nil
}

func (s *session) emit(flowerID string, serial *string) {
	s.events = append(s.events, Event{FlowerID: flowerID, SerialNumber: serial})
}

// publish runs after commit.
func (s *session) publish() {
	for _, v := range s.violations {
		s.enforcer.log.Warn("binding: consistency violation repaired",
			"kind", KindConsistencyViolation, "flower_id", v.flowerID, "serial", v.serial, "detail", v.detail)
	}
	for _, event := range s.events {
		s.enforcer.notifier.OnBindingChanged(s.ctx, event)
	}
}
