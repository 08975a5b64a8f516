package binding

import (
	"context"
	"errors"
	"fmt"

	"smartpot-app-go/pkg/logger"
)

const DefaultMaxVersionRetries = 3

// ErrNotBound is returned when a reading arrives from a pot that serves no flower.
var ErrNotBound = fmt.Errorf("smart pot is not bound: %w", ErrPreconditionFailed)

// Enforcer owns every mutation of the flower/smart pot binding fields.
type Enforcer struct {
	repo       Repository
	notifier   Notifier
	log        logger.Logger
	maxRetries int
}

func NewEnforcer(repo Repository, notifier Notifier, log logger.Logger, maxRetries int) *Enforcer {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxVersionRetries
	}
	return &Enforcer{
		repo:       repo,
		notifier:   notifier,
		log:        logger.OrNop(log).Component("binding"),
		maxRetries: maxRetries,
	}
}

func (e *Enforcer) Bind(ctx context.Context, flowerID, serial string) (Outcome, error) {
	return e.mutate(ctx, "bind", func(s *session) (Outcome, error) {
		flower, err := s.loadFlower(flowerID)
		if err != nil {
			return Outcome{}, err
		}
		pot, err := s.loadPot(serial)
		if err != nil {
			return Outcome{}, err
		}

		if flower.IsBound() {
			if flower.BoundSerial() == serial {
				return bound(flower.ID, serial, s.repaired()), nil
			}
			return rejected(flowerID), conflict(flowerID, serial, "flower already bound to "+flower.BoundSerial())
		}
		if pot.IsBound() {
			return rejected(flowerID), conflict(flowerID, serial, "smart pot serves flower "+pot.ActiveFlower())
		}
		if pot.Household() != flower.HouseholdID {
			return rejected(flowerID), conflict(flowerID, serial, "flower and smart pot belong to different households")
		}

		if err := s.setFlower(flower, &serial, nil); err != nil {
			return Outcome{}, err
		}
		if err := s.setPot(pot, &flower.ID, false, nil); err != nil {
			return Outcome{}, err
		}
		s.emit(flower.ID, &serial)
		return bound(flower.ID, serial, s.repaired()), nil
	})
}

// Unbind clears the flower's binding. Unbinding an unbound flower is not an error.
func (e *Enforcer) Unbind(ctx context.Context, flowerID string) (Outcome, error) {
	return e.mutate(ctx, "unbind", func(s *session) (Outcome, error) {
		flower, err := s.loadFlower(flowerID)
		if err != nil {
			return Outcome{}, err
		}
		if err := s.clearFlowerBinding(flower); err != nil {
			return Outcome{}, err
		}
		return unbound(flower.ID, s.repaired()), nil
	})
}

// UnbindPot clears the binding from the smart pot side.
func (e *Enforcer) UnbindPot(ctx context.Context, serial string) (Outcome, error) {
	return e.mutate(ctx, "unbind_pot", func(s *session) (Outcome, error) {
		pot, err := s.loadPot(serial)
		if err != nil {
			return Outcome{}, err
		}
		if !pot.IsBound() {
			return unbound("", s.repaired()), nil
		}
		flower, err := s.tx.GetFlower(s.ctx, pot.ActiveFlower())
		if err != nil {
			return Outcome{}, err
		}
		if err := s.clearFlowerBinding(flower); err != nil {
			return Outcome{}, err
		}
		return unbound(flower.ID, s.repaired()), nil
	})
}

// RebindPotHousehold moves a smart pot to householdID ("" leaves it
// unassigned). With clearBinding the pot is unbound first; otherwise a bound
// flower must already live in householdID.
func (e *Enforcer) RebindPotHousehold(ctx context.Context, serial, householdID string, clearBinding bool) (Outcome, error) {
	return e.mutate(ctx, "rebind_pot_household", func(s *session) (Outcome, error) {
		if householdID != "" {
			if _, err := s.tx.GetHousehold(s.ctx, householdID); err != nil {
				return Outcome{}, err
			}
		}
		pot, err := s.loadPot(serial)
		if err != nil {
			return Outcome{}, err
		}

		if !pot.IsBound() {
			if err := s.setPot(pot, nil, true, stringPtr(householdID)); err != nil {
				return Outcome{}, err
			}
			return unbound("", s.repaired()), nil
		}

		flower, err := s.tx.GetFlower(s.ctx, pot.ActiveFlower())
		if err != nil {
			return Outcome{}, err
		}
		if clearBinding {
			if err := s.setFlower(flower, nil, nil); err != nil {
				return Outcome{}, err
			}
			if err := s.setPot(pot, nil, true, stringPtr(householdID)); err != nil {
				return Outcome{}, err
			}
			s.emit(flower.ID, nil)
			return unbound(flower.ID, s.repaired()), nil
		}

		if flower.HouseholdID != householdID {
			return rejected(flower.ID), conflict(flower.ID, serial, "bound flower is not in household "+householdID)
		}
		if err := s.setPot(pot, pot.ActiveFlowerID, true, stringPtr(householdID)); err != nil {
			return Outcome{}, err
		}
		return bound(flower.ID, serial, s.repaired()), nil
	})
}

// MoveBoundPotHousehold moves a smart pot that must still serve flowerID,
// which must already live in householdID. Any other binding state is a
// conflict and nothing is moved.
func (e *Enforcer) MoveBoundPotHousehold(ctx context.Context, serial, flowerID, householdID string) (Outcome, error) {
	return e.mutate(ctx, "move_bound_pot_household", func(s *session) (Outcome, error) {
		if _, err := s.tx.GetHousehold(s.ctx, householdID); err != nil {
			return Outcome{}, err
		}
		pot, err := s.loadPot(serial)
		if err != nil {
			return Outcome{}, err
		}
		if pot.ActiveFlower() != flowerID {
			return rejected(flowerID), conflict(flowerID, serial, "smart pot no longer serves flower "+flowerID)
		}

		flower, err := s.tx.GetFlower(s.ctx, flowerID)
		if err != nil {
			return Outcome{}, err
		}
		if flower.HouseholdID != householdID {
			return rejected(flowerID), conflict(flowerID, serial, "bound flower is not in household "+householdID)
		}
		if err := s.setPot(pot, pot.ActiveFlowerID, true, stringPtr(householdID)); err != nil {
			return Outcome{}, err
		}
		return bound(flowerID, serial, s.repaired()), nil
	})
}

// MoveFlowerHousehold re-homes a flower. Without clearBinding a bound pot
// stays in its household until RebindPotHousehold follows; that gap is the
// intermediate state of a keep-pot transplant and must not be left behind.
func (e *Enforcer) MoveFlowerHousehold(ctx context.Context, flowerID, householdID string, clearBinding bool) (Outcome, error) {
	return e.mutate(ctx, "move_flower_household", func(s *session) (Outcome, error) {
		if _, err := s.tx.GetHousehold(s.ctx, householdID); err != nil {
			return Outcome{}, err
		}
		flower, err := s.loadFlower(flowerID)
		if err != nil {
			return Outcome{}, err
		}

		if flower.IsBound() && clearBinding {
			if err := s.clearFlowerBinding(flower); err != nil {
				return Outcome{}, err
			}
		}
		if flower.HouseholdID != householdID {
			if err := s.setFlower(flower, flower.SerialNumber, &householdID); err != nil {
				return Outcome{}, err
			}
		}
		if flower.IsBound() {
			return bound(flower.ID, flower.BoundSerial(), s.repaired()), nil
		}
		return unbound(flower.ID, s.repaired()), nil
	})
}

// FlowerState returns a verified view of the flower. Asymmetric bindings are
// repaired before the view is returned and reported as OutcomeConsistencyViolation.
func (e *Enforcer) FlowerState(ctx context.Context, flowerID string) (*Flower, Outcome, error) {
	peek := e.newSession(ctx, e.repo, true)
	flower, err := peek.loadFlower(flowerID)
	if err != nil {
		return nil, Outcome{}, err
	}
	if !peek.repaired() {
		return flower, flowerOutcome(flower, false), nil
	}

	var healed *Flower
	_, err = e.mutate(ctx, "inspect_flower", func(s *session) (Outcome, error) {
		f, err := s.loadFlower(flowerID)
		if err != nil {
			return Outcome{}, err
		}
		healed = f
		return flowerOutcome(f, s.repaired()), nil
	})
	if err != nil {
		return nil, Outcome{}, err
	}
	return healed, flowerOutcome(healed, true), nil
}

// PotState is the smart pot counterpart of FlowerState.
func (e *Enforcer) PotState(ctx context.Context, serial string) (*SmartPot, Outcome, error) {
	peek := e.newSession(ctx, e.repo, true)
	pot, err := peek.loadPot(serial)
	if err != nil {
		return nil, Outcome{}, err
	}
	if !peek.repaired() {
		return pot, potOutcome(pot, false), nil
	}

	var healed *SmartPot
	_, err = e.mutate(ctx, "inspect_pot", func(s *session) (Outcome, error) {
		p, err := s.loadPot(serial)
		if err != nil {
			return Outcome{}, err
		}
		healed = p
		return potOutcome(p, s.repaired()), nil
	})
	if err != nil {
		return nil, Outcome{}, err
	}
	return healed, potOutcome(healed, true), nil
}

func (e *Enforcer) Inspect(ctx context.Context, flowerID string) (Outcome, error) {
	_, outcome, err := e.FlowerState(ctx, flowerID)
	return outcome, err
}

// OwningFlower resolves the flower a smart pot currently serves.
func (e *Enforcer) OwningFlower(ctx context.Context, serial string) (string, error) {
	_, outcome, err := e.PotState(ctx, serial)
	if err != nil {
		return "", err
	}
	pair, ok := outcome.Bound()
	if !ok {
		return "", ErrNotBound
	}
	return pair.FlowerID, nil
}

// CheckMembership fails with ErrForbidden unless userID belongs to every household.
func (e *Enforcer) CheckMembership(ctx context.Context, userID string, householdIDs ...string) error {
	seen := make(map[string]struct{}, len(householdIDs))
	for _, householdID := range householdIDs {
		if householdID == "" {
			continue
		}
		if _, ok := seen[householdID]; ok {
			continue
		}
		seen[householdID] = struct{}{}

		member, err := e.repo.IsHouseholdMember(ctx, householdID, userID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("household %s: %w", householdID, ErrForbidden)
		}
	}
	return nil
}

func (e *Enforcer) Household(ctx context.Context, householdID string) (*Household, error) {
	return e.repo.GetHousehold(ctx, householdID)
}

// mutate runs fn in one store transaction and retries on version conflicts.
// A ConflictError returned by fn still commits repairs made while loading.
func (e *Enforcer) mutate(ctx context.Context, op string, fn func(*session) (Outcome, error)) (Outcome, error) {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		var (
			outcome   Outcome
			rejection error
			s         *session
		)
		err := e.repo.Transaction(ctx, func(tx Repository) error {
			s = e.newSession(ctx, tx, false)
			result, err := fn(s)
			if err != nil {
				var conflictErr *ConflictError
				if errors.As(err, &conflictErr) {
					outcome = result
					rejection = err
					return nil
				}
				return err
			}
			outcome = result
			return nil
		})
		if err == nil {
			s.publish()
			if rejection != nil {
				e.log.BusinessError("binding."+op+": rejected", rejection)
			}
			return outcome, rejection
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Outcome{}, err
		}
		e.log.Debug("binding."+op+": version conflict, retrying", "attempt", attempt, "max", e.maxRetries)
	}

	err := &ConflictError{Reason: fmt.Sprintf("%s: concurrent modification after %d attempts", op, e.maxRetries)}
	e.log.BusinessError("binding."+op+": retries exhausted", err)
	return Outcome{Kind: OutcomeConflict}, err
}

func (e *Enforcer) newSession(ctx context.Context, tx Repository, dryRun bool) *session {
	return &session{ctx: ctx, tx: tx, dryRun: dryRun, enforcer: e}
}

func rejected(flowerID string) Outcome {
	return Outcome{Kind: OutcomeConflict, FlowerID: flowerID}
}

func flowerOutcome(flower *Flower, repaired bool) Outcome {
	outcome := unbound(flower.ID, repaired)
	if flower.IsBound() {
		outcome = bound(flower.ID, flower.BoundSerial(), repaired)
	}
	if repaired {
		outcome.Kind = OutcomeConsistencyViolation
	}
	return outcome
}

func potOutcome(pot *SmartPot, repaired bool) Outcome {
	outcome := unbound("", repaired)
	if pot.IsBound() {
		outcome = bound(pot.ActiveFlower(), pot.SerialNumber, repaired)
	}
	if repaired {
		outcome.Kind = OutcomeConsistencyViolation
	}
	return outcome
}
