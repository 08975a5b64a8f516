package transplant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/pkg/logger"
)

// Binder is the subset of the binding Enforcer the orchestrator drives.
type Binder interface {
	Bind(ctx context.Context, flowerID, serial string) (binding.Outcome, error)
	Unbind(ctx context.Context, flowerID string) (binding.Outcome, error)
	RebindPotHousehold(ctx context.Context, serial, householdID string, clearBinding bool) (binding.Outcome, error)
	MoveBoundPotHousehold(ctx context.Context, serial, flowerID, householdID string) (binding.Outcome, error)
	MoveFlowerHousehold(ctx context.Context, flowerID, householdID string, clearBinding bool) (binding.Outcome, error)
	FlowerState(ctx context.Context, flowerID string) (*binding.Flower, binding.Outcome, error)
	PotState(ctx context.Context, serial string) (*binding.SmartPot, binding.Outcome, error)
	Household(ctx context.Context, householdID string) (*binding.Household, error)
	CheckMembership(ctx context.Context, userID string, householdIDs ...string) error
}

type Orchestrator struct {
	binder Binder
	log    logger.Logger
	newID  func() string
}

func NewOrchestrator(binder Binder, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		binder: binder,
		log:    logger.OrNop(log).Component("transplant"),
		newID:  uuid.NewString,
	}
}

// RebindSameHousehold moves a flower to another pot of its own household.
func (o *Orchestrator) RebindSameHousehold(ctx context.Context, req SameHouseholdRequest) (SameHouseholdResult, error) {
	s := newSaga(o.newID(), ProtocolSameHousehold, o.log)
	result := SameHouseholdResult{FlowerID: req.FlowerID, Serial: req.TargetSerial}

	if req.FlowerID == "" || req.TargetSerial == "" {
		return o.finishSame(s, result, s.reject(invalid("flowerId and targetSerial are required")))
	}
	flower, _, err := o.binder.FlowerState(ctx, req.FlowerID)
	if err != nil {
		return o.finishSame(s, result, s.reject(err))
	}
	pot, _, err := o.binder.PotState(ctx, req.TargetSerial)
	if err != nil {
		return o.finishSame(s, result, s.reject(err))
	}
	if err := o.authorize(ctx, req.ActorID, flower.HouseholdID, pot.Household()); err != nil {
		return o.finishSame(s, result, s.reject(err))
	}
	if pot.Household() != flower.HouseholdID {
		return o.finishSame(s, result, s.reject(ErrDifferentHouseholds))
	}
	if pot.IsBound() && pot.ActiveFlower() != flower.ID {
		return o.finishSame(s, result, s.reject(ErrTargetPotUnavailable))
	}
	if flower.BoundSerial() == req.TargetSerial {
		s.commitNoop()
		return o.finishSame(s, result, nil)
	}

	var steps []step
	if previous := flower.BoundSerial(); previous != "" {
		steps = append(steps, o.unbindStep("unbind_previous", flower.ID, previous))
	}
	steps = append(steps, o.bindStep("bind_target", flower.ID, req.TargetSerial))

	return o.finishSame(s, result, s.apply(ctx, steps))
}

func (o *Orchestrator) finishSame(s *saga, result SameHouseholdResult, err error) (SameHouseholdResult, error) {
	result.Report = *s.report
	return result, err
}

// TransplantFlower moves a flower to another household, with or without its pot.
func (o *Orchestrator) TransplantFlower(ctx context.Context, req FlowerTransplantRequest) (FlowerTransplantResult, error) {
	protocol := ProtocolFlowerWithoutPot
	if req.KeepPot {
		protocol = ProtocolFlowerWithPot
	}
	s := newSaga(o.newID(), protocol, o.log)
	result := FlowerTransplantResult{FlowerID: req.FlowerID, HouseholdID: req.TargetHouseholdID}

	steps, serial, err := o.planFlower(ctx, req)
	if err != nil {
		return o.finishFlower(s, result, s.reject(err))
	}
	if err := s.apply(ctx, steps); err != nil {
		return o.finishFlower(s, result, err)
	}
	result.Serial = serial
	return o.finishFlower(s, result, nil)
}

func (o *Orchestrator) finishFlower(s *saga, result FlowerTransplantResult, err error) (FlowerTransplantResult, error) {
	result.Report = *s.report
	return result, err
}

func (o *Orchestrator) planFlower(ctx context.Context, req FlowerTransplantRequest) ([]step, *string, error) {
	if req.FlowerID == "" || req.TargetHouseholdID == "" {
		return nil, nil, invalid("flowerId and targetHouseholdId are required")
	}
	if req.KeepPot && (req.AssignVacatedPot != "" || req.ReassignSourcePotTo != "") {
		return nil, nil, invalid("vacated pot options require keepPot=false")
	}

	flower, _, err := o.binder.FlowerState(ctx, req.FlowerID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := o.binder.Household(ctx, req.TargetHouseholdID); err != nil {
		return nil, nil, err
	}
	source := flower.HouseholdID
	if err := o.authorize(ctx, req.ActorID, source, req.TargetHouseholdID); err != nil {
		return nil, nil, err
	}
	if source == req.TargetHouseholdID {
		return nil, nil, ErrSameHousehold
	}

	if req.KeepPot {
		if !flower.IsBound() {
			return nil, nil, ErrFlowerNotBound
		}
		serial := flower.BoundSerial()
		steps := []step{
			{
				name:       "move_flower",
				apply:      o.moveFlower(flower.ID, req.TargetHouseholdID, false),
				compensate: o.moveFlower(flower.ID, source, false),
			},
			{
				name:       "move_pot",
				apply:      o.moveBoundPot(serial, flower.ID, req.TargetHouseholdID),
				revalidate: o.requireBinding(flower.ID, serial),
			},
		}
		return steps, &serial, nil
	}

	vacated := flower.BoundSerial()
	if req.ReassignSourcePotTo != "" {
		if vacated == "" {
			return nil, nil, invalid("flower has no pot to reassign")
		}
		if err := o.requireFreeFlower(ctx, req.ReassignSourcePotTo, source); err != nil {
			return nil, nil, err
		}
	}
	if req.AssignVacatedPot != "" {
		if err := o.requireFreePot(ctx, req.AssignVacatedPot, req.TargetHouseholdID, ErrNotInTargetHousehold); err != nil {
			return nil, nil, err
		}
	}

	var steps []step
	if vacated != "" {
		steps = append(steps, o.unbindStep("unbind_flower", flower.ID, vacated))
	}
	steps = append(steps, step{
		name:       "move_flower",
		apply:      o.moveFlower(flower.ID, req.TargetHouseholdID, true),
		compensate: o.moveFlower(flower.ID, source, true),
	})
	if req.ReassignSourcePotTo != "" {
		steps = append(steps, o.bindStep("reassign_source_pot", req.ReassignSourcePotTo, vacated))
	}
	var serial *string
	if req.AssignVacatedPot != "" {
		assigned := req.AssignVacatedPot
		steps = append(steps, o.bindStep("assign_vacated_pot", flower.ID, assigned))
		serial = &assigned
	}
	return steps, serial, nil
}

// TransplantSmartPot moves a smart pot to another household, with or without its flower.
func (o *Orchestrator) TransplantSmartPot(ctx context.Context, req SmartPotTransplantRequest) (SmartPotTransplantResult, error) {
	protocol := ProtocolSmartPotWithoutFlower
	if req.KeepFlower {
		protocol = ProtocolSmartPotWithFlower
	}
	s := newSaga(o.newID(), protocol, o.log)
	result := SmartPotTransplantResult{Serial: req.Serial, HouseholdID: req.TargetHouseholdID}

	steps, flowerID, err := o.planSmartPot(ctx, req)
	if err != nil {
		return o.finishSmartPot(s, result, s.reject(err))
	}
	if err := s.apply(ctx, steps); err != nil {
		return o.finishSmartPot(s, result, err)
	}
	result.FlowerID = flowerID
	return o.finishSmartPot(s, result, nil)
}

func (o *Orchestrator) finishSmartPot(s *saga, result SmartPotTransplantResult, err error) (SmartPotTransplantResult, error) {
	result.Report = *s.report
	return result, err
}

func (o *Orchestrator) planSmartPot(ctx context.Context, req SmartPotTransplantRequest) ([]step, *string, error) {
	if req.Serial == "" || req.TargetHouseholdID == "" {
		return nil, nil, invalid("serial and targetHouseholdId are required")
	}
	if req.KeepFlower && (req.AssignVacatedFlower != "" || req.ReassignSourceFlowerTo != "") {
		return nil, nil, invalid("vacated flower options require keepFlower=false")
	}

	pot, _, err := o.binder.PotState(ctx, req.Serial)
	if err != nil {
		return nil, nil, err
	}
	if _, err := o.binder.Household(ctx, req.TargetHouseholdID); err != nil {
		return nil, nil, err
	}
	source := pot.Household()
	if err := o.authorize(ctx, req.ActorID, source, req.TargetHouseholdID); err != nil {
		return nil, nil, err
	}
	if source == req.TargetHouseholdID {
		return nil, nil, ErrSameHousehold
	}

	served := pot.ActiveFlower()
	if req.KeepFlower {
		if served == "" {
			return []step{{name: "move_pot", apply: o.movePot(pot.SerialNumber, req.TargetHouseholdID, false)}}, nil, nil
		}
		flower, _, err := o.binder.FlowerState(ctx, served)
		if err != nil {
			return nil, nil, err
		}
		if err := o.authorize(ctx, req.ActorID, flower.HouseholdID); err != nil {
			return nil, nil, err
		}
		flowerID := served
		steps := []step{
			{
				name:       "move_flower",
				apply:      o.moveFlower(served, req.TargetHouseholdID, false),
				compensate: o.moveFlower(served, flower.HouseholdID, false),
			},
			{
				name:       "move_pot",
				apply:      o.moveBoundPot(pot.SerialNumber, served, req.TargetHouseholdID),
				revalidate: o.requireBinding(served, pot.SerialNumber),
			},
		}
		return steps, &flowerID, nil
	}

	if req.ReassignSourceFlowerTo != "" {
		if served == "" {
			return nil, nil, invalid("smart pot has no flower to reassign")
		}
		flower, _, err := o.binder.FlowerState(ctx, served)
		if err != nil {
			return nil, nil, err
		}
		if err := o.requireFreePot(ctx, req.ReassignSourceFlowerTo, flower.HouseholdID, ErrNotInSourceHousehold); err != nil {
			return nil, nil, err
		}
	}
	if req.AssignVacatedFlower != "" {
		if err := o.requireFreeFlower(ctx, req.AssignVacatedFlower, req.TargetHouseholdID); err != nil {
			return nil, nil, err
		}
	}

	var steps []step
	if served != "" {
		steps = append(steps, o.unbindStep("unbind_pot", served, pot.SerialNumber))
	}
	steps = append(steps, step{
		name:       "move_pot",
		apply:      o.movePot(pot.SerialNumber, req.TargetHouseholdID, true),
		compensate: o.movePot(pot.SerialNumber, source, true),
	})
	if req.ReassignSourceFlowerTo != "" {
		steps = append(steps, o.bindStep("reassign_source_flower", served, req.ReassignSourceFlowerTo))
	}
	var flowerID *string
	if req.AssignVacatedFlower != "" {
		assigned := req.AssignVacatedFlower
		steps = append(steps, o.bindStep("assign_vacated_flower", assigned, pot.SerialNumber))
		flowerID = &assigned
	}
	return steps, flowerID, nil
}

func (o *Orchestrator) authorize(ctx context.Context, actorID string, householdIDs ...string) error {
	if actorID == "" {
		return nil
	}
	return o.binder.CheckMembership(ctx, actorID, householdIDs...)
}

// requireFreePot checks that serial is unbound and lives in householdID.
func (o *Orchestrator) requireFreePot(ctx context.Context, serial, householdID string, wrongHousehold error) error {
	pot, _, err := o.binder.PotState(ctx, serial)
	if err != nil {
		return err
	}
	if pot.Household() != householdID {
		return wrongHousehold
	}
	if pot.IsBound() {
		return ErrTargetPotUnavailable
	}
	return nil
}

// requireFreeFlower checks that flowerID is unbound and lives in householdID.
func (o *Orchestrator) requireFreeFlower(ctx context.Context, flowerID, householdID string) error {
	flower, _, err := o.binder.FlowerState(ctx, flowerID)
	if err != nil {
		return err
	}
	if flower.HouseholdID != householdID {
		return ErrNotInTargetHousehold
	}
	if flower.IsBound() {
		return ErrTargetFlowerUnavailable
	}
	return nil
}

// bindStep binds flowerID to serial and undoes it by unbinding. A lost race
// is re-validated: a target now held by someone else aborts the saga.
func (o *Orchestrator) bindStep(name, flowerID, serial string) step {
	return step{
		name: name,
		apply: func(ctx context.Context) error {
			_, err := o.binder.Bind(ctx, flowerID, serial)
			return err
		},
		compensate: func(ctx context.Context) error {
			_, err := o.binder.Unbind(ctx, flowerID)
			return err
		},
		revalidate: func(ctx context.Context) error {
			pot, _, err := o.binder.PotState(ctx, serial)
			if err != nil {
				return err
			}
			if pot.IsBound() && pot.ActiveFlower() != flowerID {
				return targetTaken(flowerID, serial, "smart pot was bound to "+pot.ActiveFlower()+" by another request")
			}
			flower, _, err := o.binder.FlowerState(ctx, flowerID)
			if err != nil {
				return err
			}
			if flower.IsBound() && flower.BoundSerial() != serial {
				return targetTaken(flowerID, serial, "flower was bound to "+flower.BoundSerial()+" by another request")
			}
			return nil
		},
	}
}

// unbindStep clears an existing flowerID/serial binding and restores it on rollback.
func (o *Orchestrator) unbindStep(name, flowerID, serial string) step {
	return step{
		name: name,
		apply: func(ctx context.Context) error {
			_, err := o.binder.Unbind(ctx, flowerID)
			return err
		},
		compensate: func(ctx context.Context) error {
			_, err := o.binder.Bind(ctx, flowerID, serial)
			return err
		},
	}
}

func (o *Orchestrator) moveFlower(flowerID, householdID string, clearBinding bool) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := o.binder.MoveFlowerHousehold(ctx, flowerID, householdID, clearBinding)
		return err
	}
}

func (o *Orchestrator) movePot(serial, householdID string, clearBinding bool) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := o.binder.RebindPotHousehold(ctx, serial, householdID, clearBinding)
		return err
	}
}

// moveBoundPot follows a flower into householdID only while the pair is
// still bound, so a binding cleared mid-saga surfaces as a conflict.
func (o *Orchestrator) moveBoundPot(serial, flowerID, householdID string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := o.binder.MoveBoundPotHousehold(ctx, serial, flowerID, householdID)
		return err
	}
}

// requireBinding aborts when flowerID and serial no longer serve each other.
func (o *Orchestrator) requireBinding(flowerID, serial string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, outcome, err := o.binder.PotState(ctx, serial)
		if err != nil {
			return err
		}
		pair, ok := outcome.Bound()
		if !ok || pair.FlowerID != flowerID {
			return targetTaken(flowerID, serial, "binding changed by another request")
		}
		return nil
	}
}

// IsRetryable reports whether the caller may retry a failed transplant as is.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrManualInterventionRequired) {
		return false
	}
	return binding.Retryable(binding.KindOf(err))
}
