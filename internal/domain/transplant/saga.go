package transplant

import (
	"context"
	"errors"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/pkg/logger"
)

// step is one Enforcer call of a saga. compensate undoes apply and may be
// nil for the last step. revalidate runs once when apply loses a binding
// race; a non-nil result aborts the saga, otherwise apply is retried once.
type step struct {
	name       string
	apply      func(ctx context.Context) error
	compensate func(ctx context.Context) error
	revalidate func(ctx context.Context) error
}

type saga struct {
	report *Report
	log    logger.Logger
}

func newSaga(id string, protocol Protocol, log logger.Logger) *saga {
	s := &saga{
		report: &Report{ID: id, Protocol: protocol, State: StateValidating},
		log:    log.With("transplant_id", id, "protocol", string(protocol)),
	}
	s.log.Debug("transplant: state changed", "to", string(StateValidating))
	return s
}

func (s *saga) transition(to State) {
	s.log.Info("transplant: state changed", "from", string(s.report.State), "to", string(to))
	s.report.State = to
}

func (s *saga) reject(err error) error {
	s.transition(StateRejected)
	s.log.BusinessError("transplant.validate: rejected", err)
	return err
}

// commitNoop finishes a request that needs no changes.
func (s *saga) commitNoop() {
	s.transition(StateApplying)
	s.transition(StateCommitted)
}

// apply runs steps in order on a context detached from request
// cancellation. On failure applied steps are compensated in reverse.
func (s *saga) apply(ctx context.Context, steps []step) error {
	ctx = context.WithoutCancel(ctx)
	s.transition(StateApplying)

	applied := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := s.run(ctx, st); err != nil {
			return s.rollback(ctx, st.name, err, applied)
		}
		applied = append(applied, st)
		s.report.Applied = append(s.report.Applied, st.name)
	}

	s.transition(StateCommitted)
	return nil
}

func (s *saga) run(ctx context.Context, st step) error {
	err := st.apply(ctx)
	if err == nil || !errors.Is(err, binding.ErrConflict) || st.revalidate == nil {
		return err
	}

	s.log.Warn("transplant: step lost a binding race, revalidating", "step", st.name, "err", err)
	if verr := st.revalidate(ctx); verr != nil {
		return verr
	}
	return st.apply(ctx)
}

func (s *saga) rollback(ctx context.Context, failed string, cause error, applied []step) error {
	s.log.BusinessError("transplant.apply: step failed", cause, "step", failed)
	s.transition(StateCompensatingRollback)

	for i := len(applied) - 1; i >= 0; i-- {
		st := applied[i]
		if st.compensate == nil {
			continue
		}
		if err := st.compensate(ctx); err != nil {
			pending := make([]string, 0, i+1)
			for _, left := range applied[:i+1] {
				pending = append(pending, left.name)
			}
			s.transition(StateFailed)
			manual := &ManualInterventionError{
				TransplantID:    s.report.ID,
				Protocol:        s.report.Protocol,
				FailedStep:      failed,
				Cause:           cause,
				CompensationErr: err,
				Pending:         pending,
			}
			s.log.Critical("transplant: rollback failed, manual intervention required",
				"step", st.name, "err", err, "cause", cause, "pending", pending)
			return manual
		}
		s.report.Compensated = append(s.report.Compensated, st.name)
	}

	s.transition(StateFailed)
	return cause
}
