package binding

type OutcomeKind int

const (
	OutcomeUnbound OutcomeKind = iota
	OutcomeBound
	OutcomeConflict
	OutcomeConsistencyViolation
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeBound:
		return "bound"
	case OutcomeUnbound:
		return "unbound"
	case OutcomeConflict:
		return "conflict"
	case OutcomeConsistencyViolation:
		return "consistency_violation"
	default:
		return "unknown"
	}
}

// Outcome is the only way the Enforcer reports binding state. Pair is set
// for OutcomeBound. Repaired is true when an asymmetric binding was found
// and cleared while producing this outcome.
type Outcome struct {
	Kind     OutcomeKind
	FlowerID string
	Pair     BoundPair
	Repaired bool
}

// Bound reports the verified pair, also after a repair left the flower bound.
func (o Outcome) Bound() (BoundPair, bool) {
	if o.Pair.SerialNumber == "" {
		return BoundPair{}, false
	}
	return o.Pair, true
}

func bound(flowerID, serial string, repaired bool) Outcome {
	return Outcome{
		Kind:     OutcomeBound,
		FlowerID: flowerID,
		Pair:     BoundPair{FlowerID: flowerID, SerialNumber: serial},
		Repaired: repaired,
	}
}

func unbound(flowerID string, repaired bool) Outcome {
	return Outcome{Kind: OutcomeUnbound, FlowerID: flowerID, Repaired: repaired}
}
