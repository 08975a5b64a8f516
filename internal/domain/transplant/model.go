package transplant

type State string

const (
	StateValidating           State = "validating"
	StateApplying             State = "applying"
	StateCommitted            State = "committed"
	StateRejected             State = "rejected"
	StateCompensatingRollback State = "compensating_rollback"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected || s == StateFailed
}

type Protocol string

const (
	ProtocolSameHousehold         Protocol = "same_household"
	ProtocolFlowerWithPot         Protocol = "flower_with_pot"
	ProtocolFlowerWithoutPot      Protocol = "flower_without_pot"
	ProtocolSmartPotWithFlower    Protocol = "smart_pot_with_flower"
	ProtocolSmartPotWithoutFlower Protocol = "smart_pot_without_flower"
)

// Report describes how a transplant request ended.
type Report struct {
	ID          string
	Protocol    Protocol
	State       State
	Applied     []string
	Compensated []string
}

// ActorID is the user on whose behalf a request runs. Requests with an empty
// ActorID skip the household membership check.
type SameHouseholdRequest struct {
	ActorID      string
	FlowerID     string
	TargetSerial string
}

type SameHouseholdResult struct {
	FlowerID string
	Serial   string
	Report   Report
}

// FlowerTransplantRequest moves a flower to another household. Without
// KeepPot the flower leaves its pot behind: ReassignSourcePotTo names a
// flower in the source household that takes the vacated pot, and
// AssignVacatedPot names a free pot in the target household for the moved
// flower.
type FlowerTransplantRequest struct {
	ActorID             string
	FlowerID            string
	TargetHouseholdID   string
	KeepPot             bool
	AssignVacatedPot    string
	ReassignSourcePotTo string
}

type FlowerTransplantResult struct {
	FlowerID    string
	HouseholdID string
	Serial      *string
	Report      Report
}

// SmartPotTransplantRequest moves a smart pot to another household. Without
// KeepFlower the pot leaves its flower behind: ReassignSourceFlowerTo names
// a free pot in the source household for that flower, and
// AssignVacatedFlower names an unbound flower in the target household that
// the moved pot starts serving.
type SmartPotTransplantRequest struct {
	ActorID                string
	Serial                 string
	TargetHouseholdID      string
	KeepFlower             bool
	AssignVacatedFlower    string
	ReassignSourceFlowerTo string
}

type SmartPotTransplantResult struct {
	Serial      string
	HouseholdID string
	FlowerID    *string
	Report      Report
}
