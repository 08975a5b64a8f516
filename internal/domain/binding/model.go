package binding

import "time"

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Flower struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"not null"`
	HouseholdID  string    `gorm:"type:uuid;not null;index"`
	SerialNumber *string   `gorm:"column:serial_number;uniqueIndex"`
	ProfileID    *string   `gorm:"column:profile_id"`
	Version      int64     `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (f *Flower) IsBound() bool {
	return f.SerialNumber != nil && *f.SerialNumber != ""
}

func (f *Flower) BoundSerial() string {
	if f.SerialNumber == nil {
		return ""
	}
	return *f.SerialNumber
}

type SmartPot struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	SerialNumber   string    `gorm:"column:serial_number;not null;uniqueIndex"`
	HouseholdID    *string   `gorm:"type:uuid;column:household_id;index"`
	ActiveFlowerID *string   `gorm:"type:uuid;column:active_flower_id;uniqueIndex"`
	Version        int64     `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (p *SmartPot) IsBound() bool {
	return p.ActiveFlowerID != nil && *p.ActiveFlowerID != ""
}

func (p *SmartPot) ActiveFlower() string {
	if p.ActiveFlowerID == nil {
		return ""
	}
	return *p.ActiveFlowerID
}

func (p *SmartPot) Household() string {
	if p.HouseholdID == nil {
		return ""
	}
	return *p.HouseholdID
}

type Household struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	OwnerID   string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type HouseholdMember struct {
	HouseholdID string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"primaryKey"`
	Role        string    `gorm:"type:varchar(16);not null"`
	JoinedAt    time.Time `gorm:"autoCreateTime"`
}

// BoundPair is a binding both sides agree on.
type BoundPair struct {
	FlowerID     string
	SerialNumber string
}

// FlowerBindingUpdate sets the flower's bound serial (nil clears it). A nil
// HouseholdID leaves the household untouched.
type FlowerBindingUpdate struct {
	ID              string
	SerialNumber    *string
	HouseholdID     *string
	ExpectedVersion int64
}

// SmartPotBindingUpdate sets the pot's active flower (nil clears it). When
// SetHousehold is true HouseholdID is written, nil meaning unassigned.
type SmartPotBindingUpdate struct {
	SerialNumber    string
	ActiveFlowerID  *string
	SetHousehold    bool
	HouseholdID     *string
	ExpectedVersion int64
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
