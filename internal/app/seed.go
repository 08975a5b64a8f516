package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bindingdomain "smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/repository/inmemory"
)

// Seed describes households with their flowers and smart pots. It is loaded
// from SEED_FILE at startup so a fresh store has something to bind.
type Seed struct {
	Households []SeedHousehold `yaml:"households"`
}

type SeedHousehold struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Owner     string       `yaml:"owner"`
	Members   []string     `yaml:"members"`
	Flowers   []SeedFlower `yaml:"flowers"`
	SmartPots []SeedPot    `yaml:"smartPots"`
}

type SeedFlower struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Serial string `yaml:"serial"`
}

type SeedPot struct {
	ID     string `yaml:"id"`
	Serial string `yaml:"serial"`
}

type seedRows struct {
	households []bindingdomain.Household
	members    []bindingdomain.HouseholdMember
	flowers    []bindingdomain.Flower
	pots       []bindingdomain.SmartPot
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// rows flattens the seed into consistent store rows. A flower naming a serial
// is bound to that pot, which must be listed in the same household.
func (s *Seed) rows() (seedRows, error) {
	var rows seedRows
	boundBy := make(map[string]string)

	for _, h := range s.Households {
		if strings.TrimSpace(h.ID) == "" || strings.TrimSpace(h.Owner) == "" {
			return rows, fmt.Errorf("seed household %q: id and owner are required", h.Name)
		}
		rows.households = append(rows.households, bindingdomain.Household{ID: h.ID, Name: h.Name, OwnerID: h.Owner})
		rows.members = append(rows.members, bindingdomain.HouseholdMember{HouseholdID: h.ID, UserID: h.Owner, Role: bindingdomain.RoleOwner})
		for _, member := range h.Members {
			if member == h.Owner {
				continue
			}
			rows.members = append(rows.members, bindingdomain.HouseholdMember{HouseholdID: h.ID, UserID: member, Role: bindingdomain.RoleMember})
		}

		pots := make(map[string]bool, len(h.SmartPots))
		for _, p := range h.SmartPots {
			pots[p.Serial] = true
		}

		for _, f := range h.Flowers {
			flower := bindingdomain.Flower{ID: f.ID, Name: f.Name, HouseholdID: h.ID, Version: 1}
			if f.Serial != "" {
				if !pots[f.Serial] {
					return rows, fmt.Errorf("seed flower %s: pot %s is not in household %s", f.ID, f.Serial, h.ID)
				}
				if other, ok := boundBy[f.Serial]; ok {
					return rows, fmt.Errorf("seed flower %s: pot %s already bound to %s", f.ID, f.Serial, other)
				}
				serial := f.Serial
				flower.SerialNumber = &serial
				boundBy[f.Serial] = f.ID
			}
			rows.flowers = append(rows.flowers, flower)
		}

		for _, p := range h.SmartPots {
			householdID := h.ID
			pot := bindingdomain.SmartPot{ID: p.ID, SerialNumber: p.Serial, HouseholdID: &householdID, Version: 1}
			if flowerID, ok := boundBy[p.Serial]; ok {
				pot.ActiveFlowerID = &flowerID
			}
			rows.pots = append(rows.pots, pot)
		}
	}
	return rows, nil
}

func (s *Seed) ApplyMemory(store *inmemory.BindingStore) error {
	rows, err := s.rows()
	if err != nil {
		return err
	}

	members := make(map[string][]string)
	for _, m := range rows.members {
		if m.Role == bindingdomain.RoleMember {
			members[m.HouseholdID] = append(members[m.HouseholdID], m.UserID)
		}
	}
	for _, h := range rows.households {
		store.AddHousehold(h, members[h.ID]...)
	}
	for _, f := range rows.flowers {
		store.AddFlower(f)
	}
	for _, p := range rows.pots {
		store.AddSmartPot(p)
	}
	return nil
}

// ApplyGorm inserts the seed, leaving rows that already exist untouched.
func (s *Seed) ApplyGorm(ctx context.Context, db *gorm.DB) error {
	rows, err := s.rows()
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip := func() *gorm.DB {
			return tx.Clauses(clause.OnConflict{DoNothing: true})
		}
		if len(rows.households) > 0 {
			if err := skip().Create(&rows.households).Error; err != nil {
				return fmt.Errorf("seed households: %w", err)
			}
		}
		if len(rows.members) > 0 {
			if err := skip().Create(&rows.members).Error; err != nil {
				return fmt.Errorf("seed members: %w", err)
			}
		}
		if len(rows.flowers) > 0 {
			if err := skip().Create(&rows.flowers).Error; err != nil {
				return fmt.Errorf("seed flowers: %w", err)
			}
		}
		if len(rows.pots) > 0 {
			if err := skip().Create(&rows.pots).Error; err != nil {
				return fmt.Errorf("seed smart pots: %w", err)
			}
		}
		return nil
	})
}
