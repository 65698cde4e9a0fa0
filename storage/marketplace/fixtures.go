package marketplace

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML seed format used by `escrowctl db seed`.
type Fixtures struct {
	Profiles   []ProfileFixture   `yaml:"profiles"`
	Apartments []ApartmentFixture `yaml:"apartments"`
	Interests  []InterestFixture  `yaml:"interests"`
}

type ProfileFixture struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Pubkey   string `yaml:"pubkey"`
}

type ApartmentFixture struct {
	ID       string `yaml:"id"`
	Owner    string `yaml:"owner"`
	Approved string `yaml:"approved"`
	Location string `yaml:"location"`
	Rent     uint64 `yaml:"rent_lamports"`
	Reward   uint64 `yaml:"reward_amount"`
}

type InterestFixture struct {
	Apartment string `yaml:"apartment"`
	Profile   string `yaml:"profile"`
	Referrer  string `yaml:"referrer"`
}

// LoadFixtures reads a fixture file from disk.
func LoadFixtures(path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer file.Close()
	return ParseFixtures(file)
}

func ParseFixtures(r io.Reader) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		if err == io.EOF {
			return &fx, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	seen := make(map[string]struct{})
	for _, p := range fx.Profiles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("fixture profile id required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate fixture profile %s", id)
		}
		seen[id] = struct{}{}
	}
	for _, a := range fx.Apartments {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Owner) == "" {
			return nil, fmt.Errorf("fixture apartment requires id and owner")
		}
	}
	return &fx, nil
}

// Seed inserts fixtures in dependency order. Approvals are applied after the
// interest list is in place.
func (s *Store) Seed(ctx context.Context, fx *Fixtures) error {
	for _, p := range fx.Profiles {
		if err := s.CreateProfile(ctx, &Profile{ID: p.ID, Username: p.Username, Pubkey: p.Pubkey}); err != nil {
			return err
		}
	}
	for _, a := range fx.Apartments {
		apt := &Apartment{
			ID:           a.ID,
			OwnerID:      a.Owner,
			Location:     a.Location,
			RentLamports: a.Rent,
			RewardAmount: a.Reward,
		}
		if err := s.CreateApartment(ctx, apt); err != nil {
			return err
		}
	}
	for _, in := range fx.Interests {
		var referrer *string
		if in.Referrer != "" {
			ref := in.Referrer
			referrer = &ref
		}
		if _, err := s.AddInterest(ctx, in.Apartment, in.Profile, referrer); err != nil {
			return err
		}
	}
	for _, a := range fx.Apartments {
		if a.Approved == "" {
			continue
		}
		if err := s.ApproveTenant(ctx, a.ID, a.Approved); err != nil {
			return err
		}
	}
	return nil
}
