package marketplace

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"stakeshack/crypto"
)

// Profile is a marketplace user. Pubkey is the base58 wallet the profile
// registered; it may be empty for profiles that never connected a wallet.
type Profile struct {
	ID        string `gorm:"primaryKey;size:64"`
	Username  string `gorm:"size:128;uniqueIndex"`
	Pubkey    string `gorm:"size:64;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wallet parses the registered pubkey. It returns nil when none is set.
func (p *Profile) Wallet() (*crypto.PublicKey, error) {
	if p == nil || strings.TrimSpace(p.Pubkey) == "" {
		return nil, nil
	}
	key, err := crypto.DecodePublicKey(p.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("profile %s pubkey: %w", p.ID, err)
	}
	return &key, nil
}

// Apartment is a listing. ApprovedProfileID is set once the owner picks a
// tenant from the interest list.
type Apartment struct {
	ID                string  `gorm:"primaryKey;size:64"`
	OwnerID           string  `gorm:"size:64;index;not null"`
	ApprovedProfileID *string `gorm:"size:64;index"`
	Location          string  `gorm:"size:256"`
	RentLamports      uint64
	RewardAmount      uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOwner reports whether profileID owns the listing.
func (a *Apartment) IsOwner(profileID string) bool {
	return a != nil && profileID != "" && a.OwnerID == profileID
}

// IsApprovedTenant reports whether profileID is the approved tenant.
func (a *Apartment) IsApprovedTenant(profileID string) bool {
	return a != nil && profileID != "" && a.ApprovedProfileID != nil && *a.ApprovedProfileID == profileID
}

// Interest records a profile's interest in an apartment, optionally through
// a referring profile.
type Interest struct {
	ID          string  `gorm:"primaryKey;size:64"`
	ApartmentID string  `gorm:"size:64;uniqueIndex:idx_interest_pair;not null"`
	ProfileID   string  `gorm:"size:64;uniqueIndex:idx_interest_pair;not null"`
	ReferrerID  *string `gorm:"size:64"`
	CreatedAt   time.Time
}

// AutoMigrate creates or updates the marketplace tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Profile{},
		&Apartment{},
		&Interest{},
	)
}
