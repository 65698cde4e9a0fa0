package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	coreerrors "stakeshack/core/errors"
)

var (
	// ErrNotInterested is returned when approving a tenant that never
	// registered interest in the apartment.
	ErrNotInterested = errors.New("marketplace: profile is not on the interest list")
	// ErrProfileNotFound is returned by writes that reference a missing profile.
	ErrProfileNotFound = errors.New("marketplace: profile not found")
)

// Directory is the read side the reconciler consumes. Lookups return nil, nil
// when the row does not exist.
type Directory interface {
	GetApartmentByID(ctx context.Context, id string) (*Apartment, error)
	GetProfileByID(ctx context.Context, id string) (*Profile, error)
	ReferrerFor(ctx context.Context, apartmentID, profileID string) (*Profile, error)
}

// Store is the GORM-backed Directory.
type Store struct {
	db *gorm.DB
}

var _ Directory = (*Store)(nil)

// Open connects to the database. Supported drivers are "sqlite" and
// "postgres".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("marketplace: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("marketplace: open %s: %w", driver, err)
	}
	return NewStore(db), nil
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) AutoMigrate() error {
	return AutoMigrate(s.db)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetApartmentByID(ctx context.Context, id string) (*Apartment, error) {
	var apt Apartment
	err := s.db.WithContext(ctx).First(&apt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("marketplace: load apartment %s: %w", id, err)
	}
	return &apt, nil
}

func (s *Store) GetProfileByID(ctx context.Context, id string) (*Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("marketplace: load profile %s: %w", id, err)
	}
	return &profile, nil
}

// ReferrerFor returns the profile that referred profileID to apartmentID, or
// nil when the interest carries no referrer.
func (s *Store) ReferrerFor(ctx context.Context, apartmentID, profileID string) (*Profile, error) {
	var interest Interest
	err := s.db.WithContext(ctx).
		Where("apartment_id = ? AND profile_id = ?", apartmentID, profileID).
		First(&interest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("marketplace: load interest: %w", err)
	}
	if interest.ReferrerID == nil || *interest.ReferrerID == "" {
		return nil, nil
	}
	return s.GetProfileByID(ctx, *interest.ReferrerID)
}

// ListInterests returns the interest list for an apartment, oldest first.
func (s *Store) ListInterests(ctx context.Context, apartmentID string) ([]Interest, error) {
	var interests []Interest
	if err := s.db.WithContext(ctx).
		Where("apartment_id = ?", apartmentID).
		Order("created_at ASC, id ASC").
		Find(&interests).Error; err != nil {
		return nil, fmt.Errorf("marketplace: list interests: %w", err)
	}
	return interests, nil
}

// CreateProfile inserts profile, assigning an id when empty.
func (s *Store) CreateProfile(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return errors.New("marketplace: nil profile")
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if _, err := profile.Wallet(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("marketplace: create profile: %w", err)
	}
	return nil
}

// CreateApartment inserts apt. The owner profile must exist.
func (s *Store) CreateApartment(ctx context.Context, apt *Apartment) error {
	if apt == nil {
		return errors.New("marketplace: nil apartment")
	}
	if apt.ID == "" {
		apt.ID = uuid.NewString()
	}
	if err := s.requireProfile(ctx, apt.OwnerID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(apt).Error; err != nil {
		return fmt.Errorf("marketplace: create apartment: %w", err)
	}
	return nil
}

// AddInterest records profileID's interest in apartmentID. referrerID may be
// nil; a profile cannot refer itself.
func (s *Store) AddInterest(ctx context.Context, apartmentID, profileID string, referrerID *string) (*Interest, error) {
	apt, err := s.GetApartmentByID(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	if apt == nil {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrApartmentNotFound, apartmentID)
	}
	if err := s.requireProfile(ctx, profileID); err != nil {
		return nil, err
	}
	if referrerID != nil {
		if *referrerID == profileID {
			return nil, fmt.Errorf("marketplace: profile %s cannot refer itself", profileID)
		}
		if err := s.requireProfile(ctx, *referrerID); err != nil {
			return nil, err
		}
	}
	interest := &Interest{
		ID:          uuid.NewString(),
		ApartmentID: apartmentID,
		ProfileID:   profileID,
		ReferrerID:  referrerID,
	}
	if err := s.db.WithContext(ctx).Create(interest).Error; err != nil {
		return nil, fmt.Errorf("marketplace: add interest: %w", err)
	}
	return interest, nil
}

// ApproveTenant marks profileID as the apartment's approved tenant. The
// profile must be on the interest list.
func (s *Store) ApproveTenant(ctx context.Context, apartmentID, profileID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var apt Apartment
		err := tx.First(&apt, "id = ?", apartmentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", coreerrors.ErrApartmentNotFound, apartmentID)
		}
		if err != nil {
			return fmt.Errorf("marketplace: load apartment %s: %w", apartmentID, err)
		}
		var count int64
		if err := tx.Model(&Interest{}).
			Where("apartment_id = ? AND profile_id = ?", apartmentID, profileID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("marketplace: check interest: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s on %s", ErrNotInterested, profileID, apartmentID)
		}
		approved := profileID
		if err := tx.Model(&apt).Update("approved_profile_id", &approved).Error; err != nil {
			return fmt.Errorf("marketplace: approve tenant: %w", err)
		}
		return nil
	})
}

func (s *Store) requireProfile(ctx context.Context, id string) error {
	profile, err := s.GetProfileByID(ctx, id)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return nil
}
