package reconcile

import (
	"time"

	"stakeshack/crypto"
	"stakeshack/storage/marketplace"
)

// OfferedAction is an action the session may trigger. ProfileID names the
// tenant whose stake record the action targets; it is empty for initialize.
type OfferedAction struct {
	Action    Action `json:"action"`
	ProfileID string `json:"profileId,omitempty"`
}

type ProfileView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Pubkey   string `json:"pubkey,omitempty"`
}

func profileView(p *marketplace.Profile) *ProfileView {
	if p == nil {
		return nil
	}
	return &ProfileView{ID: p.ID, Username: p.Username, Pubkey: p.Pubkey}
}

type EscrowView struct {
	Address     crypto.PublicKey `json:"address"`
	Lessor      crypto.PublicKey `json:"lessor"`
	TotalStaked uint64           `json:"totalStaked"`
	IsActive    bool             `json:"isActive"`
	Bump        uint8            `json:"bump"`
}

type StakeView struct {
	Address         crypto.PublicKey `json:"address"`
	TenantProfileID string           `json:"tenantProfileId"`
	Staker          crypto.PublicKey `json:"staker"`
	Amount          uint64           `json:"amount"`
	IsActive        bool             `json:"isActive"`
}

// View is the reconciled state of one apartment for one session. It is
// rebuilt from scratch on every load.
type View struct {
	ApartmentID      string          `json:"apartmentId"`
	Phase            Phase           `json:"phase"`
	IsOwner          bool            `json:"isOwner"`
	IsApprovedTenant bool            `json:"isApprovedTenant"`
	Owner            *ProfileView    `json:"owner,omitempty"`
	Tenant           *ProfileView    `json:"tenant,omitempty"`
	RewardAmount     uint64          `json:"rewardAmount"`
	Escrow           *EscrowView     `json:"escrow,omitempty"`
	Stakes           []StakeView     `json:"stakes"`
	Actions          []OfferedAction `json:"actions"`
	LoadedAt         time.Time       `json:"loadedAt"`

	apartment *marketplace.Apartment
}

// Offers reports whether action against profileID is currently available.
func (v *View) Offers(action Action, profileID string) bool {
	if v == nil {
		return false
	}
	for _, offered := range v.Actions {
		if offered.Action != action {
			continue
		}
		if action == ActionInitialize || offered.ProfileID == profileID {
			return true
		}
	}
	return false
}

// Stake returns the stake record for profileID, if one was read.
func (v *View) Stake(profileID string) (*StakeView, bool) {
	if v == nil {
		return nil, false
	}
	for i := range v.Stakes {
		if v.Stakes[i].TenantProfileID == profileID {
			return &v.Stakes[i], true
		}
	}
	return nil, false
}
