package reconcile

import (
	"fmt"
	"strings"
)

// Phase is the display state of an apartment for one session.
type Phase string

const (
	PhaseNoWallet        Phase = "NO_WALLET"
	PhaseNoAccess        Phase = "NO_ACCESS"
	PhaseAwaitingInit    Phase = "AWAITING_INIT"
	PhaseActiveDashboard Phase = "ACTIVE_DASHBOARD"
)

// Action is a user-triggered transition.
type Action string

const (
	ActionInitialize Action = "initialize"
	ActionStake      Action = "stake"
	ActionResolve    Action = "resolve"
	ActionSlash      Action = "slash"
)

// ParseAction accepts the lowercase action names used on the wire.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionInitialize, ActionStake, ActionResolve, ActionSlash:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// targetsRecord reports whether the action settles an existing stake record.
func (a Action) targetsRecord() bool {
	return a == ActionResolve || a == ActionSlash
}
