package escrow

import (
	"strconv"
	"strings"

	"stakeshack/core/types"
)

const (
	EventTypeInitialized = "escrow.initialized"
	EventTypeStaked      = "escrow.staked"
	EventTypeResolved    = "escrow.resolved"
	EventTypeSlashed     = "escrow.slashed"
)

// EventType maps an instruction onto the event emitted once it confirms.
func EventType(kind InstructionKind) string {
	switch kind {
	case InstructionInitialize:
		return EventTypeInitialized
	case InstructionStake:
		return EventTypeStaked
	case InstructionResolve:
		return EventTypeResolved
	case InstructionSlash:
		return EventTypeSlashed
	default:
		return "escrow.unknown"
	}
}

// NewConfirmedEvent returns the canonical payload for a confirmed operation.
// Addresses come from the instruction's account list and amounts from its
// data; apartmentID and profileID are the plain identifiers the hashed seeds
// were built from.
func NewConfirmedEvent(op *Operation, apartmentID, profileID, signature string) *types.Event {
	attrs := make(map[string]string)
	if op == nil {
		return &types.Event{Type: EventType(0), Attributes: attrs}
	}
	eventType := EventType(op.Kind)
	if id := strings.TrimSpace(apartmentID); id != "" {
		attrs["apartmentId"] = id
	}
	if id := strings.TrimSpace(profileID); id != "" && op.Kind != InstructionInitialize {
		attrs["profileId"] = id
	}
	if signature != "" {
		attrs["signature"] = signature
	}

	accounts := op.Instruction.Accounts
	account := func(i int) string {
		if i < len(accounts) {
			return accounts[i].PublicKey.String()
		}
		return ""
	}
	attrs["escrow"] = account(0)
	switch op.Kind {
	case InstructionInitialize:
		attrs["lessor"] = account(1)
	case InstructionStake:
		attrs["stakeRecord"] = account(1)
		attrs["staker"] = account(2)
	case InstructionResolve:
		attrs["stakeRecord"] = account(1)
		attrs["staker"] = account(3)
		attrs["referrer"] = account(4)
	case InstructionSlash:
		attrs["stakeRecord"] = account(1)
		attrs["penalty"] = account(3)
	}

	decoded, err := DecodeInstruction(op.Instruction.Data)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	switch {
	case decoded.Stake != nil:
		attrs["amount"] = strconv.FormatUint(decoded.Stake.Amount, 10)
	case decoded.Resolve != nil:
		attrs["reward"] = strconv.FormatUint(decoded.Resolve.RewardAmount, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
