package escrow

import (
	"testing"
)

func TestConfirmedEventPayloads(t *testing.T) {
	program := DefaultProgram()
	owner := testKey(0x11)
	staker := testKey(0x22)
	referrer := testKey(0x33)

	escrowAddr, err := program.EscrowAddress("apt-1")
	if err != nil {
		t.Fatalf("escrow address: %v", err)
	}
	stakeAddr, err := program.StakeAddress("apt-1", "prof-7")
	if err != nil {
		t.Fatalf("stake address: %v", err)
	}

	initOp, err := program.BuildInitialize("apt-1", owner, owner)
	if err != nil {
		t.Fatalf("build initialize: %v", err)
	}
	ev := NewConfirmedEvent(initOp, "apt-1", "prof-ignored", "sig-1")
	if ev.Type != EventTypeInitialized {
		t.Fatalf("unexpected type %s", ev.Type)
	}
	want := map[string]string{
		"apartmentId": "apt-1",
		"signature":   "sig-1",
		"escrow":      escrowAddr.String(),
		"lessor":      owner.String(),
	}
	assertAttributes(t, ev.Attributes, want)

	stakeOp, err := program.BuildStake("apt-1", "prof-7", 1_500, staker)
	if err != nil {
		t.Fatalf("build stake: %v", err)
	}
	ev = NewConfirmedEvent(stakeOp, "apt-1", "prof-7", "sig-2")
	assertAttributes(t, ev.Attributes, map[string]string{
		"apartmentId": "apt-1",
		"profileId":   "prof-7",
		"signature":   "sig-2",
		"escrow":      escrowAddr.String(),
		"stakeRecord": stakeAddr.String(),
		"staker":      staker.String(),
		"amount":      "1500",
	})

	resolveOp, err := program.BuildResolve("apt-1", "prof-7", owner, staker, &referrer, 300)
	if err != nil {
		t.Fatalf("build resolve: %v", err)
	}
	ev = NewConfirmedEvent(resolveOp, "apt-1", "prof-7", "sig-3")
	if ev.Type != EventTypeResolved || ev.Attributes["referrer"] != referrer.String() || ev.Attributes["reward"] != "300" {
		t.Fatalf("unexpected resolve event %+v", ev)
	}

	slashOp, err := program.BuildSlash("apt-1", "prof-7", owner, staker)
	if err != nil {
		t.Fatalf("build slash: %v", err)
	}
	ev = NewConfirmedEvent(slashOp, "apt-1", "prof-7", "sig-4")
	if ev.Type != EventTypeSlashed || ev.Attributes["penalty"] != program.PenaltyAddress.String() {
		t.Fatalf("unexpected slash event %+v", ev)
	}
	if _, ok := ev.Attributes["reward"]; ok {
		t.Fatalf("slash event must not carry a reward")
	}
}

func TestConfirmedEventNilOperation(t *testing.T) {
	ev := NewConfirmedEvent(nil, "apt-1", "", "")
	if ev.Type != "escrow.unknown" || len(ev.Attributes) != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func assertAttributes(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("attribute count mismatch: got %v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("attribute %s: got %q want %q", k, got[k], v)
		}
	}
}
