package crypto

import (
	"bytes"
	"errors"
	"testing"

	coreerrors "stakeshack/core/errors"
)

var testProgramID = MustPublicKey("3C6TrwZQ65PGSCTu3ijpuADYrDBpcxXR3zSMMrDa3sGp")

func escrowSeeds(apartmentID string) [][]byte {
	h := HashSeed(apartmentID)
	return [][]byte{[]byte("escrow"), h[:]}
}

func TestFindProgramAddressKnownVectors(t *testing.T) {
	cases := []struct {
		name  string
		seeds [][]byte
		want  string
		bump  uint8
	}{
		{name: "first bump", seeds: escrowSeeds("apt-1"), want: "EYPUqgQNLo376Z6Ax4juziUzFnSPLLu6jiCfRGMpjnux", bump: 255},
		{name: "second bump", seeds: escrowSeeds("apt-3"), want: "yxaiyWzZLhuUZnzxKrt3XsjxvSMvvvJsPVDxsE1EHmf", bump: 254},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, bump, err := FindProgramAddress(tc.seeds, testProgramID)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if addr.String() != tc.want || bump != tc.bump {
				t.Fatalf("got %s/%d, want %s/%d", addr, bump, tc.want, tc.bump)
			}
		})
	}
}

func TestFindProgramAddressMatchesCreate(t *testing.T) {
	seeds := escrowSeeds("apt-3")
	addr, bump, err := FindProgramAddress(seeds, testProgramID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	created, err := CreateProgramAddress(append(seeds, []byte{bump}), testProgramID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created != addr {
		t.Fatalf("create returned %s, find returned %s", created, addr)
	}
	if IsOnCurve(addr[:]) {
		t.Fatalf("derived address %s is on curve", addr)
	}
	if _, err := CreateProgramAddress(append(seeds, []byte{255}), testProgramID); !errors.Is(err, ErrOnCurve) {
		t.Fatalf("expected ErrOnCurve for skipped bump, got %v", err)
	}
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	first, _, err := FindProgramAddress(escrowSeeds("apt-42"), testProgramID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	second, _, err := FindProgramAddress(escrowSeeds("apt-42"), testProgramID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if first != second {
		t.Fatalf("derivation not deterministic: %s vs %s", first, second)
	}
	other, _, err := FindProgramAddress(escrowSeeds("apt-43"), testProgramID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if other == first {
		t.Fatalf("distinct apartments derived the same address")
	}
}

func TestProgramAddressSeedLimits(t *testing.T) {
	long := bytes.Repeat([]byte{1}, MaxSeedLength+1)
	if _, _, err := FindProgramAddress([][]byte{long}, testProgramID); !errors.Is(err, ErrMaxSeedLength) {
		t.Fatalf("expected ErrMaxSeedLength, got %v", err)
	}
	many := make([][]byte, MaxSeeds)
	for i := range many {
		many[i] = []byte{byte(i)}
	}
	if _, _, err := FindProgramAddress(many, testProgramID); !errors.Is(err, ErrTooManySeeds) {
		t.Fatalf("expected ErrTooManySeeds, got %v", err)
	}
	if errors.Is(ErrTooManySeeds, coreerrors.ErrDerivation) {
		t.Fatalf("seed validation errors must stay distinct from exhaustion")
	}
}

func TestIsOnCurve(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub := key.PubKey()
	if !IsOnCurve(pub[:]) {
		t.Fatalf("wallet key %s should be on curve", pub)
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Fatalf("short input must not be treated as a point")
	}
}

func TestHashSeed(t *testing.T) {
	a := HashSeed("apt-1")
	if a != HashSeed("apt-1") {
		t.Fatalf("hash not deterministic")
	}
	if a == HashSeed("apt-2") {
		t.Fatalf("distinct inputs collided")
	}
	empty := HashSeed("")
	if empty == ([32]byte{}) {
		t.Fatalf("empty input must still hash")
	}
}
