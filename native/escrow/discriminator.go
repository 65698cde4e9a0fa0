package escrow

import (
	"crypto/sha256"
	"encoding/hex"
)

// Discriminator is the 8-byte tag that prefixes every instruction payload and
// every account owned by the program.
type Discriminator [8]byte

func (d Discriminator) String() string {
	return hex.EncodeToString(d[:])
}

func instructionDiscriminator(name string) Discriminator {
	return discriminatorFor("global:" + name)
}

func accountDiscriminator(typeName string) Discriminator {
	return discriminatorFor("account:" + typeName)
}

func discriminatorFor(preimage string) Discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

var (
	InitializeDiscriminator = instructionDiscriminator("initialize")
	StakeDiscriminator      = instructionDiscriminator("stake")
	ResolveDiscriminator    = instructionDiscriminator("resolve")
	SlashDiscriminator      = instructionDiscriminator("slash")

	EscrowAccountDiscriminator = accountDiscriminator("EscrowAccount")
	StakeRecordDiscriminator   = accountDiscriminator("StakeRecord")
)
