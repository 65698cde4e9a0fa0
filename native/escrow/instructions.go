package escrow

import (
	"bytes"
	"fmt"
)

// InstructionKind names the four program instructions.
type InstructionKind uint8

const (
	InstructionInitialize InstructionKind = iota + 1
	InstructionStake
	InstructionResolve
	InstructionSlash
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionInitialize:
		return "initialize"
	case InstructionStake:
		return "stake"
	case InstructionResolve:
		return "resolve"
	case InstructionSlash:
		return "slash"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(k))
	}
}

// Discriminator returns the wire tag for the instruction.
func (k InstructionKind) Discriminator() Discriminator {
	switch k {
	case InstructionInitialize:
		return InitializeDiscriminator
	case InstructionStake:
		return StakeDiscriminator
	case InstructionResolve:
		return ResolveDiscriminator
	case InstructionSlash:
		return SlashDiscriminator
	default:
		return Discriminator{}
	}
}

type InitializeArgs struct {
	ApartmentID   string
	ApartmentHash [32]byte
}

type StakeArgs struct {
	ApartmentID   string
	ProfileID     string
	ApartmentHash [32]byte
	ProfileHash   [32]byte
	Amount        uint64
}

type ResolveArgs struct {
	ApartmentHash [32]byte
	ProfileHash   [32]byte
	RewardAmount  uint64
}

type SlashArgs struct {
	ApartmentHash [32]byte
	ProfileHash   [32]byte
}

func (a InitializeArgs) Encode() ([]byte, error) {
	enc := newEncoder(InitializeDiscriminator)
	if err := enc.writeString(a.ApartmentID); err != nil {
		return nil, err
	}
	enc.writeFixed(a.ApartmentHash)
	return enc.bytes(), nil
}

func (a StakeArgs) Encode() ([]byte, error) {
	enc := newEncoder(StakeDiscriminator)
	if err := enc.writeString(a.ApartmentID); err != nil {
		return nil, err
	}
	if err := enc.writeString(a.ProfileID); err != nil {
		return nil, err
	}
	enc.writeFixed(a.ApartmentHash)
	enc.writeFixed(a.ProfileHash)
	enc.writeU64(a.Amount)
	return enc.bytes(), nil
}

func (a ResolveArgs) Encode() ([]byte, error) {
	enc := newEncoder(ResolveDiscriminator)
	enc.writeFixed(a.ApartmentHash)
	enc.writeFixed(a.ProfileHash)
	enc.writeU64(a.RewardAmount)
	return enc.bytes(), nil
}

func (a SlashArgs) Encode() ([]byte, error) {
	enc := newEncoder(SlashDiscriminator)
	enc.writeFixed(a.ApartmentHash)
	enc.writeFixed(a.ProfileHash)
	return enc.bytes(), nil
}

// DecodedInstruction is the tagged result of DecodeInstruction. The field
// matching Kind is set.
type DecodedInstruction struct {
	Kind       InstructionKind
	Initialize *InitializeArgs
	Stake      *StakeArgs
	Resolve    *ResolveArgs
	Slash      *SlashArgs
}

// DecodeInstruction parses instruction data. Payloads must be consumed
// exactly.
func DecodeInstruction(data []byte) (DecodedInstruction, error) {
	if len(data) < len(Discriminator{}) {
		return DecodedInstruction{}, &DecodeError{Layout: "instruction", Reason: fmt.Sprintf("%d bytes is shorter than a discriminator", len(data))}
	}
	for _, kind := range []InstructionKind{InstructionInitialize, InstructionStake, InstructionResolve, InstructionSlash} {
		disc := kind.Discriminator()
		if !bytes.HasPrefix(data, disc[:]) {
			continue
		}
		dec, err := newDecoder(kind.String(), data, disc)
		if err != nil {
			return DecodedInstruction{}, err
		}
		out := DecodedInstruction{Kind: kind}
		switch kind {
		case InstructionInitialize:
			out.Initialize, err = decodeInitialize(dec)
		case InstructionStake:
			out.Stake, err = decodeStake(dec)
		case InstructionResolve:
			out.Resolve, err = decodeResolve(dec)
		case InstructionSlash:
			out.Slash, err = decodeSlash(dec)
		}
		if err != nil {
			return DecodedInstruction{}, err
		}
		if err := dec.finish(); err != nil {
			return DecodedInstruction{}, err
		}
		return out, nil
	}
	return DecodedInstruction{}, unknownDiscriminator("instruction", data)
}

func decodeInitialize(dec *decoder) (*InitializeArgs, error) {
	var (
		args InitializeArgs
		err  error
	)
	if args.ApartmentID, err = dec.readString(); err != nil {
		return nil, err
	}
	if args.ApartmentHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	return &args, nil
}

func decodeStake(dec *decoder) (*StakeArgs, error) {
	var (
		args StakeArgs
		err  error
	)
	if args.ApartmentID, err = dec.readString(); err != nil {
		return nil, err
	}
	if args.ProfileID, err = dec.readString(); err != nil {
		return nil, err
	}
	if args.ApartmentHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	if args.ProfileHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	if args.Amount, err = dec.readU64(); err != nil {
		return nil, err
	}
	return &args, nil
}

func decodeResolve(dec *decoder) (*ResolveArgs, error) {
	var (
		args ResolveArgs
		err  error
	)
	if args.ApartmentHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	if args.ProfileHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	if args.RewardAmount, err = dec.readU64(); err != nil {
		return nil, err
	}
	return &args, nil
}

func decodeSlash(dec *decoder) (*SlashArgs, error) {
	var (
		args SlashArgs
		err  error
	)
	if args.ApartmentHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	if args.ProfileHash, err = dec.readFixed(); err != nil {
		return nil, err
	}
	return &args, nil
}
