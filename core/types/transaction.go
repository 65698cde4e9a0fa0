package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"stakeshack/crypto"
)

const (
	SignatureLength = 64
	// MaxTransactionSize is the packet limit enforced by the ledger for a
	// serialized transaction.
	MaxTransactionSize = 1232
)

var (
	ErrMissingSigner    = errors.New("transaction: required signer missing")
	ErrInvalidSignature = errors.New("transaction: signature verification failed")
	ErrTooManyAccounts  = errors.New("transaction: more than 256 account keys")
	ErrTruncated        = errors.New("transaction: truncated encoding")
)

// Blockhash is the recent block hash a message commits to.
type Blockhash [32]byte

func (h Blockhash) String() string {
	return base58.Encode(h[:])
}

// ParseBlockhash decodes the base58 form returned by the ledger RPC.
func ParseBlockhash(s string) (Blockhash, error) {
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return Blockhash{}, fmt.Errorf("transaction: invalid blockhash %q", s)
	}
	var h Blockhash
	copy(h[:], raw)
	return h, nil
}

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	PublicKey  crypto.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program call before compilation into a message.
type Instruction struct {
	ProgramID crypto.PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts the signer and read-only classes of the account key
// array.
type MessageHeader struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

// CompiledInstruction references accounts by their index in the message key
// array.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed portion of a transaction in the legacy format.
type Message struct {
	Header          MessageHeader
	AccountKeys     []crypto.PublicKey
	RecentBlockhash Blockhash
	Instructions    []CompiledInstruction
}

type keyFlags struct {
	key      crypto.PublicKey
	signer   bool
	writable bool
}

// NewMessage compiles instructions into a message. The fee payer is always the
// first key; the remaining keys are grouped signer-writable, signer-readonly,
// writable, readonly, keeping first-appearance order inside each group.
func NewMessage(feePayer crypto.PublicKey, instructions []Instruction, blockhash Blockhash) (*Message, error) {
	var order []*keyFlags
	index := make(map[crypto.PublicKey]*keyFlags)
	add := func(key crypto.PublicKey, signer, writable bool) {
		if existing, ok := index[key]; ok {
			existing.signer = existing.signer || signer
			existing.writable = existing.writable || writable
			return
		}
		entry := &keyFlags{key: key, signer: signer, writable: writable}
		index[key] = entry
		order = append(order, entry)
	}

	add(feePayer, true, true)
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			add(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	var signedWritable, signedReadonly, unsignedWritable, unsignedReadonly []crypto.PublicKey
	for _, entry := range order {
		switch {
		case entry.signer && entry.writable:
			signedWritable = append(signedWritable, entry.key)
		case entry.signer:
			signedReadonly = append(signedReadonly, entry.key)
		case entry.writable:
			unsignedWritable = append(unsignedWritable, entry.key)
		default:
			unsignedReadonly = append(unsignedReadonly, entry.key)
		}
	}

	keys := make([]crypto.PublicKey, 0, len(order))
	keys = append(keys, signedWritable...)
	keys = append(keys, signedReadonly...)
	keys = append(keys, unsignedWritable...)
	keys = append(keys, unsignedReadonly...)
	if len(keys) > 256 {
		return nil, ErrTooManyAccounts
	}

	positions := make(map[crypto.PublicKey]uint8, len(keys))
	for i, key := range keys {
		positions[key] = uint8(i)
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures: uint8(len(signedWritable) + len(signedReadonly)),
			NumReadonlySigned:     uint8(len(signedReadonly)),
			NumReadonlyUnsigned:   uint8(len(unsignedReadonly)),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: positions[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, meta := range ix.Accounts {
			compiled.Accounts[i] = positions[meta.PublicKey]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// Signers returns the keys whose signatures the message requires, in order.
func (m *Message) Signers() []crypto.PublicKey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

func (m *Message) IsWritable(i int) bool {
	required := int(m.Header.NumRequiredSignatures)
	if i < required {
		return i < required-int(m.Header.NumReadonlySigned)
	}
	return i < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsigned)
}

// Decompile expands the compiled instructions back into account metas.
func (m *Message) Decompile() ([]Instruction, error) {
	out := make([]Instruction, 0, len(m.Instructions))
	for n, ci := range m.Instructions {
		if int(ci.ProgramIDIndex) >= len(m.AccountKeys) {
			return nil, fmt.Errorf("transaction: instruction %d program index out of range", n)
		}
		ix := Instruction{ProgramID: m.AccountKeys[ci.ProgramIDIndex], Data: append([]byte(nil), ci.Data...)}
		for _, idx := range ci.Accounts {
			if int(idx) >= len(m.AccountKeys) {
				return nil, fmt.Errorf("transaction: instruction %d account index out of range", n)
			}
			ix.Accounts = append(ix.Accounts, AccountMeta{
				PublicKey:  m.AccountKeys[idx],
				IsSigner:   m.IsSigner(int(idx)),
				IsWritable: m.IsWritable(int(idx)),
			})
		}
		out = append(out, ix)
	}
	return out, nil
}

func (m *Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{m.Header.NumRequiredSignatures, m.Header.NumReadonlySigned, m.Header.NumReadonlyUnsigned})
	writeCompactU16(&buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf.Write(key[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactU16(&buf, len(m.Instructions))
	for _, ci := range m.Instructions {
		buf.WriteByte(ci.ProgramIDIndex)
		writeCompactU16(&buf, len(ci.Accounts))
		buf.Write(ci.Accounts)
		writeCompactU16(&buf, len(ci.Data))
		buf.Write(ci.Data)
	}
	return buf.Bytes(), nil
}

func (m *Message) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	if err := m.decode(r); err != nil {
		return err
	}
	if r.remaining() != 0 {
		return fmt.Errorf("transaction: %d trailing bytes after message", r.remaining())
	}
	return nil
}

func (m *Message) decode(r *reader) error {
	header, err := r.take(3)
	if err != nil {
		return err
	}
	m.Header = MessageHeader{header[0], header[1], header[2]}
	numKeys, err := r.compactU16()
	if err != nil {
		return err
	}
	m.AccountKeys = make([]crypto.PublicKey, numKeys)
	for i := range m.AccountKeys {
		raw, err := r.take(crypto.PublicKeyLength)
		if err != nil {
			return err
		}
		m.AccountKeys[i] = crypto.NewPublicKey(raw)
	}
	if int(m.Header.NumRequiredSignatures) > numKeys {
		return fmt.Errorf("transaction: header requires %d signers but has %d keys", m.Header.NumRequiredSignatures, numKeys)
	}
	hash, err := r.take(32)
	if err != nil {
		return err
	}
	copy(m.RecentBlockhash[:], hash)
	numIx, err := r.compactU16()
	if err != nil {
		return err
	}
	m.Instructions = make([]CompiledInstruction, numIx)
	for i := range m.Instructions {
		program, err := r.take(1)
		if err != nil {
			return err
		}
		numAccounts, err := r.compactU16()
		if err != nil {
			return err
		}
		accounts, err := r.take(numAccounts)
		if err != nil {
			return err
		}
		dataLen, err := r.compactU16()
		if err != nil {
			return err
		}
		payload, err := r.take(dataLen)
		if err != nil {
			return err
		}
		m.Instructions[i] = CompiledInstruction{
			ProgramIDIndex: program[0],
			Accounts:       append([]byte(nil), accounts...),
			Data:           append([]byte(nil), payload...),
		}
	}
	return nil
}

// Transaction couples a message with one signature per required signer.
type Transaction struct {
	Signatures [][SignatureLength]byte
	Message    Message
}

// NewTransaction wraps msg with empty signature slots.
func NewTransaction(msg *Message) *Transaction {
	return &Transaction{
		Signatures: make([][SignatureLength]byte, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}
}

// Sign fills the signature slot of every provided key. Every required signer
// must be covered, either by this call or by an earlier one.
func (tx *Transaction) Sign(signers ...*crypto.PrivateKey) error {
	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		tx.Signatures = make([][SignatureLength]byte, tx.Message.Header.NumRequiredSignatures)
	}
	byKey := make(map[crypto.PublicKey]*crypto.PrivateKey, len(signers))
	for _, signer := range signers {
		if signer != nil {
			byKey[signer.PubKey()] = signer
		}
	}
	for i, key := range tx.Message.Signers() {
		if signer, ok := byKey[key]; ok {
			copy(tx.Signatures[i][:], signer.SignMessage(payload))
			continue
		}
		if tx.Signatures[i] == ([SignatureLength]byte{}) {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
	}
	return nil
}

// VerifySignatures checks every signature slot against its key.
func (tx *Transaction) VerifySignatures() error {
	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: have %d signatures for %d signers", ErrMissingSigner, len(tx.Signatures), len(signers))
	}
	for i, key := range signers {
		if !key.Verify(payload, tx.Signatures[i][:]) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, key)
		}
	}
	return nil
}

// Signature returns the base58 form of the first signature, which the ledger
// uses as the transaction id.
func (tx *Transaction) Signature() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0][:])
}

func (tx *Transaction) MarshalBinary() ([]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(msg)
	return buf.Bytes(), nil
}

func (tx *Transaction) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	count, err := r.compactU16()
	if err != nil {
		return err
	}
	tx.Signatures = make([][SignatureLength]byte, count)
	for i := range tx.Signatures {
		raw, err := r.take(SignatureLength)
		if err != nil {
			return err
		}
		copy(tx.Signatures[i][:], raw)
	}
	if err := tx.Message.decode(r); err != nil {
		return err
	}
	if r.remaining() != 0 {
		return fmt.Errorf("transaction: %d trailing bytes", r.remaining())
	}
	return nil
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) compactU16() (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.take(1)
		if err != nil {
			return 0, err
		}
		v |= int(b[0]&0x7f) << (7 * i)
		if b[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("transaction: compact-u16 overflow")
}
