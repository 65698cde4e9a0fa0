package escrow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"stakeshack/crypto"
)

type encoder struct {
	buf bytes.Buffer
}

func newEncoder(d Discriminator) *encoder {
	e := &encoder{}
	e.buf.Write(d[:])
	return e
}

func (e *encoder) writeString(s string) error {
	if len(s) > MaxIDLength {
		return fmt.Errorf("%w: %d bytes", ErrIDTooLong, len(s))
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("escrow: identifier is not valid UTF-8")
	}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(s)))
	e.buf.Write(length[:])
	e.buf.WriteString(s)
	return nil
}

func (e *encoder) writeFixed(b [32]byte) {
	e.buf.Write(b[:])
}

func (e *encoder) writeKey(k crypto.PublicKey) {
	e.buf.Write(k[:])
}

func (e *encoder) writeU64(v uint64) {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], v)
	e.buf.Write(raw[:])
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

func (e *encoder) writeU8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}

type decoder struct {
	layout string
	buf    []byte
	off    int
}

// newDecoder checks the discriminator and positions the decoder after it.
func newDecoder(layout string, data []byte, want Discriminator) (*decoder, error) {
	d := &decoder{layout: layout, buf: data}
	raw, err := d.take(len(want))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(raw, want[:]) {
		return nil, d.fail(0, fmt.Sprintf("discriminator %x, want %s", raw, want))
	}
	return d, nil
}

func (d *decoder) fail(offset int, reason string) *DecodeError {
	return &DecodeError{Layout: d.layout, Offset: offset, Reason: reason}
}

func (d *decoder) take(n int) ([]byte, error) {
	if len(d.buf)-d.off < n {
		return nil, d.fail(d.off, fmt.Sprintf("need %d bytes, have %d", n, len(d.buf)-d.off))
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) readString() (string, error) {
	start := d.off
	raw, err := d.take(4)
	if err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint32(raw)
	if uint64(length) > uint64(len(d.buf)-d.off) {
		return "", d.fail(start, fmt.Sprintf("string length %d exceeds remaining %d bytes", length, len(d.buf)-d.off))
	}
	body, err := d.take(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(body) {
		return "", d.fail(start, "string is not valid UTF-8")
	}
	return string(body), nil
}

func (d *decoder) readFixed() ([32]byte, error) {
	var out [32]byte
	raw, err := d.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func (d *decoder) readKey() (crypto.PublicKey, error) {
	raw, err := d.readFixed()
	return crypto.PublicKey(raw), err
}

func (d *decoder) readU64() (uint64, error) {
	raw, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (d *decoder) readBool() (bool, error) {
	raw, err := d.take(1)
	if err != nil {
		return false, err
	}
	switch raw[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, d.fail(d.off-1, fmt.Sprintf("bool byte %d", raw[0]))
	}
}

func (d *decoder) readU8() (uint8, error) {
	raw, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// finish rejects trailing bytes. Instruction payloads are exact; accounts are
// not, so account decoders never call it.
func (d *decoder) finish() error {
	if d.off != len(d.buf) {
		return d.fail(d.off, fmt.Sprintf("%d trailing bytes", len(d.buf)-d.off))
	}
	return nil
}
