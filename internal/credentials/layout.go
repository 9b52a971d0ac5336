package credentials

import (
	"bytes"
	"fmt"
)

// Size is the length of the encoded record.
const Size = 80

type slot struct {
	field  Field
	offset int
}

// fieldSlots is the wire layout: login[16] pw[16] dev_short[6] cap[2]
// server_ip[16] server_port[6], each NUL padded. The rest of the record is
// zero.
var fieldSlots = [...]slot{
	{FieldLogin, 0},
	{FieldPassword, 16},
	{FieldDevice, 32},
	{FieldCapability, 38},
	{FieldBrokerIP, 40},
	{FieldBrokerPort, 56},
}

// padOffset is where the zero tail after server_port begins.
const padOffset = 62

func slotIndex(f Field) (int, bool) {
	for i, s := range fieldSlots {
		if s.field == f {
			return i, true
		}
	}
	return 0, false
}

// MarshalBinary encodes the record into its fixed 80-byte layout.
func (r Record) MarshalBinary() ([]byte, error) {
	if r.IsZero() {
		return nil, ErrIncompleteRecord
	}
	buf := make([]byte, Size)
	for i, s := range fieldSlots {
		copy(buf[s.offset:s.offset+s.field.Capacity()], r.values[i])
	}
	return buf, nil
}

// Decode parses an 80-byte layout. Every field goes through the same
// validation as Builder.Set, so a corrupt layout never yields a Record.
func Decode(data []byte) (Record, error) {
	if len(data) != Size {
		return Record{}, fmt.Errorf("%w: layout is %d bytes, want %d", ErrInvalidValue, len(data), Size)
	}

	for i, c := range data[padOffset:] {
		if c != 0 {
			return Record{}, fmt.Errorf("%w: non-zero padding at offset %d", ErrInvalidValue, padOffset+i)
		}
	}

	b := NewBuilder("")
	for _, s := range fieldSlots {
		raw := data[s.offset : s.offset+s.field.Capacity()]
		end := bytes.IndexByte(raw, 0)
		if end < 0 {
			return Record{}, &FieldError{Field: s.field, Err: fmt.Errorf("%w: missing terminator", ErrInvalidValue)}
		}
		if err := b.Set(s.field, string(raw[:end])); err != nil {
			return Record{}, err
		}
	}
	return b.Build()
}
