// Package credentials holds the broker credential record exchanged between
// the provisioning flow and the networking stack.
//
// A Record can only be obtained from a Builder that had every field set, or
// by decoding a complete 80-byte layout, so partially written records are
// never observable.
package credentials

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrFieldTooLong is returned when a value exceeds its field capacity.
	ErrFieldTooLong = errors.New("field too long")
	// ErrIncompleteRecord is returned when a record is committed with unset fields.
	ErrIncompleteRecord = errors.New("incomplete record")
	// ErrInvalidValue is returned for values the layout or the broker cannot carry.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnknownField is returned for a field name outside the layout.
	ErrUnknownField = errors.New("unknown field")
)

// Field names a slot of the record.
type Field string

const (
	FieldLogin      Field = "login"
	FieldPassword   Field = "password"
	FieldDevice     Field = "device"
	FieldCapability Field = "capability"
	FieldBrokerIP   Field = "broker_ip"
	FieldBrokerPort Field = "broker_port"
)

// Fields lists the record fields in layout order.
var Fields = []Field{
	FieldLogin,
	FieldPassword,
	FieldDevice,
	FieldCapability,
	FieldBrokerIP,
	FieldBrokerPort,
}

// Capacity returns the fixed size of a field in bytes, terminator included.
// It returns 0 for unknown fields.
func (f Field) Capacity() int {
	switch f {
	case FieldLogin, FieldPassword, FieldBrokerIP:
		return 16
	case FieldDevice, FieldBrokerPort:
		return 6
	case FieldCapability:
		return 2
	}
	return 0
}

// MaxLen is the longest value the field accepts.
func (f Field) MaxLen() int {
	if c := f.Capacity(); c > 0 {
		return c - 1
	}
	return 0
}

// ParseField maps a field name to a Field.
func ParseField(name string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	if f.Capacity() == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// FieldError reports a rejected field value.
type FieldError struct {
	Field Field
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Record is a complete, validated credential record.
type Record struct {
	values [len(fieldSlots)]string
}

// Get returns the value of a field.
func (r Record) Get(f Field) string {
	i, ok := slotIndex(f)
	if !ok {
		return ""
	}
	return r.values[i]
}

func (r Record) Login() string      { return r.Get(FieldLogin) }
func (r Record) Password() string   { return r.Get(FieldPassword) }
func (r Record) Device() string     { return r.Get(FieldDevice) }
func (r Record) Capability() string { return r.Get(FieldCapability) }
func (r Record) BrokerIP() string   { return r.Get(FieldBrokerIP) }
func (r Record) BrokerPort() string { return r.Get(FieldBrokerPort) }

// BrokerURL returns the paho broker address for the record.
func (r Record) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(r.BrokerIP(), r.BrokerPort())
}

// IsZero reports whether the record is the zero value.
func (r Record) IsZero() bool {
	return r == Record{}
}

// String renders the record with the password masked.
func (r Record) String() string {
	pw := ""
	if r.Password() != "" {
		pw = "***"
	}
	return fmt.Sprintf("login=%q password=%q device=%q cap=%q broker=%s",
		r.Login(), pw, r.Device(), r.Capability(), r.BrokerURL())
}

// validate checks a value against the field's capacity and content rules.
func validate(f Field, value string) error {
	if len(value) > f.MaxLen() {
		return &FieldError{Field: f, Err: fmt.Errorf("%w: %d bytes, max %d", ErrFieldTooLong, len(value), f.MaxLen())}
	}
	if strings.IndexByte(value, 0) >= 0 {
		return &FieldError{Field: f, Err: fmt.Errorf("%w: contains NUL", ErrInvalidValue)}
	}

	switch f {
	case FieldDevice:
		if value == "" {
			return &FieldError{Field: f, Err: fmt.Errorf("%w: empty device name", ErrInvalidValue)}
		}
		if strings.ContainsAny(value, "/+#") {
			return &FieldError{Field: f, Err: fmt.Errorf("%w: %q is not a topic segment", ErrInvalidValue, value)}
		}
	case FieldBrokerIP:
		if value == "" {
			return &FieldError{Field: f, Err: fmt.Errorf("%w: empty broker address", ErrInvalidValue)}
		}
	case FieldBrokerPort:
		port, err := strconv.Atoi(value)
		if err != nil || port < 1 || port > 65535 {
			return &FieldError{Field: f, Err: fmt.Errorf("%w: port %q", ErrInvalidValue, value)}
		}
	}
	return nil
}
