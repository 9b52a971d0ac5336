package credentials

import (
	"errors"
	"fmt"
)

// Builder collects field values for one provisioning session.
// A rejected value leaves the field exactly as it was.
type Builder struct {
	session string
	values  [len(fieldSlots)]string
	set     [len(fieldSlots)]bool
}

// NewBuilder returns an empty builder bound to a session identifier.
func NewBuilder(session string) *Builder {
	return &Builder{session: session}
}

// Session returns the session the builder belongs to.
func (b *Builder) Session() string {
	return b.session
}

// Set stores a field value. Values that do not fit are rejected, never
// truncated.
func (b *Builder) Set(f Field, value string) error {
	i, ok := slotIndex(f)
	if !ok {
		return &FieldError{Field: f, Err: ErrUnknownField}
	}
	if err := validate(f, value); err != nil {
		return err
	}
	b.values[i] = value
	b.set[i] = true
	return nil
}

// isSet reports whether a field has been set.
func (b *Builder) isSet(f Field) bool {
	i, ok := slotIndex(f)
	return ok && b.set[i]
}

// Missing returns the unset fields in layout order.
func (b *Builder) Missing() []Field {
	var missing []Field
	for i, s := range fieldSlots {
		if !b.set[i] {
			missing = append(missing, s.field)
		}
	}
	return missing
}

// Build returns the completed record. It fails with ErrIncompleteRecord
// unless every field has been set.
func (b *Builder) Build() (Record, error) {
	if missing := b.Missing(); len(missing) > 0 {
		return Record{}, fmt.Errorf("%w: missing %v", ErrIncompleteRecord, missing)
	}
	return Record{values: b.values}, nil
}

// SetAll applies values in layout order and returns every rejection joined.
// Fields absent from values are left untouched.
func (b *Builder) SetAll(values map[Field]string) error {
	var errs []error
	for _, f := range Fields {
		v, ok := values[f]
		if !ok {
			continue
		}
		if err := b.Set(f, v); err != nil {
			errs = append(errs, err)
		}
	}
	for f := range values {
		if f.Capacity() == 0 {
			errs = append(errs, &FieldError{Field: f, Err: ErrUnknownField})
		}
	}
	return errors.Join(errs...)
}
