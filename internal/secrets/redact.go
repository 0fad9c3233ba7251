package secrets

import "strings"

// Mask replaces secret values in redacted output.
const Mask = "********"

// Redactor masks known secret values in text destined for logs, stored
// output, or hook payloads. It holds copies of the values, detached from
// any scope lifecycle.
type Redactor struct {
	values []string
}

// NewRedactor creates a Redactor for the given secret values.
// Empty values are ignored.
func NewRedactor(values ...[]byte) *Redactor {
	r := &Redactor{}
	for _, v := range values {
		if len(v) == 0 {
			continue
		}
		r.values = append(r.values, string(v))
	}
	return r
}

// Add registers additional secret values on an existing redactor.
func (r *Redactor) Add(values ...[]byte) {
	for _, v := range values {
		if len(v) == 0 {
			continue
		}
		r.values = append(r.values, string(v))
	}
}

// Redact replaces every known secret value occurring in s with the mask.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, Mask)
	}
	return s
}

// RedactBytes is Redact over a byte slice; returns a new slice.
func (r *Redactor) RedactBytes(b []byte) []byte {
	if r == nil || len(b) == 0 {
		return b
	}
	return []byte(r.Redact(string(b)))
}
