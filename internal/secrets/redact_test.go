package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactorMasksAllValues(t *testing.T) {
	r := NewRedactor([]byte("hunter2"), []byte("ghp_abc123"))

	out := r.Redact("pass=hunter2 token=ghp_abc123 pass again hunter2")
	assert.Equal(t, "pass="+Mask+" token="+Mask+" pass again "+Mask, out)
}

func TestRedactorLeavesCleanTextAlone(t *testing.T) {
	r := NewRedactor([]byte("hunter2"))
	assert.Equal(t, "nothing to see", r.Redact("nothing to see"))
}

func TestRedactorIgnoresEmptyValues(t *testing.T) {
	// An empty value must not turn the redactor into an infinite masker.
	r := NewRedactor([]byte(""), nil, []byte("real"))
	assert.Equal(t, Mask+" text", r.Redact("real text"))
}

func TestRedactorAdd(t *testing.T) {
	r := NewRedactor([]byte("one"))
	r.Add([]byte("two"))

	out := r.Redact("one and two")
	assert.Equal(t, Mask+" and "+Mask, out)
}

func TestRedactorNilReceiver(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "unchanged", r.Redact("unchanged"))
	assert.Equal(t, []byte("unchanged"), r.RedactBytes([]byte("unchanged")))
}

func TestRedactBytes(t *testing.T) {
	r := NewRedactor([]byte("s3cr3t"))

	in := []byte("value s3cr3t end")
	out := r.RedactBytes(in)
	assert.Equal(t, "value "+Mask+" end", string(out))
	// Input slice is untouched.
	assert.Equal(t, "value s3cr3t end", string(in))
}
