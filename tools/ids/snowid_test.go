package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurableAndTempNamespacesAreDisjoint(t *testing.T) {
	d := DurableID()
	p := TempID()

	assert.True(t, IsDurableID(d))
	assert.False(t, IsTempID(d))
	assert.True(t, IsTempID(p))
	assert.False(t, IsDurableID(p))
}

func TestTempIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := TempID()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate temp id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateMonotonicish(t *testing.T) {
	a := Generate()
	b := Generate()
	assert.NotEqual(t, a, b)
	assert.Greater(t, b, a)
}
