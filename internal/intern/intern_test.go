package intern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleEquality(t *testing.T) {
	a := Make("user:1001")
	b := FromBytes([]byte("user:1001"))
	c := Make("user:1002")

	assert.Equal(t, a, b, "same contents intern to the same handle")
	assert.NotEqual(t, a, c)
}

func TestOrdering(t *testing.T) {
	assert.Negative(t, Compare(Make("a"), Make("b")))
	assert.Positive(t, Compare(Make("b"), Make("a")))
	assert.Zero(t, Compare(Make("x"), Make("x")))
	assert.True(t, Less(Make("doc:1"), Make("doc:2")))
}

func TestZeroValue(t *testing.T) {
	var z String
	assert.True(t, z.IsZero())
	assert.Equal(t, "", z.Str())
	assert.False(t, Make("").IsZero(), "interned empty string is not the zero handle")
}
