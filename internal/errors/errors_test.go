package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWirePrefixes(t *testing.T) {
	cases := map[Kind]string{
		KindInvalidArgument:    "ERR",
		KindNotFound:           "NOT-FOUND",
		KindPermissionDenied:   "PERMISSION-DENIED",
		KindTimeout:            "TIMEOUT",
		KindOutOfMemory:        "OOM",
		KindInternal:           "INTERNAL",
		KindFailedPrecondition: "INTERNAL",
	}
	for kind, prefix := range cases {
		err := New(kind, "boom")
		assert.Contains(t, err.Error(), prefix)
	}
}

func TestPositionRendering(t *testing.T) {
	err := InvalidArgumentAt(17, "unexpected character `x`")
	assert.Equal(t, "ERR unexpected character `x` at position 17", err.Error())
}

func TestChainSupport(t *testing.T) {
	cause := fmt.Errorf("io failure")
	err := Wrap(KindTransport, cause, "talking to shard %s", "n1")
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(err, KindTimeout))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindTransport, KindOf(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, nil, "ignored"))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
}
