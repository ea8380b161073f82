package errs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ErrAuthRejected.WrapMsg("invalid token", "user", "u1")
	assert.True(t, ErrAuthRejected.Is(err))
	assert.False(t, ErrPersistFailed.Is(err))
	assert.False(t, ErrAuthRejected.Is(fmt.Errorf("plain")))
}

func TestWrapMsgAppendsDetail(t *testing.T) {
	err := ErrNotAuthorized.WrapMsg("drop frame", "conn", "c1")
	msg := err.Error()
	assert.Contains(t, msg, "session not authenticated")
	assert.Contains(t, msg, "drop frame")
	assert.Contains(t, msg, "conn=c1")
}

func TestWrapCapturesStack(t *testing.T) {
	err := ErrAuthTimeout.Wrap()
	require.Error(t, err)

	plain := fmt.Sprintf("%v", err)
	verbose := fmt.Sprintf("%+v", err)
	assert.Equal(t, ErrAuthTimeout.Error(), plain)
	assert.True(t, strings.Contains(verbose, "coderr_test"), "stack should name the call site:\n%s", verbose)
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	derived := ErrPersistFailed.WithDetail("mongo down")
	assert.Contains(t, derived.Error(), "mongo down")
	assert.NotContains(t, ErrPersistFailed.Error(), "mongo down")
}
