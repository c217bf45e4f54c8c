package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("join: %w", CapacityExceeded("directory.increment", "r1"))

	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindCapacityExceeded, KindOf(err))
	assert.Contains(t, err.Error(), "room r1 is full")
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("database.get_room", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Validation("relay.append", "empty body"), false},
		{NotFound("directory.get", "room %s", "x"), false},
		{CapacityExceeded("engine.join", "x"), true},
		{Conflict("directory.create", nil), true},
		{&Error{Kind: KindRateLimited}, true},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), tc.err.Error())
	}
}

func TestParseKindRoundTrips(t *testing.T) {
	for k := KindUnknown; k <= KindRateLimited; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindUnknown, ParseKind("internal"))
}
