package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unavailable", Unavailable("redis get", errors.New("dial tcp: refused")), true},
		{"invalid data", InvalidData("parse watermark", errors.New("bad time")), true},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"circuit open", fmt.Errorf("%w: postgres", ErrCircuitOpen), true},
		{"malformed row", New(ErrMalformedRow, "transform", "empty title"), false},
		{"canceled", Unavailable("bulk", context.Canceled), false},
		{"exhausted", fmt.Errorf("bulk: %w after 3 attempts: %w", ErrRetryExhausted, Unavailable("bulk", io.EOF)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("fetch", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch")
	assert.Nil(t, Unavailable("noop", nil))
}

func TestAppErrorMessage(t *testing.T) {
	err := Newf(ErrIndexRejected, "bulk movies", "%d of %d failed", 2, 50)

	assert.ErrorIs(t, err, ErrIndexRejected)
	assert.Equal(t, "bulk movies: index rejected documents: 2 of 50 failed", err.Error())
}
