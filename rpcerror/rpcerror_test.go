package rpcerror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, Code("")},
		{"typed error", New(CodeMethodNotFound, "no such method"), CodeMethodNotFound},
		{"wrapped typed error", fmt.Errorf("dispatch: %w", New(CodeInvalidParameters, "bad args")), CodeInvalidParameters},
		{"deadline", context.DeadlineExceeded, CodeTimeoutError},
		{"timeout sentinel", fmt.Errorf("call: %w", ErrTimeout), CodeTimeoutError},
		{"not connected", ErrNotConnected, CodeConnectionError},
		{"connection lost", fmt.Errorf("send: %w", ErrConnectionLost), CodeConnectionError},
		{"transport closed", ErrTransportClosed, CodeConnectionError},
		{"stream closed", ErrStreamClosed, CodeStreamError},
		{"unmapped", errors.New("disk on fire"), CodeInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Errorf(CodeServiceNotFound, "service %q unknown", "UserService")
	assert.Equal(t, `ServiceNotFound: service "UserService" unknown`, err.Error())

	var e *Error
	assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &e))
	assert.Equal(t, CodeServiceNotFound, e.Code)
}

func TestIsConnection(t *testing.T) {
	assert.True(t, IsConnection(ErrConnectionLost))
	assert.False(t, IsConnection(ErrTimeout))
}
