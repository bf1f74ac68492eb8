package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayError_Error(t *testing.T) {
	err := NewTransportSend("send notification", stderrors.New("broken pipe"))
	assert.Equal(t, "TRANSPORT_SEND: send notification: broken pipe", err.Error())

	bare := &RelayError{Kind: KindConfig, Op: "load"}
	assert.Equal(t, "CONFIG: load", bare.Error())
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := fmt.Errorf("connect: %w", NewTransportConnect("dial", cause))

	assert.True(t, Is(err, KindTransportConnect))
	assert.False(t, Is(err, KindTransportSend))
	require.ErrorIs(t, err, cause)
}

func TestIs_PlainError(t *testing.T) {
	assert.False(t, Is(stderrors.New("plain"), KindCapture))
	assert.False(t, Is(nil, KindCapture))
}
