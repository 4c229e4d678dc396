package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplehardware/maze-replay-go/internal/replay"
)

func TestValidatorAcceptsKnownShapes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	payloads := []string{
		samplePayload,
		`{"n":"empty","h":[]}`,
		`{"mazeName":null,"gameHistory":[{"turnNumber":0,"mazeWidth":1,"mazeHeight":1,"players":{},"cells":[[{"type":"FLOOR","x":0,"y":0}]],"playerLogs":{}}]}`,
		`{"h":[[0,1,1,{},[["F"]],{}],{"t":1,"c":[[0,0,"W"]],"l":{"1":["out",null]}}]}`,
	}
	for _, p := range payloads {
		assert.NoError(t, v.Validate([]byte(p)), "payload %s", p)
	}
}

func TestValidatorRejectsBadEnvelopes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	payloads := []string{
		`not json`,
		`[]`,
		`{"n":"no history"}`,
		`{"n":3,"h":[]}`,
		`{"h":[42]}`,
		`{"h":[[0,1,1,{},[["F"]]]]}`,
		`{"h":[[0,0,1,{},[],{}]]}`,
		`{"h":[[0,1,1,{"1":[1,0,0]},[["F"]],{}]]}`,
		`{"h":[{"x":1}]}`,
		`{"h":[[0,1,1,{},[["F"]],{}],{"t":1,"c":[[0,0]]}]}`,
	}
	for _, p := range payloads {
		err := v.Validate([]byte(p))
		assert.ErrorIs(t, err, replay.ErrMalformedReplay, "payload %s", p)
	}
}

func TestValidatorNumbers(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate([]byte(`{"h":[[9007199254740993,1,1,{},[["F"]],{}]]}`)))
	assert.NoError(t, v.Validate([]byte(`{"h":[[2,1,1,{},[["F"]],{}]]}`+"\n")))
	assert.ErrorIs(t, v.Validate([]byte(`{"h":[[1.5,1,1,{},[["F"]],{}]]}`)), replay.ErrMalformedReplay)
	assert.ErrorIs(t, v.Validate([]byte(`{"h":[[1,0.5,1,{},[["F"]],{}]]}`)), replay.ErrMalformedReplay)
}
