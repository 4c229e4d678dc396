package replay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const scenarioPayload = `{"n":"T1","h":[[1,2,1,{"1":[1,0,0,0,0,4,1,0]},[["F"],["W"]],{}]]}`

func rawTurns(t *testing.T, entries ...string) []json.RawMessage {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		require.True(t, json.Valid([]byte(e)), "invalid json: %s", e)
		raw = append(raw, json.RawMessage(e))
	}
	return raw
}

func TestDecodePayloadScenario(t *testing.T) {
	decoder := NewDecoder(zaptest.NewLogger(t))

	rep, err := decoder.DecodePayload([]byte(scenarioPayload))
	require.NoError(t, err)

	assert.Equal(t, "T1", rep.MazeName)
	require.Equal(t, 1, rep.Timeline.Len())

	state := rep.Timeline.StateAt(0)
	assert.Equal(t, 1, state.TurnNumber)
	assert.Equal(t, 2, state.MazeWidth)
	assert.Equal(t, 1, state.MazeHeight)

	require.Len(t, state.Players, 1)
	player := state.Players[1]
	assert.Equal(t, Player{ID: 1, X: 0, Y: 0, Score: 0, FormsCollected: 0, FormsRequired: 4, Active: true, Finished: false}, player)

	assert.Equal(t, CellFloor, state.Cells[0][0].Kind)
	assert.Equal(t, CellWall, state.Cells[1][0].Kind)
	assert.Empty(t, state.PlayerLogs)
}

func TestDecodeDeltaScenario(t *testing.T) {
	timeline, err := Decode(rawTurns(t,
		`[1,2,1,{"1":[1,0,0,0,0,4,1,0]},[["F"],["W"]],{}]`,
		`{"t":2,"p":{"1":[1,1,0,0,0,4,1,0]}}`,
	))
	require.NoError(t, err)
	require.Equal(t, 2, timeline.Len())

	first, second := timeline.StateAt(0), timeline.StateAt(1)
	assert.Equal(t, 2, second.TurnNumber)
	assert.Equal(t, first.MazeWidth, second.MazeWidth)
	assert.Equal(t, first.MazeHeight, second.MazeHeight)
	assert.Equal(t, first.Cells, second.Cells)
	assert.Equal(t, 1, second.Players[1].X)
	assert.Equal(t, 0, second.Players[1].Y)

	// the first turn is untouched by the delta
	assert.Equal(t, 0, first.Players[1].X)
}

func TestDecodeEmptyHistory(t *testing.T) {
	timeline, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, timeline.Len())

	rep, err := DecodePayload([]byte(`{"n":"empty","h":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Timeline.Len())
	assert.Nil(t, rep.Timeline.StateAt(0))
}

func TestDecodeLegacyPayload(t *testing.T) {
	payload := `{
	  "mazeName": "Old Maze",
	  "gameHistory": [
	    {
	      "turnNumber": 0, "mazeWidth": 2, "mazeHeight": 2,
	      "players": {"1": {"id":1,"x":0,"y":0,"score":0,"formsCollected":0,"formsRequired":2,"active":true,"finished":false}},
	      "cells": [
	        [{"type":"FLOOR","x":0,"y":0,"form":"A","formOwner":1,"hasSheet":false,"finishPlayerId":null},
	         {"type":"WALL","x":0,"y":1,"form":null,"formOwner":null,"hasSheet":false,"finishPlayerId":null}],
	        [{"type":"FLOOR","x":1,"y":0,"form":null,"formOwner":null,"hasSheet":true,"finishPlayerId":null},
	         {"type":"FINISH","x":1,"y":1,"form":null,"formOwner":null,"hasSheet":false,"finishPlayerId":1}]
	      ],
	      "playerLogs": {"1": {"stdout":"hello","stderr":""}}
	    },
	    {"t": 1, "p": {"1": [1,1,0,5,1,2,1,0]}, "c": [[0,0,"F"]], "l": {"1": ["step", null]}}
	  ]
	}`

	rep, err := DecodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "Old Maze", rep.MazeName)
	require.Equal(t, 2, rep.Timeline.Len())

	first := rep.Timeline.StateAt(0)
	assert.Equal(t, Cell{Kind: CellFloor, X: 0, Y: 0, Form: "A", FormOwner: intPtr(1)}, first.Cells[0][0])
	assert.Equal(t, CellWall, first.Cells[0][1].Kind)
	assert.True(t, first.Cells[1][0].HasMarker)
	owner, ok := first.Cells[1][1].FinishOwner()
	assert.True(t, ok)
	assert.Equal(t, 1, owner)
	assert.Equal(t, PlayerLog{Stdout: "hello"}, first.PlayerLogs[1])

	second := rep.Timeline.StateAt(1)
	assert.Equal(t, Cell{Kind: CellFloor, X: 0, Y: 0}, second.Cells[0][0])
	assert.Equal(t, float64(5), second.Players[1].Score)
	assert.Equal(t, PlayerLog{Stdout: "step"}, second.PlayerLogs[1])
}

func TestDecodePayloadPrefersCompactKeys(t *testing.T) {
	payload := `{"n":"compact","mazeName":"legacy","h":[],"gameHistory":[[1,1,1,{},[["F"]],{}]]}`
	rep, err := DecodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "compact", rep.MazeName)
	assert.Equal(t, 0, rep.Timeline.Len())
}

func TestDecodePayloadDefaultsMazeName(t *testing.T) {
	rep, err := DecodePayload([]byte(`{"h":[[1,1,1,{},[["F"]],{}]]}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultMazeName, rep.MazeName)
}

func TestDecodeMixedFormats(t *testing.T) {
	timeline, err := Decode(rawTurns(t,
		`[0,2,1,{"1":[1,0,0,0,0,1,1,0]},[["F"],["N,F:1"]],{"1":["a","b"]}]`,
		`{"t":1,"p":{"1":[1,1,0,1,1,1,1,1]},"l":{"1":["c"]}}`,
		`[2,2,1,{"1":[1,1,0,1,1,1,0,1]},[["F"],["N,F:1"]],{}]`,
		`{"t":3}`,
	))
	require.NoError(t, err)
	require.Equal(t, 4, timeline.Len())

	assert.Equal(t, PlayerLog{Stdout: "c"}, timeline.StateAt(1).PlayerLogs[1])
	assert.True(t, timeline.StateAt(1).Players[1].Finished)
	assert.False(t, timeline.StateAt(2).Players[1].Active)
	assert.Empty(t, timeline.StateAt(2).PlayerLogs)
	assert.Equal(t, 3, timeline.StateAt(3).TurnNumber)
	assert.Equal(t, timeline.StateAt(2).Players, timeline.StateAt(3).Players)
	assert.Equal(t, 3, timeline.LastTurnNumber())

	idx, ok := timeline.IndexOfTurn(2)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = timeline.IndexOfTurn(7)
	assert.False(t, ok)
}

func TestDecodeNewPlayerInDelta(t *testing.T) {
	timeline, err := Decode(rawTurns(t,
		`[0,1,1,{"1":[1,0,0,0,0,1,1,0]},[["F"]],{}]`,
		`{"t":1,"p":{"2":[2,0,0,0,0,1,1,0]}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, timeline.StateAt(0).PlayerIDs())
	assert.Equal(t, []int{1, 2}, timeline.StateAt(1).PlayerIDs())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		index   int
	}{
		{"delta first", []string{`{"t":1}`}, 0},
		{"scalar entry", []string{`42`}, 0},
		{"unknown object", []string{`{"x":1}`}, 0},
		{"short compact", []string{`[1,1,1,{},[["F"]]]`}, 0},
		{"grid narrower than header", []string{`[1,2,1,{},[["F"]],{}]`}, 0},
		{"grid shorter than header", []string{`[1,1,2,{},[["F"]],{}]`}, 0},
		{"zero sized maze", []string{`[1,0,0,{},[],{}]`}, 0},
		{"short player record", []string{`[1,1,1,{"1":[1,0,0]},[["F"]],{}]`}, 0},
		{"player key mismatch", []string{`[1,1,1,{"1":[2,0,0,0,0,1,1,0]},[["F"]],{}]`}, 0},
		{"player id zero", []string{`[1,1,1,{"0":[0,0,0,0,0,1,1,0]},[["F"]],{}]`}, 0},
		{"finish for unknown player", []string{`[1,1,1,{},[["N,F:3"]],{}]`}, 0},
		{"bad flag", []string{`[1,1,1,{"1":[1,0,0,0,0,1,"yes",0]},[["F"]],{}]`}, 0},
		{"log for unknown player", []string{`[1,1,1,{},[["F"]],{"2":["hi",""]}]`}, 0},
		{"log for player id zero", []string{`[1,1,1,{"1":[1,0,0,0,0,1,1,0]},[["F"]],{"0":["hi",""]}]`}, 0},
		{
			name:    "delta log for unknown player",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `{"t":2,"l":{"1":["x"]}}`},
			index:   1,
		},
		{
			name:    "cell patch out of bounds",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `{"t":2,"c":[[1,0,"W"]]}`},
			index:   1,
		},
		{
			name:    "malformed cell patch",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `{"t":2,"c":[[0,0]]}`},
			index:   1,
		},
		{
			name:    "maze resized",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `[2,2,1,{},[["F"],["F"]],{}]`},
			index:   1,
		},
		{
			name:    "turn number not increasing",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `{"t":1}`},
			index:   1,
		},
		{
			name:    "player dropped",
			entries: []string{`[1,1,1,{"1":[1,0,0,0,0,1,1,0]},[["F"]],{}]`, `[2,1,1,{},[["F"]],{}]`},
			index:   1,
		},
		{
			name:    "delta finish cell for unknown player",
			entries: []string{`[1,1,1,{},[["F"]],{}]`, `{"t":2,"c":[[0,0,"N,F:1"]]}`},
			index:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeline, err := Decode(rawTurns(t, tt.entries...))
			require.Error(t, err)
			assert.Nil(t, timeline)
			assert.True(t, errors.Is(err, ErrMalformedReplay))

			var mre *MalformedReplayError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, tt.index, mre.Index)
		})
	}
}

func TestDecodePayloadMalformedEnvelope(t *testing.T) {
	for _, payload := range []string{`not json`, `{"n":"x"}`, `[]`, `{"h":{}}`} {
		_, err := DecodePayload([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformedReplay, "payload %s", payload)
	}
}

func TestMalformedReplayErrorMessage(t *testing.T) {
	err := NewMalformedError(3, "bad shape", errors.New("boom"))
	assert.Equal(t, "malformed replay: turn 3: bad shape: boom", err.Error())

	err = NewMalformedError(-1, "no history", nil)
	assert.Equal(t, "malformed replay: no history", err.Error())
}
