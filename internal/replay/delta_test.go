package replay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestState builds a width x height floor maze with one player per id
func newTestState(turn, width, height int, ids ...int) *State {
	s := &State{
		TurnNumber: turn,
		MazeWidth:  width,
		MazeHeight: height,
		Players:    make(map[int]Player),
		Cells:      make([][]Cell, width),
		PlayerLogs: make(map[int]PlayerLog),
	}
	for x := 0; x < width; x++ {
		s.Cells[x] = make([]Cell, height)
		for y := 0; y < height; y++ {
			s.Cells[x][y] = Cell{Kind: CellFloor, X: x, Y: y}
		}
	}
	for _, id := range ids {
		s.Players[id] = Player{ID: id, FormsRequired: 4, Active: true}
		s.PlayerLogs[id] = PlayerLog{Stdout: "ready"}
	}
	return s
}

func TestApplyDeltaPatchesOnlyAddressedEntries(t *testing.T) {
	prev := newTestState(1, 3, 2, 1, 2)
	prev.Cells[2][1] = Cell{Kind: CellFinish, X: 2, Y: 1, FinishOwnerID: intPtr(1)}

	next, err := ApplyDelta(prev, Delta{
		TurnNumber: 4,
		Players:    map[int]Player{1: {ID: 1, X: 1, Y: 0, Score: 3, FormsRequired: 4, Active: true}},
		Cells:      []CellPatch{{X: 0, Y: 1, Token: "F,A,1"}},
		Logs:       map[int]PlayerLog{2: {Stderr: "oops"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, next.TurnNumber)
	assert.Equal(t, 3, next.MazeWidth)
	assert.Equal(t, 2, next.MazeHeight)

	assert.Equal(t, 1, next.Players[1].X)
	assert.Equal(t, float64(3), next.Players[1].Score)
	assert.Equal(t, prev.Players[2], next.Players[2])

	assert.Equal(t, Cell{Kind: CellFloor, X: 0, Y: 1, Form: "A", FormOwner: intPtr(1)}, next.Cells[0][1])
	assert.Equal(t, prev.Cells[2][1], next.Cells[2][1])
	assert.Equal(t, prev.Cells[0][0], next.Cells[0][0])

	assert.Equal(t, PlayerLog{Stderr: "oops"}, next.PlayerLogs[2])
	assert.Equal(t, PlayerLog{Stdout: "ready"}, next.PlayerLogs[1])
}

func TestApplyDeltaDoesNotMutatePrevious(t *testing.T) {
	prev := newTestState(1, 2, 2, 1)
	prev.Cells[1][1] = Cell{Kind: CellFloor, X: 1, Y: 1, Form: "B", FormOwner: intPtr(1)}
	before := prev.Clone()
	checksum := StateChecksum(prev)

	next, err := ApplyDelta(prev, Delta{
		TurnNumber: 2,
		Players:    map[int]Player{1: {ID: 1, X: 1, Y: 1, Active: true}},
		Cells:      []CellPatch{{X: 0, Y: 0, Token: "W"}},
		Logs:       map[int]PlayerLog{1: {Stdout: "moved"}},
	})
	require.NoError(t, err)

	assert.Equal(t, before, prev)
	assert.Equal(t, checksum, StateChecksum(prev))

	// mutating the result must not be visible through prev
	next.Cells[1][1].Form = "Z"
	*next.Cells[1][1].FormOwner = 9
	next.Cells[0][1] = Cell{Kind: CellWall}
	next.Players[1] = Player{ID: 1, X: 0, Y: 0}
	next.PlayerLogs[1] = PlayerLog{Stderr: "changed"}

	assert.Equal(t, before, prev)
}

func TestApplyDeltaEmptyDeltaCopiesState(t *testing.T) {
	prev := newTestState(7, 2, 1, 1)

	next, err := ApplyDelta(prev, Delta{TurnNumber: 8})
	require.NoError(t, err)

	assert.Equal(t, 8, next.TurnNumber)
	assert.Equal(t, prev.Players, next.Players)
	assert.Equal(t, prev.Cells, next.Cells)
	assert.Equal(t, prev.PlayerLogs, next.PlayerLogs)
	assert.NotSame(t, &prev.Cells[0][0], &next.Cells[0][0])
}

func TestApplyDeltaWithoutPreviousTurn(t *testing.T) {
	_, err := ApplyDelta(nil, Delta{TurnNumber: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedReplay))
}

func TestApplyDeltaRejectsBadPatches(t *testing.T) {
	prev := newTestState(1, 2, 2, 1)

	_, err := ApplyDelta(prev, Delta{TurnNumber: 2, Cells: []CellPatch{{X: 2, Y: 0, Token: "W"}}})
	assert.ErrorIs(t, err, ErrMalformedReplay)

	_, err = ApplyDelta(prev, Delta{TurnNumber: 2, Cells: []CellPatch{{X: 0, Y: -1, Token: "W"}}})
	assert.ErrorIs(t, err, ErrMalformedReplay)

	_, err = ApplyDelta(prev, Delta{TurnNumber: 2, Players: map[int]Player{1: {ID: 2}}})
	assert.ErrorIs(t, err, ErrMalformedReplay)
}

func TestStateCloneIndependence(t *testing.T) {
	s := newTestState(1, 2, 2, 1)
	s.Cells[0][0].FinishOwnerID = intPtr(1)
	c := s.Clone()

	assert.Equal(t, s, c)
	*c.Cells[0][0].FinishOwnerID = 5
	assert.Equal(t, 1, *s.Cells[0][0].FinishOwnerID)

	var nilState *State
	assert.Nil(t, nilState.Clone())
}
