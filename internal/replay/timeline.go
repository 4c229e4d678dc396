package replay

// Timeline is the ordered sequence of materialized turns of one game.
// It is immutable once built; states returned by StateAt must not be modified.
type Timeline struct {
	states []*State
}

// NewTimeline builds a timeline from already materialized states
func NewTimeline(states []*State) *Timeline {
	copied := make([]*State, len(states))
	copy(copied, states)
	return &Timeline{states: copied}
}

// Len returns the number of turns
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.states)
}

// StateAt returns the state at a specific index, or nil when out of range
func (t *Timeline) StateAt(index int) *State {
	if t == nil || index < 0 || index >= len(t.states) {
		return nil
	}
	return t.states[index]
}

// Last returns the final state, or nil for an empty timeline
func (t *Timeline) Last() *State {
	return t.StateAt(t.Len() - 1)
}

// LastTurnNumber returns the turn number of the final state
func (t *Timeline) LastTurnNumber() int {
	if last := t.Last(); last != nil {
		return last.TurnNumber
	}
	return 0
}

// Dimensions returns the maze width and height shared by every turn
func (t *Timeline) Dimensions() (width, height int) {
	first := t.StateAt(0)
	if first == nil {
		return 0, 0
	}
	return first.MazeWidth, first.MazeHeight
}

// IndexOfTurn returns the index of the state carrying turnNumber.
// Turn numbers strictly increase, so this is a binary search.
func (t *Timeline) IndexOfTurn(turnNumber int) (int, bool) {
	lo, hi := 0, t.Len()-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch n := t.states[mid].TurnNumber; {
		case n == turnNumber:
			return mid, true
		case n < turnNumber:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}
