package replay

// CellPatch replaces the cell at (X, Y) with the decoded Token
type CellPatch struct {
	X     int
	Y     int
	Token string
}

// Delta is a sparse update against the previous turn.
// Categories left nil are unchanged; entries missing from a category are unchanged too.
type Delta struct {
	TurnNumber int
	Players    map[int]Player
	Cells      []CellPatch
	Logs       map[int]PlayerLog
}

// ApplyDelta materializes the turn described by d on top of prev.
// prev is never modified and the result shares no mutable structure with it.
func ApplyDelta(prev *State, d Delta) (*State, error) {
	if prev == nil {
		return nil, malformed(-1, "delta has no previous turn")
	}

	next := prev.Clone()
	next.TurnNumber = d.TurnNumber

	for id, p := range d.Players {
		if p.ID != id {
			return nil, malformed(-1, "player patch key %d carries record for player %d", id, p.ID)
		}
		next.Players[id] = p
	}

	for _, patch := range d.Cells {
		if !next.inBounds(patch.X, patch.Y) {
			return nil, malformed(-1, "cell patch (%d,%d) outside %dx%d maze",
				patch.X, patch.Y, next.MazeWidth, next.MazeHeight)
		}
		next.Cells[patch.X][patch.Y] = DecodeCell(patch.Token, patch.X, patch.Y)
	}

	for id, log := range d.Logs {
		next.PlayerLogs[id] = log
	}

	return next, nil
}
