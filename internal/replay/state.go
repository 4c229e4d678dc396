package replay

import "sort"

// Player is the per-turn record of one bot
type Player struct {
	ID             int     `json:"id"`
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Score          float64 `json:"score"`
	FormsCollected int     `json:"formsCollected"`
	FormsRequired  int     `json:"formsRequired"`
	Active         bool    `json:"active"`
	Finished       bool    `json:"finished"`
}

// PlayerLog holds the output a player produced during a single turn
type PlayerLog struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// State is a fully materialized snapshot of one turn.
// Cells is indexed [x][y] and has MazeWidth columns of MazeHeight cells.
type State struct {
	TurnNumber int               `json:"turnNumber"`
	MazeWidth  int               `json:"mazeWidth"`
	MazeHeight int               `json:"mazeHeight"`
	Players    map[int]Player    `json:"players"`
	Cells      [][]Cell          `json:"cells"`
	PlayerLogs map[int]PlayerLog `json:"playerLogs"`
}

// Clone returns a deep copy of the state. The copy shares no grid rows, cell pointers,
// player or log maps with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	out := &State{
		TurnNumber: s.TurnNumber,
		MazeWidth:  s.MazeWidth,
		MazeHeight: s.MazeHeight,
		Players:    make(map[int]Player, len(s.Players)),
		Cells:      make([][]Cell, len(s.Cells)),
		PlayerLogs: make(map[int]PlayerLog, len(s.PlayerLogs)),
	}

	for id, p := range s.Players {
		out.Players[id] = p
	}
	for x, column := range s.Cells {
		col := make([]Cell, len(column))
		for y, cell := range column {
			col[y] = cell.clone()
		}
		out.Cells[x] = col
	}
	for id, log := range s.PlayerLogs {
		out.PlayerLogs[id] = log
	}

	return out
}

// CellAt returns the cell at (x, y)
func (s *State) CellAt(x, y int) (Cell, bool) {
	if !s.inBounds(x, y) {
		return Cell{}, false
	}
	return s.Cells[x][y], true
}

// PlayerIDs returns the ids of all players in ascending order
func (s *State) PlayerIDs() []int {
	ids := make([]int, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *State) inBounds(x, y int) bool {
	return x >= 0 && x < len(s.Cells) && y >= 0 && y < len(s.Cells[x])
}
