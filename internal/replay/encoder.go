package replay

import (
	"encoding/json"
	"fmt"
)

// EncodeOptions controls how a timeline is written back to the wire
type EncodeOptions struct {
	// FullEveryTurn writes every turn as a compact full array
	FullEveryTurn bool
	// KeyframeInterval writes a compact full array every N turns and deltas in between.
	// Zero means only the first turn is a full array.
	KeyframeInterval int
}

type compactPayload struct {
	N string `json:"n"`
	H []any  `json:"h"`
}

type legacyPayload struct {
	MazeName    string   `json:"mazeName"`
	GameHistory []*State `json:"gameHistory"`
}

type deltaOut struct {
	T int               `json:"t"`
	P map[int][]any     `json:"p,omitempty"`
	C [][]any           `json:"c,omitempty"`
	L map[int][2]string `json:"l,omitempty"`
}

// Encode writes a timeline as a compact {n, h} payload
func Encode(mazeName string, tl *Timeline, opts EncodeOptions) ([]byte, error) {
	history := make([]any, 0, tl.Len())
	for i := 0; i < tl.Len(); i++ {
		state := tl.StateAt(i)
		if i == 0 || opts.FullEveryTurn || (opts.KeyframeInterval > 0 && i%opts.KeyframeInterval == 0) {
			history = append(history, compactState(state))
			continue
		}
		history = append(history, diffStates(tl.StateAt(i-1), state))
	}

	data, err := json.Marshal(compactPayload{N: mazeName, H: history})
	if err != nil {
		return nil, fmt.Errorf("failed to encode replay: %w", err)
	}
	return data, nil
}

// EncodeLegacy writes a timeline in the fully expanded {mazeName, gameHistory} form
func EncodeLegacy(mazeName string, tl *Timeline) ([]byte, error) {
	payload := legacyPayload{
		MazeName:    mazeName,
		GameHistory: make([]*State, 0, tl.Len()),
	}
	for i := 0; i < tl.Len(); i++ {
		payload.GameHistory = append(payload.GameHistory, tl.StateAt(i))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode legacy replay: %w", err)
	}
	return data, nil
}

func compactState(s *State) []any {
	players := make(map[int][]any, len(s.Players))
	for id, p := range s.Players {
		players[id] = playerRecord(p)
	}

	cells := make([][]string, len(s.Cells))
	for x, column := range s.Cells {
		cells[x] = make([]string, len(column))
		for y, cell := range column {
			cells[x][y] = EncodeCell(cell)
		}
	}

	logs := make(map[int][2]string, len(s.PlayerLogs))
	for id, log := range s.PlayerLogs {
		logs[id] = [2]string{log.Stdout, log.Stderr}
	}

	return []any{s.TurnNumber, s.MazeWidth, s.MazeHeight, players, cells, logs}
}

// diffStates builds the delta that turns prev into cur
func diffStates(prev, cur *State) deltaOut {
	d := deltaOut{T: cur.TurnNumber}

	for id, p := range cur.Players {
		if old, ok := prev.Players[id]; ok && old == p {
			continue
		}
		if d.P == nil {
			d.P = make(map[int][]any)
		}
		d.P[id] = playerRecord(p)
	}

	for x, column := range cur.Cells {
		for y, cell := range column {
			token := EncodeCell(cell)
			if token == EncodeCell(prev.Cells[x][y]) {
				continue
			}
			d.C = append(d.C, []any{x, y, token})
		}
	}

	// Logs are per turn, but a delta carries the previous turn's logs forward,
	// so a player that went quiet has to be cleared explicitly.
	setLog := func(id int, log PlayerLog) {
		if d.L == nil {
			d.L = make(map[int][2]string)
		}
		d.L[id] = [2]string{log.Stdout, log.Stderr}
	}
	for id, log := range cur.PlayerLogs {
		if old, ok := prev.PlayerLogs[id]; !ok || old != log {
			setLog(id, log)
		}
	}
	for id, old := range prev.PlayerLogs {
		if _, ok := cur.PlayerLogs[id]; !ok && old != (PlayerLog{}) {
			setLog(id, PlayerLog{})
		}
	}

	return d
}

func playerRecord(p Player) []any {
	return []any{p.ID, p.X, p.Y, p.Score, p.FormsCollected, p.FormsRequired, flag(p.Active), flag(p.Finished)}
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
