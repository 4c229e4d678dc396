package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TurnFormat identifies which wire shape a raw turn was sent in
type TurnFormat int

const (
	FormatLegacy TurnFormat = iota + 1
	FormatCompact
	FormatDelta
)

func (f TurnFormat) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatCompact:
		return "compact"
	case FormatDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// compactArity is the field count of [turnNumber, width, height, players, cells, logs]
const compactArity = 6

// playerArity is the field count of [id, x, y, score, formsCollected, formsRequired, active, finished]
const playerArity = 8

// RawTurn is one entry of a recorded history after its shape has been probed.
// New wire formats are added by implementing RawTurn and extending classifyTurn.
type RawTurn interface {
	Format() TurnFormat
	// materialize builds the full state for this turn. prev is the previous
	// materialized turn, or nil for the first entry.
	materialize(prev *State) (*State, error)
}

// classifyTurn is the single place where raw entries are told apart:
// objects with turnNumber are legacy, objects with t are deltas, arrays are compact.
func classifyTurn(raw json.RawMessage) (RawTurn, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty entry")
	}

	switch trimmed[0] {
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, fmt.Errorf("failed to decode object: %w", err)
		}
		if _, ok := probe["turnNumber"]; ok {
			return legacyTurn{raw: trimmed}, nil
		}
		if _, ok := probe["t"]; ok {
			return decodeDeltaTurn(trimmed)
		}
		return nil, fmt.Errorf("object has neither turnNumber nor t")
	case '[':
		return decodeCompactTurn(trimmed)
	default:
		return nil, fmt.Errorf("entry is neither an object nor an array")
	}
}

// legacyTurn is the fully expanded object written by old exporters
type legacyTurn struct {
	raw json.RawMessage
}

func (legacyTurn) Format() TurnFormat { return FormatLegacy }

func (t legacyTurn) materialize(_ *State) (*State, error) {
	var state State
	if err := json.Unmarshal(t.raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode legacy turn: %w", err)
	}
	if state.Players == nil {
		state.Players = make(map[int]Player)
	}
	if state.PlayerLogs == nil {
		state.PlayerLogs = make(map[int]PlayerLog)
	}
	// grid position is authoritative over embedded coordinates
	for x := range state.Cells {
		for y := range state.Cells[x] {
			state.Cells[x][y].X = x
			state.Cells[x][y].Y = y
		}
	}
	return &state, nil
}

// compactTurn is the positional-array full form
type compactTurn struct {
	turnNumber int
	width      int
	height     int
	players    map[int]Player
	cells      [][]string
	logs       map[int]PlayerLog
}

func (compactTurn) Format() TurnFormat { return FormatCompact }

func decodeCompactTurn(raw json.RawMessage) (RawTurn, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode compact turn: %w", err)
	}
	if len(fields) != compactArity {
		return nil, fmt.Errorf("compact turn has %d fields, want %d", len(fields), compactArity)
	}

	var t compactTurn
	if err := json.Unmarshal(fields[0], &t.turnNumber); err != nil {
		return nil, fmt.Errorf("invalid turn number: %w", err)
	}
	if err := json.Unmarshal(fields[1], &t.width); err != nil {
		return nil, fmt.Errorf("invalid maze width: %w", err)
	}
	if err := json.Unmarshal(fields[2], &t.height); err != nil {
		return nil, fmt.Errorf("invalid maze height: %w", err)
	}

	var rawPlayers map[int][]json.RawMessage
	if err := json.Unmarshal(fields[3], &rawPlayers); err != nil {
		return nil, fmt.Errorf("invalid players: %w", err)
	}
	players, err := decodePlayerRecords(rawPlayers)
	if err != nil {
		return nil, err
	}
	t.players = players

	if err := json.Unmarshal(fields[4], &t.cells); err != nil {
		return nil, fmt.Errorf("invalid cells: %w", err)
	}

	var rawLogs map[int][]json.RawMessage
	if err := json.Unmarshal(fields[5], &rawLogs); err != nil {
		return nil, fmt.Errorf("invalid logs: %w", err)
	}
	logs, err := decodeLogRecords(rawLogs)
	if err != nil {
		return nil, err
	}
	t.logs = logs

	return t, nil
}

func (t compactTurn) materialize(_ *State) (*State, error) {
	if len(t.cells) != t.width {
		return nil, fmt.Errorf("grid has %d columns, header says %d", len(t.cells), t.width)
	}

	cells := make([][]Cell, len(t.cells))
	for x, column := range t.cells {
		if len(column) != t.height {
			return nil, fmt.Errorf("grid column %d has %d cells, header says %d", x, len(column), t.height)
		}
		cells[x] = make([]Cell, len(column))
		for y, token := range column {
			cells[x][y] = DecodeCell(token, x, y)
		}
	}

	return &State{
		TurnNumber: t.turnNumber,
		MazeWidth:  t.width,
		MazeHeight: t.height,
		Players:    t.players,
		Cells:      cells,
		PlayerLogs: t.logs,
	}, nil
}

// deltaTurn is a sparse update against the previous turn
type deltaTurn struct {
	delta Delta
}

func (deltaTurn) Format() TurnFormat { return FormatDelta }

type deltaWire struct {
	T int                       `json:"t"`
	P map[int][]json.RawMessage `json:"p"`
	C [][]json.RawMessage       `json:"c"`
	L map[int][]json.RawMessage `json:"l"`
}

func decodeDeltaTurn(raw json.RawMessage) (RawTurn, error) {
	var wire deltaWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode delta: %w", err)
	}

	d := Delta{TurnNumber: wire.T}

	if wire.P != nil {
		players, err := decodePlayerRecords(wire.P)
		if err != nil {
			return nil, err
		}
		d.Players = players
	}

	if wire.C != nil {
		d.Cells = make([]CellPatch, 0, len(wire.C))
		for i, entry := range wire.C {
			if len(entry) != 3 {
				return nil, fmt.Errorf("cell patch %d has %d fields, want 3", i, len(entry))
			}
			var patch CellPatch
			if err := json.Unmarshal(entry[0], &patch.X); err != nil {
				return nil, fmt.Errorf("cell patch %d: invalid x: %w", i, err)
			}
			if err := json.Unmarshal(entry[1], &patch.Y); err != nil {
				return nil, fmt.Errorf("cell patch %d: invalid y: %w", i, err)
			}
			if err := json.Unmarshal(entry[2], &patch.Token); err != nil {
				return nil, fmt.Errorf("cell patch %d: invalid token: %w", i, err)
			}
			d.Cells = append(d.Cells, patch)
		}
	}

	if wire.L != nil {
		logs, err := decodeLogRecords(wire.L)
		if err != nil {
			return nil, err
		}
		d.Logs = logs
	}

	return deltaTurn{delta: d}, nil
}

func (t deltaTurn) materialize(prev *State) (*State, error) {
	return ApplyDelta(prev, t.delta)
}

func decodePlayerRecords(raw map[int][]json.RawMessage) (map[int]Player, error) {
	players := make(map[int]Player, len(raw))
	for key, fields := range raw {
		p, err := decodePlayerRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("player %d: %w", key, err)
		}
		players[key] = p
	}
	return players, nil
}

// decodePlayerRecord decodes [id, x, y, score, formsCollected, formsRequired, active, finished]
func decodePlayerRecord(fields []json.RawMessage) (Player, error) {
	var p Player
	if len(fields) != playerArity {
		return p, fmt.Errorf("record has %d fields, want %d", len(fields), playerArity)
	}

	ints := []*int{&p.ID, &p.X, &p.Y}
	for i, dst := range ints {
		if err := json.Unmarshal(fields[i], dst); err != nil {
			return p, fmt.Errorf("field %d: %w", i, err)
		}
	}
	if err := json.Unmarshal(fields[3], &p.Score); err != nil {
		return p, fmt.Errorf("score: %w", err)
	}
	if err := json.Unmarshal(fields[4], &p.FormsCollected); err != nil {
		return p, fmt.Errorf("forms collected: %w", err)
	}
	if err := json.Unmarshal(fields[5], &p.FormsRequired); err != nil {
		return p, fmt.Errorf("forms required: %w", err)
	}

	var err error
	if p.Active, err = decodeFlag(fields[6]); err != nil {
		return p, fmt.Errorf("active flag: %w", err)
	}
	if p.Finished, err = decodeFlag(fields[7]); err != nil {
		return p, fmt.Errorf("finished flag: %w", err)
	}
	return p, nil
}

// decodeFlag accepts the 0/1 encoding and plain JSON booleans
func decodeFlag(raw json.RawMessage) (bool, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n == 1, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("want 0/1, got %s", raw)
	}
	return b, nil
}

func decodeLogRecords(raw map[int][]json.RawMessage) (map[int]PlayerLog, error) {
	logs := make(map[int]PlayerLog, len(raw))
	for id, fields := range raw {
		var log PlayerLog
		outputs := []*string{&log.Stdout, &log.Stderr}
		for i, dst := range outputs {
			if i >= len(fields) {
				break
			}
			var text *string
			if err := json.Unmarshal(fields[i], &text); err != nil {
				return nil, fmt.Errorf("log %d field %d: %w", id, i, err)
			}
			if text != nil {
				*dst = *text
			}
		}
		logs[id] = log
	}
	return logs, nil
}
