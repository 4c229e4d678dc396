package replay

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMazeName is used when a payload carries no maze name
const DefaultMazeName = "Unknown Maze"

// Replay is a decoded recording: the maze name and its timeline
type Replay struct {
	MazeName string
	Timeline *Timeline
}

// payloadWire accepts both the compact ({n, h}) and legacy ({mazeName, gameHistory}) keys
type payloadWire struct {
	N           *string           `json:"n"`
	MazeName    *string           `json:"mazeName"`
	H           []json.RawMessage `json:"h"`
	GameHistory []json.RawMessage `json:"gameHistory"`
}

// Decoder materializes recorded histories into timelines
type Decoder struct {
	logger *zap.Logger
}

// NewDecoder creates a new decoder
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Decode materializes raw turns strictly in order. Each delta is applied to the turn
// right before it, so decoding cannot be split across goroutines.
// An empty input yields an empty timeline. Any rejected entry aborts the whole decode.
func (d *Decoder) Decode(raw []json.RawMessage) (*Timeline, error) {
	states := make([]*State, 0, len(raw))
	counts := make(map[TurnFormat]int, 3)

	var prev *State
	for i, entry := range raw {
		turn, err := classifyTurn(entry)
		if err != nil {
			return nil, NewMalformedError(i, "unrecognized turn shape", err)
		}
		if turn.Format() == FormatDelta && prev == nil {
			return nil, malformed(i, "delta turn has no previous turn")
		}

		state, err := turn.materialize(prev)
		if err != nil {
			var mre *MalformedReplayError
			if errors.As(err, &mre) {
				return nil, atIndex(err, i)
			}
			return nil, NewMalformedError(i, fmt.Sprintf("invalid %s turn", turn.Format()), err)
		}
		if err := validateState(state, prev); err != nil {
			return nil, atIndex(err, i)
		}

		states = append(states, state)
		counts[turn.Format()]++
		prev = state
	}

	d.logger.Debug("decoded replay timeline",
		zap.Int("turns", len(states)),
		zap.Int("legacy_turns", counts[FormatLegacy]),
		zap.Int("compact_turns", counts[FormatCompact]),
		zap.Int("delta_turns", counts[FormatDelta]),
	)

	return NewTimeline(states), nil
}

// DecodePayload decodes a whole replay document
func (d *Decoder) DecodePayload(data []byte) (*Replay, error) {
	var wire payloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, NewMalformedError(-1, "invalid payload", err)
	}

	history := wire.H
	if history == nil {
		history = wire.GameHistory
	}
	if history == nil {
		return nil, malformed(-1, "payload has no history (expected h or gameHistory)")
	}

	name := DefaultMazeName
	switch {
	case wire.N != nil && *wire.N != "":
		name = *wire.N
	case wire.MazeName != nil && *wire.MazeName != "":
		name = *wire.MazeName
	}

	timeline, err := d.Decode(history)
	if err != nil {
		return nil, err
	}

	return &Replay{MazeName: name, Timeline: timeline}, nil
}

// Decode decodes raw turns without logging
func Decode(raw []json.RawMessage) (*Timeline, error) {
	return NewDecoder(nil).Decode(raw)
}

// DecodePayload decodes a replay document without logging
func DecodePayload(data []byte) (*Replay, error) {
	return NewDecoder(nil).DecodePayload(data)
}

// validateState checks a freshly materialized turn on its own and against the turn
// before it. Errors are returned untied to an index.
func validateState(s, prev *State) error {
	if s.MazeWidth <= 0 || s.MazeHeight <= 0 {
		return malformed(-1, "invalid maze dimensions %dx%d", s.MazeWidth, s.MazeHeight)
	}
	if len(s.Cells) != s.MazeWidth {
		return malformed(-1, "grid has %d columns, maze is %d wide", len(s.Cells), s.MazeWidth)
	}
	for x, column := range s.Cells {
		if len(column) != s.MazeHeight {
			return malformed(-1, "grid column %d has %d cells, maze is %d high", x, len(column), s.MazeHeight)
		}
	}

	for id, p := range s.Players {
		if id < 1 {
			return malformed(-1, "invalid player id %d", id)
		}
		if p.ID != id {
			return malformed(-1, "player key %d carries record for player %d", id, p.ID)
		}
	}

	for id := range s.PlayerLogs {
		if _, known := s.Players[id]; !known {
			return malformed(-1, "log for unknown player %d", id)
		}
	}

	for x, column := range s.Cells {
		for y, cell := range column {
			owner, ok := cell.FinishOwner()
			if !ok {
				continue
			}
			if _, known := s.Players[owner]; !known {
				return malformed(-1, "finish cell (%d,%d) belongs to unknown player %d", x, y, owner)
			}
		}
	}

	if prev == nil {
		return nil
	}

	if s.MazeWidth != prev.MazeWidth || s.MazeHeight != prev.MazeHeight {
		return malformed(-1, "maze changed from %dx%d to %dx%d",
			prev.MazeWidth, prev.MazeHeight, s.MazeWidth, s.MazeHeight)
	}
	if s.TurnNumber <= prev.TurnNumber {
		return malformed(-1, "turn number %d does not follow %d", s.TurnNumber, prev.TurnNumber)
	}
	for id := range prev.Players {
		if _, ok := s.Players[id]; !ok {
			return malformed(-1, "player %d dropped from turn %d", id, s.TurnNumber)
		}
	}

	return nil
}
