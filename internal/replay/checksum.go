package replay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// StateChecksum computes a deterministic BLAKE2b-256 checksum of a state.
// The checksum is built from a canonical text form that is independent of map
// iteration order. A log entry with no output is treated the same as a missing one.
func StateChecksum(s *State) string {
	sum := blake2b.Sum256(canonicalState(s))
	return hex.EncodeToString(sum[:])
}

// Digest computes a checksum over every state of the timeline in order
func (t *Timeline) Digest() string {
	var buf bytes.Buffer
	for i := 0; i < t.Len(); i++ {
		buf.WriteString(StateChecksum(t.StateAt(i)))
		buf.WriteByte('\n')
	}
	sum := blake2b.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// VerifyRoundTrip encodes the timeline with opts, decodes the result and checks that
// the decoded timeline has the same digest
func VerifyRoundTrip(mazeName string, tl *Timeline, opts EncodeOptions) error {
	data, err := Encode(mazeName, tl, opts)
	if err != nil {
		return err
	}

	decoded, err := DecodePayload(data)
	if err != nil {
		return fmt.Errorf("failed to decode encoded replay: %w", err)
	}

	want, got := tl.Digest(), decoded.Timeline.Digest()
	if want != got {
		return fmt.Errorf("digest mismatch: original=%s, decoded=%s", want, got)
	}
	return nil
}

func canonicalState(s *State) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "TURN:%d|%d|%d\n", s.TurnNumber, s.MazeWidth, s.MazeHeight)

	for _, id := range s.PlayerIDs() {
		p := s.Players[id]
		fmt.Fprintf(&buf, "PLAYER:%d|%d|%d|%s|%d|%d|%t|%t\n",
			p.ID,
			p.X,
			p.Y,
			strconv.FormatFloat(p.Score, 'g', -1, 64),
			p.FormsCollected,
			p.FormsRequired,
			p.Active,
			p.Finished,
		)
	}

	for x, column := range s.Cells {
		for y, cell := range column {
			fmt.Fprintf(&buf, "CELL:%d|%d|%s\n", x, y, EncodeCell(cell))
		}
	}

	logIDs := make([]int, 0, len(s.PlayerLogs))
	for id, log := range s.PlayerLogs {
		if log != (PlayerLog{}) {
			logIDs = append(logIDs, id)
		}
	}
	sort.Ints(logIDs)
	for _, id := range logIDs {
		log := s.PlayerLogs[id]
		fmt.Fprintf(&buf, "LOG:%d|%q|%q\n", id, log.Stdout, log.Stderr)
	}

	return buf.Bytes()
}
