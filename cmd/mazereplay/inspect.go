package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simplehardware/maze-replay-go/internal/replay"
)

type replaySummary struct {
	Name      string        `json:"name" yaml:"name"`
	Turns     int           `json:"turns" yaml:"turns"`
	Width     int           `json:"width" yaml:"width"`
	Height    int           `json:"height" yaml:"height"`
	FirstTurn int           `json:"firstTurn" yaml:"first_turn"`
	LastTurn  int           `json:"lastTurn" yaml:"last_turn"`
	Players   []int         `json:"players" yaml:"players"`
	Finished  []int         `json:"finished,omitempty" yaml:"finished,omitempty"`
	Digest    string        `json:"digest" yaml:"digest"`
	TurnList  []turnSummary `json:"turnList,omitempty" yaml:"turn_list,omitempty"`
}

type turnSummary struct {
	Index    int    `json:"index" yaml:"index"`
	Turn     int    `json:"turn" yaml:"turn"`
	Players  int    `json:"players" yaml:"players"`
	Checksum string `json:"checksum" yaml:"checksum"`
}

func newInspectCommand(a *app) *cobra.Command {
	var (
		output string
		turns  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a replay and print a summary",
		Long: `Decode a replay payload (plain, .gz or .zst) and print what it contains.

  mazereplay inspect game.json             Text summary
  mazereplay inspect game.json -o yaml     YAML summary
  mazereplay inspect game.json --turns     Include a checksum per turn`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
			}

			rep, err := a.loadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), summarize(rep, turns), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&turns, "turns", false, "list every turn with its checksum")
	return cmd
}

func summarize(rep *replay.Replay, withTurns bool) replaySummary {
	tl := rep.Timeline
	width, height := tl.Dimensions()

	s := replaySummary{
		Name:    rep.MazeName,
		Turns:   tl.Len(),
		Width:   width,
		Height:  height,
		Players: []int{},
		Digest:  tl.Digest(),
	}
	if first := tl.StateAt(0); first != nil {
		s.FirstTurn = first.TurnNumber
		s.LastTurn = tl.LastTurnNumber()
	}
	if last := tl.Last(); last != nil {
		s.Players = last.PlayerIDs()
		for _, id := range s.Players {
			if last.Players[id].Finished {
				s.Finished = append(s.Finished, id)
			}
		}
	}

	if withTurns {
		for i := 0; i < tl.Len(); i++ {
			state := tl.StateAt(i)
			s.TurnList = append(s.TurnList, turnSummary{
				Index:    i,
				Turn:     state.TurnNumber,
				Players:  len(state.Players),
				Checksum: replay.StateChecksum(state),
			})
		}
	}
	return s
}

func writeSummary(w io.Writer, s replaySummary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "maze:     %s\n", s.Name)
	fmt.Fprintf(w, "size:     %dx%d\n", s.Width, s.Height)
	fmt.Fprintf(w, "turns:    %d", s.Turns)
	if s.Turns > 0 {
		fmt.Fprintf(w, " (%d..%d)", s.FirstTurn, s.LastTurn)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "players:  %s\n", joinInts(s.Players))
	if len(s.Finished) > 0 {
		fmt.Fprintf(w, "finished: %s\n", joinInts(s.Finished))
	}
	fmt.Fprintf(w, "digest:   %s\n", s.Digest)

	for _, t := range s.TurnList {
		fmt.Fprintf(w, "  #%-4d turn %-5d players %-2d %s\n", t.Index, t.Turn, t.Players, t.Checksum)
	}
	return nil
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
