package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simplehardware/maze-replay-go/internal/replay"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

func newCompactCommand(a *app) *cobra.Command {
	var (
		full     bool
		keyframe int
		legacy   bool
		verify   bool
	)

	cmd := &cobra.Command{
		Use:   "compact <in> <out>",
		Short: "Re-encode a replay as a compact delta payload",
		Long: `Read a replay in any supported format and write it back as a compact payload:
the first turn as a full array and every later turn as a delta.

  mazereplay compact old.json new.json.zst           Deltas, zstd compressed
  mazereplay compact old.json new.json --keyframe 50  Full array every 50 turns
  mazereplay compact new.json old.json --legacy       Fully expanded legacy objects`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyframe < 0 {
				return fmt.Errorf("--keyframe must not be negative, got %d", keyframe)
			}
			in, out := args[0], args[1]

			rep, err := a.loadFile(cmd.Context(), in)
			if err != nil {
				return err
			}

			opts := replay.EncodeOptions{FullEveryTurn: full, KeyframeInterval: keyframe}
			var data []byte
			if legacy {
				data, err = replay.EncodeLegacy(rep.MazeName, rep.Timeline)
			} else {
				data, err = replay.Encode(rep.MazeName, rep.Timeline, opts)
			}
			if err != nil {
				return fmt.Errorf("failed to encode replay: %w", err)
			}

			if verify && !legacy {
				if err := replay.VerifyRoundTrip(rep.MazeName, rep.Timeline, opts); err != nil {
					return err
				}
			}

			if err := source.WriteFile(out, data); err != nil {
				return err
			}

			a.logger.Debug("replay re-encoded",
				zap.String("in", in),
				zap.String("out", out),
				zap.Int("bytes", len(data)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d turns of %q to %s (%d bytes before compression)\n",
				rep.Timeline.Len(), rep.MazeName, out, len(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "write every turn as a full array")
	cmd.Flags().IntVar(&keyframe, "keyframe", 0, "write a full array every N turns (0 = first turn only)")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "write fully expanded legacy turn objects")
	cmd.Flags().BoolVar(&verify, "verify", true, "decode the result again and compare it turn by turn")
	return cmd
}
