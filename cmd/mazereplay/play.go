package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simplehardware/maze-replay-go/internal/playback"
)

// lineSink prints one line per frame and reports when playback stops on its own
type lineSink struct {
	w       io.Writer
	stopped chan struct{}
	closed  bool
}

func (s *lineSink) OnFrame(f playback.Frame) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d/%d] turn %d", f.Index+1, f.Len, f.State.TurnNumber)
	for _, id := range f.State.PlayerIDs() {
		p := f.State.Players[id]
		fmt.Fprintf(&b, "  p%d@(%d,%d) score=%g forms=%d/%d", p.ID, p.X, p.Y, p.Score, p.FormsCollected, p.FormsRequired)
		if p.Finished {
			b.WriteString(" finished")
		} else if !p.Active {
			b.WriteString(" inactive")
		}
	}
	fmt.Fprintln(s.w, b.String())
}

func (s *lineSink) OnStatus(change playback.StatusChange) {
	if change.Status == playback.Stopped && !s.closed {
		s.closed = true
		close(s.stopped)
	}
}

func newPlayCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		from     int
	)

	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a replay in the terminal, one line per turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Playback.Interval
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}

			rep, err := a.loadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			sink := &lineSink{w: cmd.OutOrStdout(), stopped: make(chan struct{})}
			ctrl, err := playback.NewController(rep.Timeline, sink,
				playback.WithInterval(interval),
				playback.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d turns\n", rep.MazeName, rep.Timeline.Len())
			if err := ctrl.Seek(from); err != nil {
				return err
			}
			if err := ctrl.Play(interval); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case <-sink.stopped:
			case <-sigChan:
				ctrl.Pause()
			case <-cmd.Context().Done():
				ctrl.Pause()
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between turns (defaults to playback.interval)")
	cmd.Flags().IntVar(&from, "from", 0, "index of the first turn to show")
	return cmd
}
