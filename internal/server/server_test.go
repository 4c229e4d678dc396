package server

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simplehardware/maze-replay-go/internal/config"
	"github.com/simplehardware/maze-replay-go/internal/playback"
	"github.com/simplehardware/maze-replay-go/internal/replay"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

const threeTurnPayload = `{"n":"T3","h":[
	[1,2,1,{"1":[1,0,0,0,0,4,1,0]},[["F"],["N,F:1"]],{"1":["start",""]}],
	{"t":2,"p":{"1":[1,1,0,1,1,4,1,0]}},
	{"t":3,"p":{"1":[1,1,0,4,4,4,0,1]},"l":{"1":["done",""]}}
]}`

// fakeSource serves replays from memory
type fakeSource struct {
	files map[string]*replay.Replay
	games map[int64]*replay.Replay
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	rep, err := replay.DecodePayload([]byte(threeTurnPayload))
	require.NoError(t, err)
	empty, err := replay.DecodePayload([]byte(`{"n":"nothing","h":[]}`))
	require.NoError(t, err)

	return &fakeSource{
		files: map[string]*replay.Replay{"t3.json": rep, "empty.json": empty},
		games: map[int64]*replay.Replay{42: rep},
	}
}

func (s *fakeSource) LoadNamed(_ context.Context, name string) (*replay.Replay, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: %q", source.ErrInvalidPath, name)
	}
	if name == "broken.json" {
		return nil, replay.NewMalformedError(0, "delta turn has no previous turn", nil)
	}
	rep, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("failed to open replay file: %w", os.ErrNotExist)
	}
	return rep, nil
}

func (s *fakeSource) LoadGame(_ context.Context, id int64) (*replay.Replay, error) {
	rep, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", source.ErrGameNotFound, id)
	}
	return rep, nil
}

func testPlaybackConfig() config.PlaybackConfig {
	return config.PlaybackConfig{Interval: 100 * time.Millisecond, Speeds: []float64{0.5, 1, 2}}
}

// triggerClock fires timers only when the test asks it to
type triggerClock struct {
	mu      sync.Mutex
	pending []*triggerTimer
}

type triggerTimer struct {
	clock   *triggerClock
	f       func()
	stopped bool
}

func (c *triggerClock) AfterFunc(_ time.Duration, f func()) playback.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &triggerTimer{clock: c, f: f}
	c.pending = append(c.pending, t)
	return t
}

func (t *triggerTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Fire runs the timers pending right now and reports how many ran
func (c *triggerClock) Fire() int {
	c.mu.Lock()
	due := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, t := range due {
		c.mu.Lock()
		stopped := t.stopped
		t.stopped = true
		c.mu.Unlock()
		if !stopped {
			t.f()
			n++
		}
	}
	return n
}
