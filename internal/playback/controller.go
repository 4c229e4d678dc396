package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplehardware/maze-replay-go/internal/replay"
)

// DefaultInterval is the tick interval used when none is configured
const DefaultInterval = time.Second

var (
	// ErrEmptyTimeline is returned when a controller is created over a timeline with no turns
	ErrEmptyTimeline = errors.New("timeline has no turns to play")
	// ErrOutOfRangeSeek is returned when seeking outside [0, Len-1]
	ErrOutOfRangeSeek = errors.New("seek index out of range")
	// ErrInvalidStep is returned for step deltas other than +1 and -1
	ErrInvalidStep = errors.New("step must be +1 or -1")
	// ErrInvalidInterval is returned for non-positive tick intervals or speeds
	ErrInvalidInterval = errors.New("playback interval must be positive")
)

// Status is the playback state of a controller
type Status int

const (
	Stopped Status = iota
	Playing
)

func (s Status) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// Frame is what the rendering side receives whenever the position is (re)applied
type Frame struct {
	Index int
	Len   int
	State *replay.State
}

// FrameSink receives frames from a controller. It is called with the controller
// lock held and must not call back into the controller.
type FrameSink interface {
	OnFrame(Frame)
}

// SinkFunc adapts a function to a FrameSink
type SinkFunc func(Frame)

func (f SinkFunc) OnFrame(frame Frame) { f(frame) }

// StatusChange describes the controller right after its status changed
type StatusChange struct {
	Status   Status
	Position int
	Interval time.Duration
}

// StatusListener can be implemented by a FrameSink to learn about status changes,
// including the automatic stop at the end of the timeline. Like OnFrame it is called
// with the controller lock held.
type StatusListener interface {
	OnStatus(StatusChange)
}

// Timer is a single pending tick
type Timer interface {
	Stop() bool
}

// Clock arms timers. Production code uses the wall clock; tests drive time by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock used to schedule ticks
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the controller logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterval sets the base tick interval, used by Toggle and SetSpeed
func WithInterval(interval time.Duration) Option {
	return func(c *Controller) {
		if interval > 0 {
			c.baseInterval = interval
			c.interval = interval
		}
	}
}

// Controller drives a viewer through a timeline. One controller belongs to one viewer.
type Controller struct {
	timeline *replay.Timeline
	sink     FrameSink
	clock    Clock
	logger   *zap.Logger

	mu           sync.Mutex
	status       Status
	position     int
	baseInterval time.Duration
	interval     time.Duration
	timer        Timer
	// generation identifies the armed timer; ticks from older generations are dropped
	generation uint64
}

// NewController creates a stopped controller positioned at the first turn
func NewController(tl *replay.Timeline, sink FrameSink, opts ...Option) (*Controller, error) {
	if tl.Len() == 0 {
		return nil, ErrEmptyTimeline
	}
	if sink == nil {
		sink = SinkFunc(func(Frame) {})
	}

	c := &Controller{
		timeline:     tl,
		sink:         sink,
		clock:        wallClock{},
		logger:       zap.NewNop(),
		status:       Stopped,
		baseInterval: DefaultInterval,
		interval:     DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Seek moves to index and always pushes a frame, even if the position is unchanged
func (c *Controller) Seek(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= c.timeline.Len() {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRangeSeek, index, c.timeline.Len()-1)
	}
	c.position = index
	c.emit()
	return nil
}

// Step moves one turn forward (+1) or back (-1). It does nothing at either end.
func (c *Controller) Step(delta int) error {
	if delta != 1 && delta != -1 {
		return fmt.Errorf("%w: got %d", ErrInvalidStep, delta)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.step(delta)
	return nil
}

// Play starts auto-advancing one turn per interval. Calling Play while already playing
// replaces the running timer, which is how speed changes take effect.
// A zero interval keeps the current one.
func (c *Controller) Play(interval time.Duration) error {
	if interval < 0 {
		return ErrInvalidInterval
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if interval > 0 {
		c.interval = interval
	}
	wasPlaying := c.status == Playing
	c.arm()
	if !wasPlaying {
		c.setStatus(Playing)
	}

	c.logger.Debug("playback started",
		zap.Int("position", c.position),
		zap.Duration("interval", c.interval),
		zap.Bool("restarted", wasPlaying),
	)
	return nil
}

// Pause stops auto-advance. It is a no-op when already stopped.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != Playing {
		return
	}
	c.cancel()
	c.setStatus(Stopped)
	c.logger.Debug("playback paused", zap.Int("position", c.position))
}

// Toggle pauses a playing controller or resumes a stopped one at the current interval
func (c *Controller) Toggle() error {
	if c.IsPlaying() {
		c.Pause()
		return nil
	}
	return c.Play(0)
}

// SetSpeed scales the base interval by 1/speed. A playing controller picks up the new
// interval immediately.
func (c *Controller) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("%w: speed %g", ErrInvalidInterval, speed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	interval := time.Duration(float64(c.baseInterval) / speed)
	if interval <= 0 {
		return fmt.Errorf("%w: speed %g", ErrInvalidInterval, speed)
	}
	c.interval = interval
	if c.status == Playing {
		c.arm()
	}
	return nil
}

// Position returns the current index
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Len returns the timeline length
func (c *Controller) Len() int {
	return c.timeline.Len()
}

// IsPlaying reports whether auto-advance is active
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == Playing
}

// Status returns the current playback status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Interval returns the tick interval currently in effect
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Current returns the frame at the current position without notifying the sink
func (c *Controller) Current() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame()
}

func (c *Controller) step(delta int) bool {
	next := c.position + delta
	if next < 0 || next >= c.timeline.Len() {
		return false
	}
	c.position = next
	c.emit()
	return true
}

// arm cancels any outstanding timer and schedules the next tick. Must hold c.mu.
func (c *Controller) arm() {
	c.cancel()
	gen := c.generation
	c.timer = c.clock.AfterFunc(c.interval, func() { c.tick(gen) })
}

// cancel stops the outstanding timer and invalidates any tick already in flight.
// Must hold c.mu.
func (c *Controller) cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.status != Playing {
		return
	}
	c.timer = nil

	if !c.step(1) {
		c.generation++
		c.setStatus(Stopped)
		c.logger.Debug("playback reached the end", zap.Int("position", c.position))
		return
	}
	c.arm()
}

func (c *Controller) setStatus(status Status) {
	c.status = status
	if listener, ok := c.sink.(StatusListener); ok {
		listener.OnStatus(StatusChange{Status: status, Position: c.position, Interval: c.interval})
	}
}

func (c *Controller) frame() Frame {
	return Frame{
		Index: c.position,
		Len:   c.timeline.Len(),
		State: c.timeline.StateAt(c.position),
	}
}

func (c *Controller) emit() {
	c.sink.OnFrame(c.frame())
}
