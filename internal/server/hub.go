package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/simplehardware/maze-replay-go/internal/config"
	"github.com/simplehardware/maze-replay-go/internal/metrics"
	"github.com/simplehardware/maze-replay-go/internal/playback"
	"github.com/simplehardware/maze-replay-go/internal/replay"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ReplaySource loads replays for viewers
type ReplaySource interface {
	LoadNamed(ctx context.Context, name string) (*replay.Replay, error)
	LoadGame(ctx context.Context, id int64) (*replay.Replay, error)
}

// HubOption configures a ViewerHub
type HubOption func(*ViewerHub)

// WithPlaybackClock sets the clock handed to every session controller
func WithPlaybackClock(clock playback.Clock) HubOption {
	return func(h *ViewerHub) {
		h.clock = clock
	}
}

// WithCheckOrigin overrides the websocket origin check
func WithCheckOrigin(check func(r *http.Request) bool) HubOption {
	return func(h *ViewerHub) {
		h.upgrader.CheckOrigin = check
	}
}

// ViewerHub serves replay playback over websocket. Every connection gets its own
// playback controller.
type ViewerHub struct {
	source   ReplaySource
	playback config.PlaybackConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
	clock    playback.Clock

	mu       sync.Mutex
	sessions map[string]*viewerSession
}

// NewViewerHub creates a new viewer hub
func NewViewerHub(src ReplaySource, cfg config.PlaybackConfig, logger *zap.Logger, opts ...HubOption) *ViewerHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ViewerHub{
		source:   src,
		playback: cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		sessions: make(map[string]*viewerSession),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Sessions returns the number of connected viewers
func (h *ViewerHub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll disconnects every viewer
func (h *ViewerHub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*viewerSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// ServeHTTP loads the requested replay and upgrades the connection.
// Load errors are reported as plain HTTP errors before the upgrade.
func (h *ViewerHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, err := h.loadReplay(r)
	if err != nil {
		code := httpStatus(err)
		h.logger.Warn("viewer replay unavailable",
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", code),
			zap.Error(err),
		)
		http.Error(w, err.Error(), code)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &viewerSession{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		replay: rep,
		logger: h.logger,
	}
	s.ctx, s.cancel = context.WithCancel(r.Context())
	s.logger = h.logger.With(zap.String("session_id", s.id))

	opts := []playback.Option{
		playback.WithLogger(s.logger),
		playback.WithInterval(h.playback.Interval),
	}
	if h.clock != nil {
		opts = append(opts, playback.WithClock(h.clock))
	}
	// loadReplay already rejected empty timelines
	ctrl, err := playback.NewController(rep.Timeline, s, opts...)
	if err != nil {
		s.close(websocket.CloseInternalServerErr, err.Error())
		return
	}
	s.ctrl = ctrl

	h.register(s)
	defer h.unregister(s)

	s.run(h.playback)
}

func (h *ViewerHub) loadReplay(r *http.Request) (*replay.Replay, error) {
	q := r.URL.Query()

	var (
		rep *replay.Replay
		err error
	)
	switch {
	case q.Get("game") != "":
		id, parseErr := strconv.ParseInt(q.Get("game"), 10, 64)
		if parseErr != nil || id <= 0 {
			return nil, errBadRequest("invalid game id")
		}
		rep, err = h.source.LoadGame(r.Context(), id)
	case q.Get("file") != "":
		rep, err = h.source.LoadNamed(r.Context(), q.Get("file"))
	default:
		return nil, errBadRequest("missing game or file parameter")
	}
	if err != nil {
		return nil, err
	}
	if rep.Timeline.Len() == 0 {
		return nil, playback.ErrEmptyTimeline
	}
	return rep, nil
}

func (h *ViewerHub) register(s *viewerSession) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	metrics.ViewerConnected()
	s.logger.Info("viewer connected",
		zap.String("remote", s.conn.RemoteAddr().String()),
		zap.String("maze", s.replay.MazeName),
		zap.Int("turns", s.replay.Timeline.Len()),
	)
}

func (h *ViewerHub) unregister(s *viewerSession) {
	metrics.ViewerDisconnected()
	s.logger.Info("viewer disconnected")

	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
}

type badRequestError string

func errBadRequest(msg string) error { return badRequestError(msg) }

func (e badRequestError) Error() string { return string(e) }

func httpStatus(err error) int {
	var bad badRequestError
	switch {
	case errors.As(err, &bad), errors.Is(err, source.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrGameNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, replay.ErrMalformedReplay), errors.Is(err, playback.ErrEmptyTimeline):
		return http.StatusUnprocessableEntity
	case errors.Is(err, source.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, source.ErrGamesUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// viewerSession is one websocket viewer. It is the FrameSink of its controller.
type viewerSession struct {
	id     string
	hub    *ViewerHub
	conn   *websocket.Conn
	send   chan []byte
	replay *replay.Replay
	ctrl   *playback.Controller
	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *viewerSession) OnFrame(f playback.Frame) {
	if s.enqueue(MsgFrame, framePayload(f)) {
		metrics.FrameSent()
	}
}

func (s *viewerSession) OnStatus(change playback.StatusChange) {
	s.enqueue(MsgStatus, StatusPayload{
		Playing:    change.Status == playback.Playing,
		Position:   change.Position,
		IntervalMs: change.Interval.Milliseconds(),
	})
}

// enqueue never blocks: it runs under the controller lock. Frames may be dropped;
// any other message that does not fit closes the session.
func (s *viewerSession) enqueue(t string, payload any) bool {
	msg, err := Encode(t, payload)
	if err != nil {
		s.logger.Error("failed to encode message", zap.String("type", t), zap.Error(err))
		return false
	}
	select {
	case s.send <- msg:
		return true
	case <-s.ctx.Done():
		return false
	default:
		if t == MsgFrame {
			s.logger.Warn("viewer send buffer full, dropping frame")
			return false
		}
		// a lost status or error leaves the viewer out of sync, so disconnect instead
		s.logger.Warn("viewer cannot keep up, disconnecting", zap.String("type", t))
		go s.close(websocket.CloseTryAgainLater, "viewer too slow")
		return false
	}
}

func (s *viewerSession) run(cfg config.PlaybackConfig) {
	defer s.ctrl.Pause()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	width, height := s.replay.Timeline.Dimensions()
	s.enqueue(MsgMeta, MetaPayload{
		Session:    s.id,
		MazeName:   s.replay.MazeName,
		Turns:      s.replay.Timeline.Len(),
		Width:      width,
		Height:     height,
		Players:    s.replay.Timeline.Last().PlayerIDs(),
		IntervalMs: s.ctrl.Interval().Milliseconds(),
		Speeds:     cfg.Speeds,
	})
	_ = s.ctrl.Seek(0)

	s.readLoop(cfg)
	s.close(websocket.CloseNormalClosure, "bye")

	select {
	case <-writerDone:
	case <-time.After(500 * time.Millisecond):
	}
}

func (s *viewerSession) readLoop(cfg config.PlaybackConfig) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("viewer read error", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.handle(msg, cfg); err != nil {
			s.enqueue(MsgError, ErrorPayload{Message: err.Error()})
		}
	}
}

func (s *viewerSession) handle(msg []byte, cfg config.PlaybackConfig) error {
	env, err := DecodeEnvelope(msg)
	if err != nil {
		return err
	}

	switch env.T {
	case MsgSeek:
		p, err := DecodePayload[SeekPayload](env)
		if err != nil {
			return err
		}
		return s.ctrl.Seek(p.Index)
	case MsgStep:
		p, err := DecodePayload[StepPayload](env)
		if err != nil {
			return err
		}
		return s.ctrl.Step(p.Delta)
	case MsgPlay:
		var interval time.Duration
		if len(env.P) > 0 {
			p, err := DecodePayload[PlayPayload](env)
			if err != nil {
				return err
			}
			interval = time.Duration(p.IntervalMs) * time.Millisecond
		}
		return s.ctrl.Play(interval)
	case MsgPause:
		s.ctrl.Pause()
		return nil
	case MsgSpeed:
		p, err := DecodePayload[SpeedPayload](env)
		if err != nil {
			return err
		}
		if !cfg.SpeedAllowed(p.Speed) {
			return errBadRequest("speed " + strconv.FormatFloat(p.Speed, 'g', -1, 64) + " is not allowed")
		}
		return s.ctrl.SetSpeed(p.Speed)
	default:
		return errBadRequest("unknown message type " + strconv.Quote(env.T))
	}
}

func (s *viewerSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("viewer write failed", zap.Error(err))
				s.cancel()
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *viewerSession) close(code int, reason string) {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
