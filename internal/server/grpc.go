package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simplehardware/maze-replay-go/internal/config"
	"github.com/simplehardware/maze-replay-go/internal/playback"
	"github.com/simplehardware/maze-replay-go/internal/replay"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

// ReplayServiceName is the fully qualified gRPC service name
const ReplayServiceName = "mazereplay.v1.ReplayService"

const (
	summaryMethod = "/" + ReplayServiceName + "/Summary"
	frameMethod   = "/" + ReplayServiceName + "/Frame"
	playMethod    = "/" + ReplayServiceName + "/Play"
)

// ReplayServiceServer is the server API of the replay service.
// Requests identify a replay with either "file" (name inside the replay directory)
// or "game" (game result id).
type ReplayServiceServer interface {
	Summary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Frame(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Play(*structpb.Struct, ReplayServicePlayServer) error
}

// ReplayServicePlayServer is the server side of the Play stream
type ReplayServicePlayServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type replayServicePlayServer struct {
	grpc.ServerStream
}

func (s *replayServicePlayServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// ReplayServiceDesc describes the replay service for grpc.Server.RegisterService
var ReplayServiceDesc = grpc.ServiceDesc{
	ServiceName: ReplayServiceName,
	HandlerType: (*ReplayServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Summary", Handler: summaryHandler},
		{MethodName: "Frame", Handler: frameHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Play", Handler: playHandler, ServerStreams: true},
	},
	Metadata: "mazereplay/v1/replay.proto",
}

// RegisterReplayService registers srv on s
func RegisterReplayService(s grpc.ServiceRegistrar, srv ReplayServiceServer) {
	s.RegisterService(&ReplayServiceDesc, srv)
}

func summaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServiceServer).Summary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: summaryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplayServiceServer).Summary(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func frameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplayServiceServer).Frame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: frameMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplayServiceServer).Frame(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func playHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ReplayServiceServer).Play(in, &replayServicePlayServer{stream})
}

// ReplayServiceClient is the client API of the replay service
type ReplayServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReplayServiceClient creates a client on top of a connection
func NewReplayServiceClient(cc grpc.ClientConnInterface) *ReplayServiceClient {
	return &ReplayServiceClient{cc: cc}
}

func (c *ReplayServiceClient) Summary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, summaryMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReplayServiceClient) Frame(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, frameMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Play opens the frame stream. Call Recv until it returns io.EOF.
func (c *ReplayServiceClient) Play(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*PlayStream, error) {
	stream, err := c.cc.NewStream(ctx, &ReplayServiceDesc.Streams[0], playMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &PlayStream{stream: stream}, nil
}

// PlayStream receives frames from a Play call
type PlayStream struct {
	stream grpc.ClientStream
}

func (s *PlayStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// replayService implements ReplayServiceServer on top of a replay source
type replayService struct {
	source   ReplaySource
	playback config.PlaybackConfig
	logger   *zap.Logger
}

// NewReplayService creates the gRPC replay service
func NewReplayService(src ReplaySource, cfg config.PlaybackConfig, logger *zap.Logger) ReplayServiceServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &replayService{source: src, playback: cfg, logger: logger}
}

// Summary describes a replay without sending any turn
func (s *replayService) Summary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rep, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	tl := rep.Timeline
	width, height := tl.Dimensions()
	summary := map[string]any{
		"name":   rep.MazeName,
		"turns":  tl.Len(),
		"width":  width,
		"height": height,
		"digest": tl.Digest(),
	}
	if tl.Len() > 0 {
		summary["first_turn"] = tl.StateAt(0).TurnNumber
		summary["last_turn"] = tl.LastTurnNumber()
		summary["players"] = tl.Last().PlayerIDs()
	}
	return toStruct(summary)
}

// Frame returns the materialized state at "index"
func (s *replayService) Frame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rep, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	index := int(req.GetFields()["index"].GetNumberValue())
	state := rep.Timeline.StateAt(index)
	if state == nil {
		return nil, status.Errorf(codes.OutOfRange, "index %d not in [0, %d)", index, rep.Timeline.Len())
	}
	return frameStruct(playback.Frame{Index: index, Len: rep.Timeline.Len(), State: state})
}

// Play streams frames from "start" every "interval_ms" until the end or until the
// client goes away
func (s *replayService) Play(req *structpb.Struct, stream ReplayServicePlayServer) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	rep, err := s.load(ctx, req)
	if err != nil {
		return err
	}

	fields := req.GetFields()
	start := int(fields["start"].GetNumberValue())
	interval := time.Duration(fields["interval_ms"].GetNumberValue()) * time.Millisecond
	if interval <= 0 {
		interval = s.playback.Interval
	}

	frames := make(chan playback.Frame, 16)
	done := make(chan struct{})
	sink := &streamSink{ctx: ctx, frames: frames, done: done}

	ctrl, err := playback.NewController(rep.Timeline, sink,
		playback.WithInterval(interval),
		playback.WithLogger(s.logger),
	)
	if err != nil {
		return toStatus(err)
	}
	// unblock a pending OnFrame before taking the controller lock
	defer func() {
		cancel()
		ctrl.Pause()
	}()

	if err := ctrl.Seek(start); err != nil {
		return toStatus(err)
	}
	if err := ctrl.Play(interval); err != nil {
		return toStatus(err)
	}

	for {
		select {
		case f := <-frames:
			if err := s.sendFrame(stream, f); err != nil {
				return err
			}
		case <-done:
			for {
				select {
				case f := <-frames:
					if err := s.sendFrame(stream, f); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

func (s *replayService) sendFrame(stream ReplayServicePlayServer, f playback.Frame) error {
	msg, err := frameStruct(f)
	if err != nil {
		return err
	}
	return stream.Send(msg)
}

func (s *replayService) load(ctx context.Context, req *structpb.Struct) (*replay.Replay, error) {
	fields := req.GetFields()

	var (
		rep *replay.Replay
		err error
	)
	switch {
	case fields["game"].GetNumberValue() > 0:
		rep, err = s.source.LoadGame(ctx, int64(fields["game"].GetNumberValue()))
	case fields["file"].GetStringValue() != "":
		rep, err = s.source.LoadNamed(ctx, fields["file"].GetStringValue())
	default:
		return nil, status.Error(codes.InvalidArgument, "file or game is required")
	}
	if err != nil {
		s.logger.Warn("failed to load replay",
			zap.String("peer", extractHostFromContext(ctx)),
			zap.Error(err),
		)
		return nil, toStatus(err)
	}
	return rep, nil
}

// streamSink forwards controller frames to the stream loop
type streamSink struct {
	ctx    context.Context
	frames chan<- playback.Frame
	done   chan struct{}
	closed bool
}

func (s *streamSink) OnFrame(f playback.Frame) {
	select {
	case s.frames <- f:
	case <-s.ctx.Done():
	}
}

func (s *streamSink) OnStatus(change playback.StatusChange) {
	// status callbacks are serialized by the controller lock
	if change.Status == playback.Stopped && !s.closed {
		s.closed = true
		close(s.done)
	}
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, replay.ErrMalformedReplay):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, source.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, source.ErrGameNotFound), errors.Is(err, os.ErrNotExist):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, playback.ErrOutOfRangeSeek):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, playback.ErrEmptyTimeline):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, source.ErrPayloadTooLarge):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, source.ErrGamesUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func frameStruct(f playback.Frame) (*structpb.Struct, error) {
	var state map[string]any
	data, err := json.Marshal(f.State)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode state: %v", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode state: %v", err)
	}
	return toStruct(map[string]any{
		"index": f.Index,
		"len":   f.Len,
		"state": state,
	})
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	normalized, err := normalize(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(normalized.(map[string]any))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// normalize converts the int and []int values structpb does not accept directly
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []int:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out, nil
	case int, int32, int64, float64, string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
