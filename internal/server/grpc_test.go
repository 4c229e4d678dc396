package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startReplayService(t *testing.T) *ReplayServiceClient {
	t.Helper()
	logger := zaptest.NewLogger(t)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewReplayService(newFakeSource(t), testPlaybackConfig(), logger), logger, grpc.WaitForHandlers(true))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewReplayServiceClient(conn)
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestReplayServiceSummary(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Summary(ctx, request(t, map[string]any{"file": "t3.json"}))
	require.NoError(t, err)

	fields := resp.GetFields()
	assert.Equal(t, "T3", fields["name"].GetStringValue())
	assert.Equal(t, float64(3), fields["turns"].GetNumberValue())
	assert.Equal(t, float64(2), fields["width"].GetNumberValue())
	assert.Equal(t, float64(1), fields["height"].GetNumberValue())
	assert.Equal(t, float64(1), fields["first_turn"].GetNumberValue())
	assert.Equal(t, float64(3), fields["last_turn"].GetNumberValue())
	assert.Len(t, fields["digest"].GetStringValue(), 64)
	require.Len(t, fields["players"].GetListValue().GetValues(), 1)

	byGame, err := client.Summary(ctx, request(t, map[string]any{"game": 42}))
	require.NoError(t, err)
	assert.Equal(t, fields["digest"].GetStringValue(), byGame.GetFields()["digest"].GetStringValue())
}

func TestReplayServiceErrors(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name   string
		fields map[string]any
		code   codes.Code
	}{
		{"no reference", map[string]any{}, codes.InvalidArgument},
		{"traversal", map[string]any{"file": "../x.json"}, codes.InvalidArgument},
		{"missing file", map[string]any{"file": "missing.json"}, codes.NotFound},
		{"missing game", map[string]any{"game": 9}, codes.NotFound},
		{"malformed", map[string]any{"file": "broken.json"}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Summary(ctx, request(t, tt.fields))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestReplayServiceFrame(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Frame(ctx, request(t, map[string]any{"file": "t3.json", "index": 1}))
	require.NoError(t, err)

	fields := resp.GetFields()
	assert.Equal(t, float64(1), fields["index"].GetNumberValue())
	assert.Equal(t, float64(3), fields["len"].GetNumberValue())

	state := fields["state"].GetStructValue().GetFields()
	assert.Equal(t, float64(2), state["turnNumber"].GetNumberValue())
	player := state["players"].GetStructValue().GetFields()["1"].GetStructValue().GetFields()
	assert.Equal(t, float64(1), player["x"].GetNumberValue())

	_, err = client.Frame(ctx, request(t, map[string]any{"file": "t3.json", "index": 3}))
	assert.Equal(t, codes.OutOfRange, status.Code(err))
}

func TestReplayServicePlay(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Play(ctx, request(t, map[string]any{"file": "t3.json", "interval_ms": 1}))
	require.NoError(t, err)

	var indexes []float64
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		indexes = append(indexes, msg.GetFields()["index"].GetNumberValue())
	}
	assert.Equal(t, []float64{0, 1, 2}, indexes)
}

func TestReplayServicePlayFromLastTurn(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Play(ctx, request(t, map[string]any{"file": "t3.json", "start": 2, "interval_ms": 1}))
	require.NoError(t, err)

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, float64(2), msg.GetFields()["index"].GetNumberValue())

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplayServicePlayOutOfRange(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Play(ctx, request(t, map[string]any{"file": "t3.json", "start": 5}))
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.Equal(t, codes.OutOfRange, status.Code(err))
}

func TestReplayServicePlayCancel(t *testing.T) {
	client := startReplayService(t)
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := client.Play(ctx, request(t, map[string]any{"file": "t3.json", "interval_ms": 60000}))
	require.NoError(t, err)

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, float64(0), msg.GetFields()["index"].GetNumberValue())

	cancel()
	_, err = stream.Recv()
	assert.Equal(t, codes.Canceled, status.Code(err))
}
