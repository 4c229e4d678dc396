package server

import (
	"encoding/json"
	"fmt"

	"github.com/simplehardware/maze-replay-go/internal/playback"
	"github.com/simplehardware/maze-replay-go/internal/replay"
)

// Outbound message types
const (
	MsgMeta   = "meta"
	MsgFrame  = "frame"
	MsgStatus = "status"
	MsgError  = "error"
)

// Inbound control message types
const (
	MsgSeek  = "seek"
	MsgStep  = "step"
	MsgPlay  = "play"
	MsgPause = "pause"
	MsgSpeed = "speed"
)

// Envelope wraps every websocket message as {t, p}
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

type MetaPayload struct {
	Session    string    `json:"session"`
	MazeName   string    `json:"mazeName"`
	Turns      int       `json:"turns"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Players    []int     `json:"players"`
	IntervalMs int64     `json:"intervalMs"`
	Speeds     []float64 `json:"speeds,omitempty"`
}

type FramePayload struct {
	Index int           `json:"index"`
	Len   int           `json:"len"`
	State *replay.State `json:"state"`
}

type StatusPayload struct {
	Playing    bool  `json:"playing"`
	Position   int   `json:"position"`
	IntervalMs int64 `json:"intervalMs"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type SeekPayload struct {
	Index int `json:"index"`
}

type StepPayload struct {
	Delta int `json:"delta"`
}

// PlayPayload is optional; a zero interval keeps the current one
type PlayPayload struct {
	IntervalMs int64 `json:"intervalMs"`
}

type SpeedPayload struct {
	Speed float64 `json:"speed"`
}

// Encode builds an envelope of type t around payload
func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("message type is empty")
	}
	env := Envelope{T: t}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.P = p
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses the outer {t, p} wrapper
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("empty message")
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.T == "" {
		return Envelope{}, fmt.Errorf("message has no type")
	}
	return env, nil
}

// DecodePayload unmarshals the payload of env into T
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("empty payload for message %q", env.T)
	}
	if err := json.Unmarshal(env.P, &out); err != nil {
		return out, fmt.Errorf("invalid payload for message %q: %w", env.T, err)
	}
	return out, nil
}

func framePayload(f playback.Frame) FramePayload {
	return FramePayload{Index: f.Index, Len: f.Len, State: f.State}
}
