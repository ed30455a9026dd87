package wire

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope every message is carried in: one Frame is one
// logical unit of transmission, realized as a single message on
// whatever framed transport carries it (see internal/transport, which
// sends one Frame per websocket binary message — the transport's own
// message framing is this protocol's frame boundary, so no additional
// length prefix is added on top of it).
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a typed message into a Frame with its Payload JSON-
// encoded, ready for EncodeFrame.
func Encode(msg any) (Frame, error) {
	t, err := typeOf(msg)
	if err != nil {
		return Frame{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

func typeOf(msg any) (FrameType, error) {
	switch msg.(type) {
	case Subscribe, *Subscribe:
		return TypeSubscribe, nil
	case Unsubscribe, *Unsubscribe:
		return TypeUnsubscribe, nil
	case SyncRequest, *SyncRequest:
		return TypeSyncRequest, nil
	case SyncResponse, *SyncResponse:
		return TypeSyncResponse, nil
	case Delta, *Delta:
		return TypeDelta, nil
	case Ack, *Ack:
		return TypeAck, nil
	case Ping, *Ping:
		return TypePing, nil
	case Pong, *Pong:
		return TypePong, nil
	case Error, *Error:
		return TypeError, nil
	default:
		return "", fmt.Errorf("unknown wire message type %T", msg)
	}
}

// EncodeFrame serializes a Frame to bytes for transmission.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame deserializes bytes received from the transport into a
// Frame. Callers then use Decode to recover the typed payload.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Decode unmarshals f's payload into the typed message its Type
// indicates, returning it as `any` holding the concrete type
// (*Subscribe, *Delta, and so on).
func Decode(f Frame) (any, error) {
	var out any
	switch f.Type {
	case TypeSubscribe:
		out = &Subscribe{}
	case TypeUnsubscribe:
		out = &Unsubscribe{}
	case TypeSyncRequest:
		out = &SyncRequest{}
	case TypeSyncResponse:
		out = &SyncResponse{}
	case TypeDelta:
		out = &Delta{}
	case TypeAck:
		out = &Ack{}
	case TypePing:
		out = &Ping{}
	case TypePong:
		out = &Pong{}
	case TypeError:
		out = &Error{}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}

	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, out); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
	}
	return out, nil
}
