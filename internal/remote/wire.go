// Package remote runs an image engine in a separate process. A Server
// hosts any engine.Engine behind a socket; a Client implements
// engine.Engine by forwarding calls to it and relaying its events.
//
// Every message is framed as
//
//	[1 byte type][4 bytes length (big-endian)][JSON payload]
package remote

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Mr-Dark-debug/radview/internal/engine"
)

// MessageType discriminates the payload of a frame.
type MessageType byte

const (
	MsgRequest  MessageType = 0x01
	MsgResponse MessageType = 0x02
	MsgEvent    MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	case MsgEvent:
		return "event"
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

// MaxPayload is the largest payload either side accepts.
const MaxPayload = 10 * 1024 * 1024

// ErrMessageTooLarge is returned for frames above MaxPayload.
var ErrMessageTooLarge = errors.New("message too large")

// Engine methods carried in Request.Method.
const (
	MethodInit           = "init"
	MethodLoadFiles      = "load_files"
	MethodReset          = "reset"
	MethodSetTool        = "set_tool"
	MethodSetViewConfigs = "set_view_configs"
	MethodDataIDs        = "data_ids"
	MethodRender         = "render"
	MethodMetaData       = "meta_data"
	MethodCanScroll      = "can_scroll"
	MethodResetDisplay   = "reset_display"
)

// Request is one engine call.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// WriteMessage frames v as JSON and writes it to w in a single Write.
func WriteMessage(w io.Writer, t MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", t, err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	buf := make([]byte, 5+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %s: %w", t, err)
	}
	return nil
}

// ReadMessage reads one frame. It returns io.EOF untouched when the peer
// closed the connection between frames.
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return 0, nil, fmt.Errorf("reading message length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > MaxPayload {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading payload: %w", err)
	}
	return MessageType(header[0]), payload, nil
}

// Error carries an engine failure across the wire. Code keeps the engine
// sentinel so errors.Is still works on the client.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Is matches the engine sentinel named by Code.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && sentinel == target
}

const codeUnknown = "unknown"

var sentinels = map[string]error{
	"not_initialized":   engine.ErrNotInitialized,
	"unknown_container": engine.ErrUnknownContainer,
	"unknown_data":      engine.ErrUnknownData,
	"unsupported_tool":  engine.ErrUnsupportedTool,
	"bad_request":       ErrBadRequest,
	"unknown_method":    ErrUnknownMethod,
}

// ErrBadRequest and ErrUnknownMethod are reported by the server for
// requests it cannot decode or route.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnknownMethod = errors.New("unknown method")
)

func toWireError(err error) *Error {
	if err == nil {
		return nil
	}
	code := codeUnknown
	for c, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			code = c
			break
		}
	}
	return &Error{Code: code, Message: err.Error()}
}
