package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/Mr-Dark-debug/radview/internal/engine"
)

func TestFrameLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgEvent, engine.RawEvent{Type: "loadend", LoadID: 7}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	raw := buf.Bytes()
	if raw[0] != byte(MsgEvent) {
		t.Errorf("type byte = 0x%02x", raw[0])
	}
	if n := binary.BigEndian.Uint32(raw[1:5]); int(n) != len(raw)-5 {
		t.Errorf("length prefix %d, payload %d", n, len(raw)-5)
	}

	typ, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if typ != MsgEvent || !bytes.Contains(payload, []byte(`"load_id":7`)) {
		t.Errorf("got %s %s", typ, payload)
	}
}

func TestReadMessageEOF(t *testing.T) {
	_, _, err := ReadMessage(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}

	_, _, err = ReadMessage(bytes.NewReader([]byte{byte(MsgRequest), 0, 0}))
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("truncated header should not look like a clean EOF: %v", err)
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	frame := []byte{byte(MsgRequest), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[1:], MaxPayload+1)
	_, _, err := ReadMessage(bytes.NewReader(frame))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestWireErrorKeepsSentinel(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{engine.ErrNotInitialized, engine.ErrNotInitialized},
		{errors.Join(errors.New("ctx"), engine.ErrUnknownData), engine.ErrUnknownData},
		{ErrUnknownMethod, ErrUnknownMethod},
	}
	for _, tt := range tests {
		werr := toWireError(tt.err)
		if !errors.Is(werr, tt.want) {
			t.Errorf("%v: code %q lost the sentinel", tt.err, werr.Code)
		}
		if werr.Error() != tt.err.Error() {
			t.Errorf("message = %q", werr.Error())
		}
	}

	if werr := toWireError(errors.New("boom")); werr.Code != codeUnknown || errors.Is(werr, engine.ErrUnknownData) {
		t.Errorf("plain error mapped to %q", werr.Code)
	}
	if toWireError(nil) != nil {
		t.Error("nil error should stay nil")
	}
}
