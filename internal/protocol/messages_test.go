package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageChatRequest(t *testing.T) {
	raw := []byte(`{"type":"chat_request","request_id":"r1","message":"¿Qué es GUAICARAMO?","messages":[{"role":"assistant","content":"¡Hola!"}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	req, ok := msg.(ChatRequestFrame)
	if !ok {
		t.Fatalf("message type = %T, want ChatRequestFrame", msg)
	}
	if req.RequestID != "r1" || len(req.Messages) != 1 || req.Messages[0].Role != "assistant" {
		t.Fatalf("unexpected chat request: %+v", req)
	}
}

func TestParseClientMessageRejectsBlankMessage(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"chat_request","request_id":"r1","message":"   "}`))
	if err == nil {
		t.Fatalf("expected error for blank message")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerMessageVariants(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"chat_reply","request_id":"r1","message":"hola","timestamp":"2025-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if reply, ok := msg.(ChatReplyFrame); !ok || reply.Message != "hola" {
		t.Fatalf("unexpected reply: %#v", msg)
	}

	msg, err = ParseServerMessage([]byte(`{"type":"error_event","request_id":"r1","code":"upstream_error","retryable":true}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if ev, ok := msg.(ErrorEvent); !ok || !ev.Retryable || ev.Code != CodeUpstreamError {
		t.Fatalf("unexpected error event: %#v", msg)
	}

	if _, err := ParseServerMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
