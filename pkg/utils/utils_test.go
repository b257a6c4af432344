package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONValidates(t *testing.T) {
	var payload struct {
		Content string `json:"content" validate:"required"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":""}`))
	err := DecodeJSON(req, &payload)
	if err == nil || err.Error() != "content is required" {
		t.Fatalf("unexpected error %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := DecodeJSON(req, &payload); err == nil || err.Error() != "invalid request body" {
		t.Fatalf("unexpected error %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi"}`))
	if err := DecodeJSON(req, &payload); err != nil {
		t.Fatalf("DecodeJSON err: %v", err)
	}
	if payload.Content != "hi" {
		t.Fatalf("unexpected content %q", payload.Content)
	}
}

func TestSSEWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter err: %v", err)
	}

	if err := sse.Send(map[string]string{"token": "hi"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if err := sse.Send(map[string]bool{"done": true}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	want := "data: {\"token\":\"hi\"}\n\ndata: {\"done\":true}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !rec.Flushed {
		t.Fatal("expected flush")
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "session not found")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"session not found"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
