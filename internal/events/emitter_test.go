package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmitWritesDataFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := NewEmitter(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Emit(ClientEvent{Phase: PhaseWaiting, Message: "waiting..."}); err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected frame: %q", body)
	}
	if !strings.Contains(body, `"phase":"waiting"`) {
		t.Fatalf("frame missing phase: %q", body)
	}
}

func TestHeadersSetAtStart(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := NewEmitter(rec); err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("content-type"); got != "text/event-stream" {
		t.Errorf("content-type = %q", got)
	}
	if got := rec.Header().Get("cache-control"); got != "no-cache" {
		t.Errorf("cache-control = %q", got)
	}
}

func TestFailEmitsTerminalFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	e, _ := NewEmitter(rec)
	if err := e.Fail(500, "boom"); err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"phase":"failed"`) || !strings.Contains(body, `"status_code":500`) {
		t.Fatalf("unexpected failure frame: %q", body)
	}
}

func TestKeepaliveStopsOnFinish(t *testing.T) {
	rec := httptest.NewRecorder()
	e, _ := NewEmitter(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Keepalive(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Keepalive did not stop after context cancellation")
	}
}

func TestEmitAfterFinishIsNoop(t *testing.T) {
	rec := httptest.NewRecorder()
	e, _ := NewEmitter(rec)
	e.Finish()
	if err := e.Emit(ClientEvent{Phase: PhaseReady}); err == nil {
		t.Fatal("expected error emitting after Finish")
	}
}

func TestClientEventExtraFields(t *testing.T) {
	e := ClientEvent{Phase: PhaseReady, URL: "http://example", Extra: map[string]any{"token": "abc"}}
	b, err := e.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"token":"abc"`) || !strings.Contains(s, `"url":"http://example"`) {
		t.Fatalf("missing fields: %s", s)
	}
}
