package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishArtifact(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishArtifact(TypeArtifactSaved, ArtifactData{Document: "/books/a.epub", Action: "recap", Progress: 0.5})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "id: ") {
			t.Errorf("missing event id in %q", s)
		}
		if !strings.Contains(s, "event: artifact.saved") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"document":"/books/a.epub"`) || !strings.Contains(s, `"action":"recap"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIndexUpdatedThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocument(TypeDocumentMoved, "/books/a.epub", "/books/b.epub")
	b.PublishArtifact(TypeArtifactCleared, ArtifactData{Document: "/books/b.epub", Action: "recap"})

	time.Sleep(50 * time.Millisecond)
	indexCount := 0
	otherCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "event: index.updated") {
				indexCount++
			} else {
				otherCount++
			}
		default:
			break loop
		}
	}

	if otherCount != 2 {
		t.Errorf("events = %d, want 2", otherCount)
	}
	if indexCount != 1 {
		t.Errorf("index events = %d, want 1 (throttled)", indexCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishDocument(TypeDocumentMoved, "/a.epub", "/b.epub")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.moved") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// More than the client buffer must not block the loop.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: TypeMigrationChanged, Data: map[string]string{"state": "complete"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: TypeIndexUpdated, Data: map[string]string{}})
	b.PublishDocument(TypeDocumentRemoved, "/a.epub", "")
}

func TestPublishDocumentRemoved_OmitsNewPath(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	b.PublishDocument(TypeDocumentRemoved, "/books/gone.pdf", "")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.removed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"old_path":"/books/gone.pdf"`) {
			t.Errorf("missing old path in %q", s)
		}
		if strings.Contains(s, "new_path") {
			t.Errorf("removed event carries new_path: %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventIDsUnique(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Event{Type: TypeMigrationChanged, Data: map[string]string{"state": "in_progress"}})
	b.Publish(Event{Type: TypeMigrationChanged, Data: map[string]string{"state": "complete"}})

	ids := map[string]bool{}
	for range 2 {
		select {
		case msg := <-ch:
			line, _, _ := strings.Cut(string(msg), "\n")
			if !strings.HasPrefix(line, "id: ") {
				t.Fatalf("first line %q is not an id", line)
			}
			ids[line] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	if len(ids) != 2 {
		t.Errorf("ids not unique: %v", ids)
	}
}
