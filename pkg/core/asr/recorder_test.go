package asr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kurisu-ai/kurisu-go/pkg/core/httpapi"
)

func TestBufferRecorderSegmentLifecycle(t *testing.T) {
	r := NewBufferRecorder(0)

	// Writes before Start are dropped.
	r.Write([]byte{1, 2})
	if r.Len() != 0 {
		t.Errorf("Len before Start = %d, want 0", r.Len())
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Write([]byte{1, 2})
	r.Write([]byte{3, 4})

	audio, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(audio, []byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v", audio)
	}

	// Stop without a matching Start fails.
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop = %v, want ErrNotRecording", err)
	}
}

func TestBufferRecorderDiscardsOldestBeyondCap(t *testing.T) {
	r := NewBufferRecorder(4)
	r.Start()
	r.Write([]byte{1, 2, 3, 4})
	r.Write([]byte{5, 6})

	audio, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(audio, []byte{3, 4, 5, 6}) {
		t.Errorf("audio = %v, want oldest bytes trimmed", audio)
	}
}

func TestBufferRecorderClear(t *testing.T) {
	r := NewBufferRecorder(0)
	r.Start()
	r.Write([]byte{9, 9})
	r.Clear()

	audio, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(audio) != 0 {
		t.Errorf("audio after Clear = %v, want empty", audio)
	}
}

func TestRemoteTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asr" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, []byte{7, 7, 7}) {
			t.Errorf("body = %v", body)
		}
		io.WriteString(w, `{"text":"el psy congroo"}`)
	}))
	defer srv.Close()

	api := httpapi.NewClient(srv.URL, nil, slog.New(slog.DiscardHandler))
	tr := NewRemoteTranscriber(api)

	text, err := tr.Transcribe(context.Background(), []byte{7, 7, 7})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "el psy congroo" {
		t.Errorf("text = %q", text)
	}
}
