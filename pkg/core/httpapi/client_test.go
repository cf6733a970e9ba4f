package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, nil, slog.New(slog.DiscardHandler))
	c.SetToken("tok-123")
	return c
}

func TestListAgentsSendsAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents" {
			t.Errorf("path = %q, want /agents", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `[{"id":1,"name":"Kurisu","system_prompt":"p","voice_reference":"kurisu-v1","trigger_word":"kurisu"}]`)
	})

	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "Kurisu" || agents[0].TriggerWord != "kurisu" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestGetConversationPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "20" || q.Get("offset") != "40" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `{"id":42,"title":"t","created_at":"2026-08-30T00:00:00Z",
			"messages":[{"role":"assistant","content":"hi","name":"Kurisu"}],
			"total_messages":61,"offset":40,"limit":20,"has_more":true}`)
	})

	detail, err := c.GetConversation(context.Background(), 42, 20, 40)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if detail.ID != 42 || !detail.HasMore || len(detail.Messages) != 1 {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Messages[0].Name != "Kurisu" {
		t.Errorf("message = %+v", detail.Messages[0])
	}
}

func TestSynthesizeReturnsRawAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"text":"Hello.","voice":"kurisu-v1"}` {
			t.Errorf("body = %s", body)
		}
		w.Write([]byte{0x52, 0x49, 0x46, 0x46})
	})

	audio, err := c.Synthesize(context.Background(), TTSRequest{Text: "Hello.", Voice: "kurisu-v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio) != 4 || audio[0] != 0x52 {
		t.Errorf("audio = %v", audio)
	}
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asr" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		io.WriteString(w, `{"text":"hello world","language":"en"}`)
	})

	result, err := c.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "hello world" || result.Language != "en" {
		t.Errorf("result = %+v", result)
	}
}

func TestLoginStoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if r.FormValue("username") != "okabe" || r.FormValue("password") != "elpsycongroo" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		io.WriteString(w, `{"access_token":"fresh-token","token_type":"bearer"}`)
	})

	resp, err := c.Login(context.Background(), "okabe", "elpsycongroo")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken != "fresh-token" {
		t.Errorf("AccessToken = %q", resp.AccessToken)
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "fresh-token" {
		t.Errorf("stored token = %q", token)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent not found", http.StatusNotFound)
	})

	_, err := c.GetAgent(context.Background(), 99)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Body != "agent not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestDeleteMessage(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodDelete || r.URL.Path != "/messages/7" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"deleted":7}`)
	})

	if err := c.DeleteMessage(context.Background(), 7); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if !called {
		t.Error("request never reached the server")
	}
}
