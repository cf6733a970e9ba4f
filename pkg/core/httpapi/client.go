// Package httpapi is the REST client for the Kurisu backend: auth,
// agents, conversation history, speech synthesis, and transcription.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("httpapi: backend returned %d: %s", e.Status, e.Body)
}

// Client talks to the backend REST API. All methods are safe for
// concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a REST client for the given base URL. httpClient
// may be nil to use a default with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger.With("component", "httpapi"),
	}
}

// SetToken stores the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for a bearer token and stores it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("username", username)
	mw.WriteField("password", password)
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build login form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out LoginResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.AccessToken)
	return &out, nil
}

// ListAgents returns all configured agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents", nil, nil, &out)
	return out, err
}

// GetAgent returns one agent by ID.
func (c *Client) GetAgent(ctx context.Context, id int) (*Agent, error) {
	var out Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents/"+strconv.Itoa(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations returns conversation summaries, optionally filtered
// by agent.
func (c *Client) ListConversations(ctx context.Context, agentID *int) ([]Conversation, error) {
	query := url.Values{}
	if agentID != nil {
		query.Set("agent_id", strconv.Itoa(*agentID))
	}
	var out []Conversation
	err := c.doJSON(ctx, http.MethodGet, "/conversations", query, nil, &out)
	return out, err
}

// GetConversation returns a page of conversation history.
func (c *Client) GetConversation(ctx context.Context, id, limit, offset int) (*ConversationDetail, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	var out ConversationDetail
	err := c.doJSON(ctx, http.MethodGet, "/conversations/"+strconv.Itoa(id), query, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+strconv.Itoa(id), nil, nil, nil)
}

// DeleteMessage removes a single message.
func (c *Client) DeleteMessage(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/messages/"+strconv.Itoa(id), nil, nil, nil)
}

// ListModels returns the model names the backend can run.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out ModelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// ListVoices returns the available synthesis voices.
func (c *Client) ListVoices(ctx context.Context, provider string) ([]string, error) {
	query := url.Values{}
	if provider != "" {
		query.Set("provider", provider)
	}
	var out VoicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/tts/voices", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// ListTTSBackends returns the available synthesis backends.
func (c *Client) ListTTSBackends(ctx context.Context) ([]string, error) {
	var out BackendsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/tts/backends", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Backends, nil
}

// Synthesize renders text to audio and returns the raw clip bytes.
func (c *Client) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.send(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}

// Transcribe sends raw audio for speech recognition.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (*Transcription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr", bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out Transcription
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON issues a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
