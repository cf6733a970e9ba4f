// Command kurisu is a terminal client for the Kurisu backend. It keeps
// a WebSocket session open, streams replies as they arrive, speaks
// assistant sentences through the backend's TTS endpoint, and remembers
// which conversation each agent was in.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/kurisu-ai/kurisu-go/internal/config"
	"github.com/kurisu-ai/kurisu-go/internal/store"
	"github.com/kurisu-ai/kurisu-go/pkg/core/asr"
	"github.com/kurisu-ai/kurisu-go/pkg/core/chat"
	"github.com/kurisu-ai/kurisu-go/pkg/core/httpapi"
	"github.com/kurisu-ai/kurisu-go/pkg/core/session"
	"github.com/kurisu-ai/kurisu-go/pkg/core/tts"
	"github.com/kurisu-ai/kurisu-go/pkg/core/voice"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	api := httpapi.NewClient(cfg.BackendURL, nil, logger)
	token, err := resolveToken(ctx, cfg, st, api)
	if err != nil {
		return err
	}
	api.SetToken(token)

	manager := session.NewManager(session.Config{
		BackendURL:     cfg.BackendURL,
		Token:          token,
		ConnectTimeout: cfg.ConnectTimeout,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
	}, logger)
	defer manager.Close()

	assembler := chat.NewAssembler(manager, logger)
	queue := tts.NewQueue(tts.DefaultConfig(), &apiSynthesizer{api: api, provider: cfg.TTSBackend}, discardPlayer{}, logger)
	defer queue.Close()

	app := &app{
		cfg:       cfg,
		log:       logger,
		store:     st,
		api:       api,
		manager:   manager,
		assembler: assembler,
		queue:     queue,
	}
	app.machine = voice.NewMachine(voice.Config{
		SpeechThreshold: cfg.SpeechThreshold,
		SilenceTimeout:  cfg.SilenceTimeout,
		IdleTimeout:     cfg.IdleTimeout,
	}, asr.NewBufferRecorder(0), asr.NewRemoteTranscriber(api), app, nil, logger)

	if err := app.selectAgent(ctx, 0); err != nil {
		logger.Warn("agent discovery failed", "error", err)
	}

	sessionEvents, cancelSession := manager.Subscribe()
	defer cancelSession()
	go assembler.Run(ctx, sessionEvents)

	directEvents, cancelDirect := manager.Subscribe()
	defer cancelDirect()
	go app.watchSession(ctx, directEvents)

	chatEvents, cancelChat := assembler.Subscribe()
	defer cancelChat()
	go app.watchChat(ctx, chatEvents)

	go app.watchPlayback()

	return app.repl(ctx)
}

// app ties the pipeline pieces to the terminal.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	store     *store.Store
	api       *httpapi.Client
	manager   *session.Manager
	assembler *chat.Assembler
	queue     *tts.Queue
	machine   *voice.Machine

	mu           sync.Mutex
	agent        *httpapi.Agent
	lastApproval string
}

func (a *app) currentAgent() *httpapi.Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent
}

func (a *app) setApproval(id string) {
	a.mu.Lock()
	a.lastApproval = id
	a.mu.Unlock()
}

func (a *app) takeApproval() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.lastApproval
	a.lastApproval = ""
	return id
}

// SendTranscript lets the voice machine inject a spoken message into
// the conversation.
func (a *app) SendTranscript(text string) {
	fmt.Printf("you (voice): %s\n", text)
	if err := a.sendMessage(context.Background(), text); err != nil {
		a.log.Error("voice send failed", "error", err)
	}
}

func (a *app) selectAgent(ctx context.Context, id int) error {
	agents, err := a.api.ListAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return nil
	}
	if id == 0 {
		if stored, ok, _ := a.store.SelectedAgent(ctx); ok {
			id = stored
		}
	}
	chosen := agents[0]
	for _, agent := range agents {
		if agent.ID == id {
			chosen = agent
			break
		}
	}
	a.mu.Lock()
	a.agent = &chosen
	a.mu.Unlock()
	a.machine.SetTriggerWord(chosen.TriggerWord)
	a.store.SetSelectedAgent(ctx, chosen.ID)
	fmt.Printf("talking to %s\n", chosen.Name)
	return nil
}

func (a *app) sendMessage(ctx context.Context, text string) error {
	req := &session.ChatRequest{Text: text, ModelName: a.cfg.Model}
	if agent := a.currentAgent(); agent != nil {
		agentID := agent.ID
		req.AgentID = &agentID
		if conv, ok, _ := a.store.ConversationForAgent(ctx, agentID); ok {
			req.ConversationID = &conv
		}
	}
	a.assembler.StartStreaming()
	a.assembler.AddUserTurn(text, nil)
	a.machine.SetStreaming(true)
	if err := a.manager.SendChat(ctx, req); err != nil {
		a.machine.SetStreaming(false)
		return err
	}
	return nil
}

func (a *app) watchChat(ctx context.Context, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch e := event.(type) {
			case *chat.SentenceEvent:
				fmt.Printf("%s: %s\n", a.speakerName(), e.Text)
				a.queue.Enqueue(e.Text, e.VoiceReference)
			case *chat.ConversationEvent:
				if agent := a.currentAgent(); agent != nil {
					a.store.SetConversationForAgent(ctx, agent.ID, e.ID)
				}
			case *chat.DoneEvent:
				a.refreshHistory(ctx)
				a.assembler.ClearTurns()
				a.machine.OnStreamingComplete()
			case *chat.ErrorEvent:
				fmt.Println("error:", e.Message)
				a.machine.OnStreamingComplete()
			}
		}
	}
}

func (a *app) watchSession(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch e := event.(type) {
			case *session.ReconnectedEvent:
				fmt.Println("(reconnected)")
				a.refreshHistory(ctx)
			case *session.ErrorEvent:
				if e.Code == session.ErrorCodeConnectionLost {
					fmt.Println("(connection lost, retrying...)")
				}
			case *session.ToolApprovalRequestEvent:
				a.setApproval(e.ApprovalID)
				fmt.Printf("tool approval requested: %s (%s) — /approve or /deny\n", e.ToolName, e.RiskLevel)
			}
		}
	}
}

func (a *app) watchPlayback() {
	for state := range a.queue.Updates() {
		a.machine.SetTTSActive(state.Active)
	}
}

func (a *app) refreshHistory(ctx context.Context) {
	agent := a.currentAgent()
	if agent == nil {
		return
	}
	conv, ok, _ := a.store.ConversationForAgent(ctx, agent.ID)
	if !ok {
		return
	}
	detail, err := a.api.GetConversation(ctx, conv, 20, 0)
	if err != nil {
		a.log.Warn("history refresh failed", "error", err)
		return
	}
	a.log.Info("history refreshed", "conversation", conv, "messages", detail.TotalMessages)
}

func (a *app) repl(ctx context.Context) error {
	fmt.Println("kurisu client ready. /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return nil
		case line == "/cancel":
			a.assembler.CancelStream()
			a.queue.Clear()
			a.machine.SetStreaming(false)
		case line == "/new":
			if agent := a.currentAgent(); agent != nil {
				a.store.ClearConversationForAgent(ctx, agent.ID)
				fmt.Println("starting a fresh conversation")
			}
		case line == "/approve", line == "/deny":
			id := a.takeApproval()
			if id == "" {
				fmt.Println("nothing to approve")
				continue
			}
			if err := a.manager.RespondToolApproval(id, line == "/approve"); err != nil {
				fmt.Println("error:", err)
			}
		case strings.HasPrefix(line, "/agent "):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/agent ")))
			if err != nil {
				fmt.Println("usage: /agent <id>")
				continue
			}
			if err := a.selectAgent(ctx, id); err != nil {
				fmt.Println("error:", err)
			}
		default:
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := a.sendMessage(sendCtx, line)
			cancel()
			if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
	return scanner.Err()
}

func (a *app) speakerName() string {
	if name := a.assembler.State().TypingName; name != "" {
		return name
	}
	if agent := a.currentAgent(); agent != nil {
		return agent.Name
	}
	return "assistant"
}

// resolveToken prefers the environment token, then the stored one, then
// an interactive login with KURISU_USERNAME / KURISU_PASSWORD.
func resolveToken(ctx context.Context, cfg config.Config, st *store.Store, api *httpapi.Client) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if token, ok, err := st.AuthToken(ctx); err == nil && ok {
		return token, nil
	}
	username := os.Getenv("KURISU_USERNAME")
	password := os.Getenv("KURISU_PASSWORD")
	if username == "" {
		return "", fmt.Errorf("no auth token: set KURISU_TOKEN or KURISU_USERNAME/KURISU_PASSWORD")
	}
	resp, err := api.Login(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if err := st.SetAuthToken(ctx, resp.AccessToken); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// apiSynthesizer renders sentences through the backend TTS endpoint.
type apiSynthesizer struct {
	api      *httpapi.Client
	provider string
}

func (s *apiSynthesizer) Synthesize(ctx context.Context, text, voiceRef string) ([]byte, error) {
	return s.api.Synthesize(ctx, httpapi.TTSRequest{Text: text, Voice: voiceRef, Provider: s.provider})
}

// discardPlayer drops audio. The terminal client has no audio output
// device; synthesis still runs so latency and errors surface in logs.
type discardPlayer struct{}

func (discardPlayer) Play(ctx context.Context, audio []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
