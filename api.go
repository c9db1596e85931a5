package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/simliai/openai-realtime-api-beta/events"
	"github.com/simliai/openai-realtime-api-beta/internal/websocket"
)

// Usage violations surfaced synchronously to the caller.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// CloseEvent is dispatched as "close" when the socket ends. Error is true
// when the connection ended abnormally.
type CloseEvent struct {
	Error bool
}

// socket is the duplex text channel the API drives. Satisfied by the gobwas
// client; tests substitute their own.
type socket interface {
	WriteText(data []byte)
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context, config websocket.ClientConfig) (socket, error)

func gobwasDial(ctx context.Context, config websocket.ClientConfig) (socket, error) {
	return websocket.Connect(ctx, config)
}

// API owns one websocket and namespaces its traffic on the embedded bus:
// inbound messages re-dispatch as "server.<type>" and "server.*", outbound
// ones as "client.<type>" and "client.*".
type API struct {
	*EventEmitter

	logger *slog.Logger
	url    string
	apiKey string

	mu   sync.Mutex
	sock socket
	dial dialFunc
}

func newAPI(url, apiKey string, logger *slog.Logger) *API {
	return &API{
		EventEmitter: NewEventEmitter(),
		logger:       logger,
		url:          url,
		apiKey:       apiKey,
		dial:         gobwasDial,
	}
}

// IsConnected reports whether a socket is live.
func (a *API) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sock != nil
}

// Connect dials the realtime endpoint. Connecting twice is a usage error.
func (a *API) Connect(ctx context.Context, model string) error {
	a.mu.Lock()
	if a.sock != nil {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.mu.Unlock()

	url := a.url
	if model != "" {
		url = fmt.Sprintf("%s?model=%s", a.url, model)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	sock, err := a.dial(ctx, websocket.ClientConfig{
		URL:     url,
		Headers: headers,
		Logger:  a.logger,
		OnText:  a.receive,
		OnClose: func(err error) {
			a.mu.Lock()
			a.sock = nil
			a.mu.Unlock()
			_ = a.Dispatch("close", &CloseEvent{Error: err != nil})
		},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	a.mu.Lock()
	a.sock = sock
	a.mu.Unlock()

	return nil
}

// Disconnect tears the socket down. Disconnecting an idle API is a no-op.
func (a *API) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	sock := a.sock
	a.sock = nil
	a.mu.Unlock()

	if sock == nil {
		return nil
	}
	return sock.Close(ctx)
}

// receive turns one inbound frame into bus events.
func (a *API) receive(data []byte) error {
	ev, err := events.ParseServer(data)
	if err != nil {
		return err
	}
	a.logger.Debug("received", slog.String("type", ev.Type), slog.String("event_id", ev.EventID))
	if err := a.Dispatch("server."+ev.Type, ev); err != nil {
		return err
	}
	return a.Dispatch("server.*", ev)
}

// Send stamps data with a fresh event id and type, republishes it on the bus
// as a client event, and writes it to the socket. The write itself is
// fire-and-forget.
func (a *API) Send(eventType string, data map[string]any) error {
	a.mu.Lock()
	sock := a.sock
	a.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("send %q: %w", eventType, ErrNotConnected)
	}

	event := map[string]any{
		"event_id": events.GenerateID("evt_"),
		"type":     eventType,
	}
	for k, v := range data {
		event[k] = v
	}

	if err := a.Dispatch("client."+eventType, event); err != nil {
		return err
	}
	if err := a.Dispatch("client.*", event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("send %q: %w", eventType, err)
	}
	a.logger.Debug("sent", slog.String("type", eventType))
	sock.WriteText(payload)

	return nil
}

// waitTimeout bounds Disconnect's close handshake.
const waitTimeout = 10 * time.Second
