// Package realtime is a client runtime for the realtime conversational
// protocol: it reconstructs queryable conversation state from the server's
// event stream and emits well-formed client events for session configuration,
// user input and tool results.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/simliai/openai-realtime-api-beta/events"
	"github.com/simliai/openai-realtime-api-beta/tool"
)

// RealtimeEvent is the observability tap re-published for every raw event
// that crosses the transport, in either direction.
type RealtimeEvent struct {
	Time   string
	Source string // "client" or "server"
	Event  any
}

// ConversationUpdatedEvent accompanies every reducer step that touched an
// item.
type ConversationUpdatedEvent struct {
	Item  *events.Item
	Delta *Delta
}

// ConversationItemEvent carries the item of conversation.item.appended and
// conversation.item.completed events.
type ConversationItemEvent struct {
	Item *events.Item
}

// Client is the façade over transport and conversation state. Subscribe to
// its bus for the semantic events:
//
//	realtime.event               every raw inbound/outbound event
//	conversation.item.appended   an item was created
//	conversation.updated         an item changed
//	conversation.item.completed  an item reached terminal status
//	conversation.interrupted     the user started speaking mid-response
type Client struct {
	*EventEmitter

	config       *clientConfig
	logger       *slog.Logger
	api          *API
	conversation *Conversation
	io           *AudioIO

	mu               sync.Mutex
	session          events.Session
	tools            map[string]tool.Registration
	inputAudioBuffer []int16
	sessionCreated   bool
	sessionCreatedCh chan struct{}
}

// New builds a client. Without options the api key is read from the
// environment and the session starts from protocol defaults.
func New(opts ...ClientOption) (*Client, error) {
	config := newClientConfig(opts...)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		EventEmitter: NewEventEmitter(),
		config:       config,
		logger:       config.logger,
		api:          newAPI(config.url, config.apiKey, config.logger),
		conversation: NewConversation(),
	}
	if config.audioIO {
		c.io = NewAudioIO(config.sampleRate, config.latency())
	}

	c.resetConfig()
	c.wireAPIHandlers()

	for _, reg := range config.tools {
		if err := c.AddTool(reg.Definition, reg.Handler); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// resetConfig restores session, tool and audio state to a fresh client's.
func (c *Client) resetConfig() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCreated = false
	c.sessionCreatedCh = make(chan struct{})
	c.session = defaultSession()
	for _, opt := range c.config.sessionOpts {
		patch := &sessionPatch{}
		opt(patch)
		patch.apply(&c.session)
	}
	c.tools = map[string]tool.Registration{}
	c.inputAudioBuffer = nil
}

// wireAPIHandlers fans transport events into the reducer and re-publishes the
// semantic events.
func (c *Client) wireAPIHandlers() {
	// Observability tap for everything that crosses the wire.
	c.api.On("client.*", func(event any) error {
		return c.Dispatch("realtime.event", &RealtimeEvent{
			Time:   time.Now().Format(time.RFC3339Nano),
			Source: "client",
			Event:  event,
		})
	})
	c.api.On("server.*", func(event any) error {
		return c.Dispatch("realtime.event", &RealtimeEvent{
			Time:   time.Now().Format(time.RFC3339Nano),
			Source: "server",
			Event:  event,
		})
	})

	c.api.On("server."+events.TypeSessionCreated, func(event any) error {
		c.mu.Lock()
		if !c.sessionCreated {
			c.sessionCreated = true
			close(c.sessionCreatedCh)
		}
		c.mu.Unlock()
		return nil
	})

	process := func(event any, inputAudio ...[]int16) (*events.Item, *Delta, error) {
		ev, ok := event.(*events.ServerEvent)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected event payload %T", event)
		}
		return c.conversation.ProcessEvent(ev, inputAudio...)
	}
	processWithDispatch := func(event any, inputAudio ...[]int16) (*events.Item, *Delta, error) {
		item, delta, err := process(event, inputAudio...)
		if err != nil {
			return nil, nil, err
		}
		if item != nil {
			if err := c.Dispatch("conversation.updated", &ConversationUpdatedEvent{Item: item, Delta: delta}); err != nil {
				return nil, nil, err
			}
		}
		return item, delta, nil
	}
	reduce := func(event any) error {
		_, _, err := processWithDispatch(event)
		return err
	}

	c.api.On("server."+events.TypeResponseCreated, reduce)
	c.api.On("server."+events.TypeResponseOutputItemAdded, reduce)
	c.api.On("server."+events.TypeResponseContentPartAdded, reduce)
	c.api.On("server."+events.TypeConversationItemTruncated, reduce)
	c.api.On("server."+events.TypeConversationItemDeleted, reduce)
	c.api.On("server."+events.TypeInputAudioTranscriptionCompleted, reduce)
	c.api.On("server."+events.TypeResponseAudioTranscriptDelta, reduce)
	c.api.On("server."+events.TypeResponseTextDelta, reduce)
	c.api.On("server."+events.TypeResponseFunctionCallArgumentsDelta, reduce)

	c.api.On("server."+events.TypeResponseAudioDelta, func(event any) error {
		_, delta, err := processWithDispatch(event)
		if err != nil {
			return err
		}
		if c.io != nil && delta != nil {
			c.io.WriteAgentAudio(PCM16ToBytes(delta.Audio))
		}
		return nil
	})

	c.api.On("server."+events.TypeInputAudioBufferSpeechStarted, func(event any) error {
		if _, _, err := processWithDispatch(event); err != nil {
			return err
		}
		if c.io != nil {
			c.io.ClearOutputBuffer()
		}
		return c.Dispatch("conversation.interrupted", event)
	})

	c.api.On("server."+events.TypeInputAudioBufferSpeechStopped, func(event any) error {
		c.mu.Lock()
		buffer := c.inputAudioBuffer
		c.mu.Unlock()
		_, _, err := process(event, buffer)
		return err
	})

	c.api.On("server."+events.TypeConversationItemCreated, func(event any) error {
		item, _, err := processWithDispatch(event)
		if err != nil {
			return err
		}
		if err := c.Dispatch("conversation.item.appended", &ConversationItemEvent{Item: item}); err != nil {
			return err
		}
		if item.Status == events.ItemStatusCompleted {
			return c.Dispatch("conversation.item.completed", &ConversationItemEvent{Item: item})
		}
		return nil
	})

	c.api.On("server."+events.TypeResponseOutputItemDone, func(event any) error {
		item, _, err := processWithDispatch(event)
		if err != nil {
			return err
		}
		if item.Status == events.ItemStatusCompleted {
			if err := c.Dispatch("conversation.item.completed", &ConversationItemEvent{Item: item}); err != nil {
				return err
			}
		}
		if item.Formatted != nil && item.Formatted.Tool != nil {
			// Tool handlers may take arbitrary time; never block event
			// delivery on them.
			go c.callTool(item.Formatted.Tool)
		}
		return nil
	})
}

// IsConnected reports whether the underlying transport is live.
func (c *Client) IsConnected() bool {
	return c.api.IsConnected()
}

// Connect opens the transport and pushes the current session configuration.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	if err := c.api.Connect(ctx, c.config.model); err != nil {
		return err
	}
	if err := c.UpdateSession(); err != nil {
		return err
	}
	if c.io != nil {
		go c.pumpInputAudio()
	}
	return nil
}

// Disconnect tears down the transport and resets all client state: bus
// subscriptions are cleared, session, tools and audio buffers return to
// defaults, and the internal wiring is re-installed.
func (c *Client) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	err := c.api.Disconnect(ctx)
	c.conversation.Clear()
	c.ClearEventHandlers()
	c.api.ClearEventHandlers()
	c.resetConfig()
	c.wireAPIHandlers()
	return err
}

// WaitForSessionCreated blocks until the server acknowledges the session. On
// timeout it returns false; timeout <= 0 waits forever. Calling it while
// disconnected is a usage error.
func (c *Client) WaitForSessionCreated(timeout time.Duration) (bool, error) {
	if !c.IsConnected() {
		return false, ErrNotConnected
	}
	c.mu.Lock()
	ch := c.sessionCreatedCh
	c.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true, nil
	}
	select {
	case <-ch:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

// GetTurnDetectionType returns the active turn detection type, or "" when
// turn detection is disabled.
func (c *Client) GetTurnDetectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.TurnDetection == nil {
		return ""
	}
	return c.session.TurnDetection.Type
}

// Conversation exposes the reconstructed conversation state. Items returned
// from it are read-only snapshots.
func (c *Client) Conversation() *Conversation {
	return c.conversation
}

// Audio returns the user-side audio endpoints when the client was built with
// audio IO: a reader producing the agent's speech and a writer accepting the
// user's microphone signal.
func (c *Client) Audio() (io.Reader, io.Writer) {
	if c.io == nil {
		return nil, nil
	}
	return c.io.UserOutputReader(), c.io.UserInputWriter()
}

// AddTool registers a tool. Exactly one registration per name may exist;
// duplicates are an error. The updated tool list is pushed to the server if
// connected.
func (c *Client) AddTool(definition tool.Definition, handler tool.Handler) error {
	if definition.Name == "" {
		return fmt.Errorf("missing tool name in definition")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler must not be nil", definition.Name)
	}

	c.mu.Lock()
	if _, exists := c.tools[definition.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("tool %q already added: remove it before adding again", definition.Name)
	}
	c.tools[definition.Name] = tool.Registration{Definition: definition, Handler: handler}
	c.mu.Unlock()

	return c.UpdateSession()
}

// RemoveTool removes a registered tool. Removing an unknown name is an error.
func (c *Client) RemoveTool(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[name]; !exists {
		return fmt.Errorf("tool %q does not exist, cannot be removed", name)
	}
	delete(c.tools, name)
	return nil
}

// UpdateSession merges the supplied fields into the session configuration;
// unset fields keep their prior value. The tool list sent to the server is
// the union of tools supplied here and the live registry, and a name present
// in both is an error. If connected, the merged session is sent immediately;
// otherwise it is applied on the next connect.
func (c *Client) UpdateSession(opts ...SessionOption) error {
	patch := &sessionPatch{}
	for _, opt := range opts {
		opt(patch)
	}

	c.mu.Lock()
	patch.apply(&c.session)

	useTools := make([]tool.Definition, 0, len(patch.tools)+len(c.tools))
	for _, definition := range patch.tools {
		definition.Type = "function"
		if _, exists := c.tools[definition.Name]; exists {
			c.mu.Unlock()
			return fmt.Errorf("tool %q already added via AddTool: remove it before updating the session with it", definition.Name)
		}
		useTools = append(useTools, definition)
	}
	for _, name := range slices.Sorted(maps.Keys(c.tools)) {
		definition := c.tools[name].Definition
		definition.Type = "function"
		useTools = append(useTools, definition)
	}
	c.session.Tools = useTools
	session := c.session
	c.mu.Unlock()

	if c.IsConnected() {
		return c.api.Send(events.TypeSessionUpdate, map[string]any{"session": session})
	}
	return nil
}

// InputTextContent builds a text content part for SendUserMessageContent.
func InputTextContent(text string) events.ContentPart {
	return events.ContentPart{Type: events.ContentTypeInputText, Text: text}
}

// InputAudioContent builds an audio content part from raw samples.
func InputAudioContent(samples []int16) events.ContentPart {
	return events.ContentPart{Type: events.ContentTypeInputAudio, Audio: EncodePCM16(samples)}
}

// SendUserMessageContent creates a user message item from the given content
// parts and requests a response.
func (c *Client) SendUserMessageContent(content ...events.ContentPart) error {
	if len(content) > 0 {
		err := c.api.Send(events.TypeConversationItemCreate, map[string]any{
			"item": events.Item{
				Type:    events.ItemTypeMessage,
				Role:    events.RoleUser,
				Content: content,
			},
		})
		if err != nil {
			return err
		}
	}
	return c.CreateResponse()
}

// AppendInputAudio streams samples into the server-side input buffer and
// accumulates them locally for speech slicing and manual commits.
func (c *Client) AppendInputAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	err := c.api.Send(events.TypeInputAudioBufferAppend, map[string]any{
		"audio": EncodePCM16(samples),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inputAudioBuffer = append(c.inputAudioBuffer, samples...)
	c.mu.Unlock()
	return nil
}

// CreateResponse requests a model generation turn. With turn detection
// disabled, any locally buffered input audio is committed first and staged
// for adoption by the next user item.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	manual := c.session.TurnDetection == nil
	buffer := c.inputAudioBuffer
	c.mu.Unlock()

	if manual && len(buffer) > 0 {
		if err := c.api.Send(events.TypeInputAudioBufferCommit, nil); err != nil {
			return err
		}
		c.conversation.QueueInputAudio(buffer)
		c.mu.Lock()
		c.inputAudioBuffer = nil
		c.mu.Unlock()
	}

	return c.api.Send(events.TypeResponseCreate, nil)
}

// CancelResponse cancels the in-progress generation. With an id, the target
// must be an assistant message carrying an audio content part; the response
// is cancelled and the item truncated at the millisecond offset matching
// sampleCount. Violated preconditions are errors, not silent no-ops.
func (c *Client) CancelResponse(id string, sampleCount int) (*events.Item, error) {
	if id == "" {
		return nil, c.api.Send(events.TypeResponseCancel, nil)
	}

	item := c.conversation.GetItem(id)
	if item == nil {
		return nil, fmt.Errorf("could not find item %q", id)
	}
	if item.Type != events.ItemTypeMessage {
		return nil, fmt.Errorf("can only cancel response messages with type %q", events.ItemTypeMessage)
	}
	if item.Role != events.RoleAssistant {
		return nil, fmt.Errorf("can only cancel response messages with role %q", events.RoleAssistant)
	}

	if err := c.api.Send(events.TypeResponseCancel, nil); err != nil {
		return nil, err
	}

	audioIndex := slices.IndexFunc(item.Content, func(part events.ContentPart) bool {
		return part.Type == events.ContentTypeAudio
	})
	if audioIndex == -1 {
		return nil, fmt.Errorf("could not find audio on item %q to cancel", id)
	}

	err := c.api.Send(events.TypeConversationItemTruncate, map[string]any{
		"item_id":       id,
		"content_index": audioIndex,
		"audio_end_ms":  samplesToMilliseconds(sampleCount),
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes an item from the server-side conversation. The local
// record goes away when the server confirms with conversation.item.deleted.
func (c *Client) DeleteItem(id string) error {
	return c.api.Send(events.TypeConversationItemDelete, map[string]any{"item_id": id})
}

// WaitForNextItem blocks until the next item is appended. On timeout the
// second return is false; timeout <= 0 waits forever.
func (c *Client) WaitForNextItem(timeout time.Duration) (*events.Item, bool) {
	event, ok := c.WaitForNext("conversation.item.appended", timeout)
	if !ok {
		return nil, false
	}
	return event.(*ConversationItemEvent).Item, true
}

// WaitForNextCompletedItem blocks until the next item reaches terminal
// status.
func (c *Client) WaitForNextCompletedItem(timeout time.Duration) (*events.Item, bool) {
	event, ok := c.WaitForNext("conversation.item.completed", timeout)
	if !ok {
		return nil, false
	}
	return event.(*ConversationItemEvent).Item, true
}

// callTool runs one tool invocation. Failures of any kind are folded into an
// error payload on the function_call_output item; either way a new response
// is requested afterwards.
func (c *Client) callTool(t *events.FormattedTool) {
	output := func() string {
		var arguments map[string]any
		if err := json.Unmarshal([]byte(t.Arguments), &arguments); err != nil {
			return marshalToolError(fmt.Errorf("parse arguments: %w", err))
		}
		c.mu.Lock()
		registration, ok := c.tools[t.Name]
		c.mu.Unlock()
		if !ok {
			return marshalToolError(fmt.Errorf("tool %q has not been added", t.Name))
		}
		result, err := registration.Handler(arguments)
		if err != nil {
			return marshalToolError(err)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return marshalToolError(fmt.Errorf("encode result: %w", err))
		}
		return string(data)
	}()

	err := c.api.Send(events.TypeConversationItemCreate, map[string]any{
		"item": events.Item{
			Type:   events.ItemTypeFunctionCallOutput,
			CallID: t.CallID,
			Output: output,
		},
	})
	if err != nil {
		c.logger.Error("failed to send tool output", slog.String("tool", t.Name), slog.Any("err", err))
	}
	if err := c.CreateResponse(); err != nil {
		c.logger.Error("failed to request response after tool call", slog.String("tool", t.Name), slog.Any("err", err))
	}
}

func marshalToolError(err error) string {
	data, _ := json.Marshal(map[string]any{"error": err.Error()})
	return string(data)
}

// pumpInputAudio drains the user input buffer into the server in fixed
// chunks while connected.
func (c *Client) pumpInputAudio() {
	chunk := make([]byte, getChunkSize(DefaultFrequency, c.config.latency(), 2, 1))
	reader := c.io.AgentInputReader()
	for {
		n, err := reader.Read(chunk)
		if err != nil {
			if err != io.EOF {
				c.logger.Error("failed to read input audio", slog.Any("err", err))
			}
			return
		}
		if !c.IsConnected() {
			return
		}
		if err := c.AppendInputAudio(BytesToPCM16(chunk[:n])); err != nil {
			c.logger.Error("failed to append input audio", slog.Any("err", err))
			return
		}
	}
}
