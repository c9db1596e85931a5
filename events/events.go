// Package events defines the wire shapes exchanged with the realtime server:
// typed client events, a flat decode target for server events, and the id
// scheme used to stamp everything the client emits.
package events

import (
	"encoding/json"
	"fmt"
)

// Client event types (client -> server).
const (
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeInputAudioBufferClear    = "input_audio_buffer.clear"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemDelete   = "conversation.item.delete"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
)

// Server event types (server -> client).
const (
	TypeError                              = "error"
	TypeSessionCreated                     = "session.created"
	TypeSessionUpdated                     = "session.updated"
	TypeConversationItemCreated            = "conversation.item.created"
	TypeConversationItemTruncated          = "conversation.item.truncated"
	TypeConversationItemDeleted            = "conversation.item.deleted"
	TypeInputAudioTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	TypeInputAudioBufferSpeechStarted      = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped      = "input_audio_buffer.speech_stopped"
	TypeResponseCreated                    = "response.created"
	TypeResponseOutputItemAdded            = "response.output_item.added"
	TypeResponseOutputItemDone             = "response.output_item.done"
	TypeResponseContentPartAdded           = "response.content_part.added"
	TypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeResponseAudioDelta                 = "response.audio.delta"
	TypeResponseTextDelta                  = "response.text.delta"
	TypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
)

// BaseEvent carries the fields shared by every event on the wire.
type BaseEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// NewBaseEvent stamps a fresh outbound event.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID: GenerateID("evt_"),
		Type:    eventType,
	}
}

// Parse decodes data into T.
func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// ServerEvent is the flat decode target for every inbound message. Fields are
// populated depending on the event type; unused fields stay zero.
type ServerEvent struct {
	EventID        string            `json:"event_id,omitempty"`
	Type           string            `json:"type"`
	PreviousItemID string            `json:"previous_item_id,omitempty"`
	ItemID         string            `json:"item_id,omitempty"`
	ResponseID     string            `json:"response_id,omitempty"`
	OutputIndex    int               `json:"output_index,omitempty"`
	ContentIndex   int               `json:"content_index,omitempty"`
	AudioStartMs   int               `json:"audio_start_ms,omitempty"`
	AudioEndMs     int               `json:"audio_end_ms,omitempty"`
	Transcript     string            `json:"transcript,omitempty"`
	Delta          string            `json:"delta,omitempty"`
	CallID         string            `json:"call_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	Arguments      string            `json:"arguments,omitempty"`
	Item           *Item             `json:"item,omitempty"`
	Part           *ContentPart      `json:"part,omitempty"`
	Response       *ResponseResource `json:"response,omitempty"`
	Session        *Session          `json:"session,omitempty"`
	ErrorDetail    *ErrorDetail      `json:"error,omitempty"`
}

// ParseServer decodes an inbound frame. A frame without both a type and an
// event_id is a protocol violation.
func ParseServer(data []byte) (*ServerEvent, error) {
	ev, err := Parse[ServerEvent](data)
	if err != nil {
		return nil, fmt.Errorf("parse server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("server event missing type: %s", data)
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("server event %q missing event_id", ev.Type)
	}
	return ev, nil
}

// ErrorEvent is the server's error notification.
type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Item is one conversation entry: a user/assistant message, a function call,
// or a function call output.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`

	// Formatted is the client-side accumulation of deltas for this item.
	// It never goes over the wire.
	Formatted *Formatted `json:"-"`
}

// Item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Item statuses.
const (
	ItemStatusInProgress = "in_progress"
	ItemStatusCompleted  = "completed"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentPart is a part of message content.
type ContentPart struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"` // base64 pcm16
	Transcript string `json:"transcript,omitempty"`
	ID         string `json:"id,omitempty"`
}

// Content part types.
const (
	ContentTypeText       = "text"
	ContentTypeInputText  = "input_text"
	ContentTypeAudio      = "audio"
	ContentTypeInputAudio = "input_audio"
)

// Formatted is the read-side projection of an item, rebuilt additively as
// deltas arrive.
type Formatted struct {
	Audio      []int16
	Text       string
	Transcript string
	Tool       *FormattedTool
	Output     string
}

// FormattedTool describes the pending tool call carried by a function_call
// item.
type FormattedTool struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// ResponseResource is the server's view of one generation turn.
type ResponseResource struct {
	ID            string `json:"id"`
	Object        string `json:"object,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusDetails *struct {
		Type   string `json:"type,omitempty"`
		Reason string `json:"reason,omitempty"`
	} `json:"status_details,omitempty"`
	Output []Item `json:"output,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Usage carries token accounting from response.done.
type Usage struct {
	TotalTokens  int `json:"total_tokens,omitempty"`
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
