package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simliai/openai-realtime-api-beta/events"
	"github.com/simliai/openai-realtime-api-beta/tool"
)

// fakeSocket stands in for the websocket: it decodes every outbound frame and
// hands it to the test.
type fakeSocket struct {
	mu     sync.Mutex
	frames []map[string]any
	notify chan map[string]any
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{notify: make(chan map[string]any, 32)}
}

func (s *fakeSocket) WriteText(data []byte) {
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	s.notify <- frame
}

func (s *fakeSocket) Close(ctx context.Context) error { return nil }

func (s *fakeSocket) sent() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.frames...)
}

func (s *fakeSocket) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-s.notify:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return nil
	}
}

func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *fakeSocket) {
	t.Helper()
	c, err := New(append([]ClientOption{WithKey("sk-test")}, opts...)...)
	require.NoError(t, err)

	sock := newFakeSocket()
	c.api.mu.Lock()
	c.api.sock = sock
	c.api.mu.Unlock()
	return c, sock
}

func feedServer(t *testing.T, c *Client, fields map[string]any) {
	t.Helper()
	eventSeq++
	fields["event_id"] = fmt.Sprintf("evt_test%d", eventSeq)
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, c.api.receive(data))
}

func TestClientToolRoundTrip(t *testing.T) {
	type weatherParams struct {
		City string `json:"city"`
	}
	reg := tool.New("get_weather", "Looks up the current weather.", func(params weatherParams) (any, error) {
		return map[string]any{"city": params.City, "temp": 21}, nil
	})
	c, sock := newTestClient(t, WithTools(reg))

	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{
			"id":      "item_1",
			"type":    "function_call",
			"call_id": "call_1",
			"name":    "get_weather",
		},
	})
	feedServer(t, c, map[string]any{
		"type":    events.TypeResponseFunctionCallArgumentsDelta,
		"item_id": "item_1",
		"delta":   `{"city":"Lyon"}`,
	})
	feedServer(t, c, map[string]any{
		"type": events.TypeResponseOutputItemDone,
		"item": map[string]any{"id": "item_1", "status": "completed"},
	})

	// The tool runs off the event loop; wait for its output frame.
	frame := sock.next(t)
	assert.Equal(t, "conversation.item.create", frame["type"])
	assert.NotEmpty(t, frame["event_id"])
	item := frame["item"].(map[string]any)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call_1", item["call_id"])
	assert.JSONEq(t, `{"city":"Lyon","temp":21}`, item["output"].(string))

	frame = sock.next(t)
	assert.Equal(t, "response.create", frame["type"])
	assert.Len(t, sock.sent(), 2)
}

func TestClientToolErrorBecomesOutput(t *testing.T) {
	type noParams struct{}
	reg := tool.New("flaky", "Always fails.", func(params noParams) (any, error) {
		return nil, fmt.Errorf("upstream unavailable")
	})
	c, sock := newTestClient(t, WithTools(reg))

	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{
			"id":      "item_1",
			"type":    "function_call",
			"call_id": "call_1",
			"name":    "flaky",
		},
	})
	feedServer(t, c, map[string]any{
		"type":    events.TypeResponseFunctionCallArgumentsDelta,
		"item_id": "item_1",
		"delta":   `{}`,
	})
	feedServer(t, c, map[string]any{
		"type": events.TypeResponseOutputItemDone,
		"item": map[string]any{"id": "item_1", "status": "completed"},
	})

	frame := sock.next(t)
	item := frame["item"].(map[string]any)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, item["output"].(string))

	// A failed tool call still requests a new response.
	frame = sock.next(t)
	assert.Equal(t, "response.create", frame["type"])
}

func TestClientUpdateSessionSendsMergedSession(t *testing.T) {
	c, sock := newTestClient(t)

	require.NoError(t, c.UpdateSession(WithTemperature(0.2)))

	frame := sock.next(t)
	assert.Equal(t, "session.update", frame["type"])
	session := frame["session"].(map[string]any)
	assert.Equal(t, 0.2, session["temperature"])

	// Untouched fields keep their defaults.
	assert.Equal(t, "verse", session["voice"])
	assert.Equal(t, "auto", session["tool_choice"])
	assert.Equal(t, float64(4096), session["max_response_output_tokens"])
	assert.Equal(t, []any{"text", "audio"}, session["modalities"])

	// turn_detection defaults to an explicit null on the wire.
	value, present := session["turn_detection"]
	assert.True(t, present)
	assert.Nil(t, value)
}

func TestClientUpdateSessionToolCollision(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.AddTool(
		tool.Definition{Name: "dup", Description: "d"},
		func(params map[string]any) (any, error) { return nil, nil },
	))

	err := c.UpdateSession(WithSessionTools(tool.Definition{Name: "dup"}))
	assert.ErrorContains(t, err, "already added")
}

func TestClientAddToolValidation(t *testing.T) {
	c, _ := newTestClient(t)
	handler := func(params map[string]any) (any, error) { return nil, nil }

	assert.Error(t, c.AddTool(tool.Definition{}, handler))
	assert.Error(t, c.AddTool(tool.Definition{Name: "x"}, nil))

	require.NoError(t, c.AddTool(tool.Definition{Name: "x"}, handler))
	assert.ErrorContains(t, c.AddTool(tool.Definition{Name: "x"}, handler), "already added")

	require.NoError(t, c.RemoveTool("x"))
	assert.Error(t, c.RemoveTool("x"))
}

func TestClientSendUserMessageContent(t *testing.T) {
	c, sock := newTestClient(t)

	require.NoError(t, c.SendUserMessageContent(InputTextContent("hello")))

	frame := sock.next(t)
	assert.Equal(t, "conversation.item.create", frame["type"])
	item := frame["item"].(map[string]any)
	assert.Equal(t, "message", item["type"])
	assert.Equal(t, "user", item["role"])
	content := item["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "input_text", content[0].(map[string]any)["type"])
	assert.Equal(t, "hello", content[0].(map[string]any)["text"])

	frame = sock.next(t)
	assert.Equal(t, "response.create", frame["type"])
}

func TestClientSendUserMessageContentEmpty(t *testing.T) {
	c, sock := newTestClient(t)

	require.NoError(t, c.SendUserMessageContent())
	frame := sock.next(t)
	assert.Equal(t, "response.create", frame["type"])
	assert.Len(t, sock.sent(), 1)
}

func TestClientCreateResponseManualCommit(t *testing.T) {
	c, sock := newTestClient(t)

	samples := []int16{1, 2, 3}
	require.NoError(t, c.AppendInputAudio(samples))
	frame := sock.next(t)
	assert.Equal(t, "input_audio_buffer.append", frame["type"])
	assert.Equal(t, EncodePCM16(samples), frame["audio"])

	require.NoError(t, c.CreateResponse())
	assert.Equal(t, "input_audio_buffer.commit", sock.next(t)["type"])
	assert.Equal(t, "response.create", sock.next(t)["type"])

	// The committed buffer is adopted by the next user item.
	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_1", "type": "message", "role": "user"},
	})
	assert.Equal(t, samples, c.conversation.GetItem("item_1").Formatted.Audio)

	// The local buffer was cleared; the next response has nothing to commit.
	require.NoError(t, c.CreateResponse())
	assert.Equal(t, "response.create", sock.next(t)["type"])
	assert.Len(t, sock.sent(), 4)
}

func TestClientAppendInputAudioSkipsEmpty(t *testing.T) {
	c, sock := newTestClient(t)
	require.NoError(t, c.AppendInputAudio(nil))
	assert.Empty(t, sock.sent())
}

func TestClientCancelResponseBare(t *testing.T) {
	c, sock := newTestClient(t)

	item, err := c.CancelResponse("", 0)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, "response.cancel", sock.next(t)["type"])
}

func TestClientCancelResponsePreconditions(t *testing.T) {
	c, sock := newTestClient(t)

	_, err := c.CancelResponse("missing", 0)
	assert.ErrorContains(t, err, "could not find item")
	assert.Empty(t, sock.sent())

	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_fc", "type": "function_call", "call_id": "c", "name": "n"},
	})
	_, err = c.CancelResponse("item_fc", 0)
	assert.ErrorContains(t, err, "can only cancel response messages")
	assert.Empty(t, sock.sent())

	// An assistant message without audio content: the cancel goes out before
	// the audio lookup fails, and no truncate follows.
	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_a", "type": "message", "role": "assistant"},
	})
	_, err = c.CancelResponse("item_a", 0)
	assert.ErrorContains(t, err, "could not find audio")
	frames := sock.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "response.cancel", frames[0]["type"])
}

func TestClientCancelResponseTruncates(t *testing.T) {
	c, sock := newTestClient(t)

	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_a", "type": "message", "role": "assistant"},
	})
	feedServer(t, c, map[string]any{
		"type":    events.TypeResponseContentPartAdded,
		"item_id": "item_a",
		"part":    map[string]any{"type": "audio"},
	})

	item, err := c.CancelResponse("item_a", 24000)
	require.NoError(t, err)
	assert.Equal(t, "item_a", item.ID)

	assert.Equal(t, "response.cancel", sock.next(t)["type"])
	frame := sock.next(t)
	assert.Equal(t, "conversation.item.truncate", frame["type"])
	assert.Equal(t, "item_a", frame["item_id"])
	assert.Equal(t, float64(0), frame["content_index"])
	assert.Equal(t, float64(1000), frame["audio_end_ms"])
}

func TestClientDeleteItem(t *testing.T) {
	c, sock := newTestClient(t)
	require.NoError(t, c.DeleteItem("item_1"))
	frame := sock.next(t)
	assert.Equal(t, "conversation.item.delete", frame["type"])
	assert.Equal(t, "item_1", frame["item_id"])
}

func TestClientConversationInterrupted(t *testing.T) {
	c, _ := newTestClient(t)

	var interrupted bool
	c.On("conversation.interrupted", func(event any) error {
		interrupted = true
		return nil
	})

	feedServer(t, c, map[string]any{
		"type":           events.TypeInputAudioBufferSpeechStarted,
		"item_id":        "item_1",
		"audio_start_ms": 0,
	})
	assert.True(t, interrupted)
}

func TestClientItemLifecycleEvents(t *testing.T) {
	c, _ := newTestClient(t)

	var order []string
	c.On("conversation.item.appended", func(event any) error {
		order = append(order, "appended")
		return nil
	})
	c.On("conversation.updated", func(event any) error {
		order = append(order, "updated")
		return nil
	})
	c.On("conversation.item.completed", func(event any) error {
		order = append(order, "completed")
		ce := event.(*ConversationItemEvent)
		assert.Equal(t, events.ItemStatusCompleted, ce.Item.Status)
		return nil
	})

	// A user message is terminal on creation, so all three fire in order.
	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_1", "type": "message", "role": "user"},
	})
	assert.Equal(t, []string{"updated", "appended", "completed"}, order)
}

func TestClientRealtimeEventTap(t *testing.T) {
	c, sock := newTestClient(t)

	var sources []string
	c.On("realtime.event", func(event any) error {
		sources = append(sources, event.(*RealtimeEvent).Source)
		return nil
	})

	require.NoError(t, c.CreateResponse())
	sock.next(t)
	feedServer(t, c, map[string]any{
		"type":     events.TypeResponseCreated,
		"response": map[string]any{"id": "resp_1"},
	})

	assert.Equal(t, []string{"client", "server"}, sources)
}

func TestClientWaitForSessionCreated(t *testing.T) {
	c, err := New(WithKey("sk-test"))
	require.NoError(t, err)

	_, err = c.WaitForSessionCreated(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)

	c, _ = newTestClient(t)
	ok, err := c.WaitForSessionCreated(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	feedServer(t, c, map[string]any{"type": events.TypeSessionCreated})
	ok, err = c.WaitForSessionCreated(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientGetTurnDetectionType(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Empty(t, c.GetTurnDetectionType())

	c, _ = newTestClient(t, WithSession(WithTurnDetection(&events.TurnDetection{
		Type: events.TurnDetectionServerVAD,
	})))
	assert.Equal(t, events.TurnDetectionServerVAD, c.GetTurnDetectionType())
}

func TestClientConnectWhileConnected(t *testing.T) {
	c, _ := newTestClient(t)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestClientDisconnectResetsState(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.AddTool(
		tool.Definition{Name: "x"},
		func(params map[string]any) (any, error) { return nil, nil },
	))
	require.NoError(t, c.UpdateSession(WithTemperature(0.1)))
	require.NoError(t, c.AppendInputAudio([]int16{1}))
	c.On("conversation.interrupted", func(event any) error { return nil })
	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_1", "type": "message", "role": "user"},
	})
	require.NotEmpty(t, c.conversation.GetItems())

	require.NoError(t, c.Disconnect())

	assert.False(t, c.IsConnected())
	assert.Empty(t, c.conversation.GetItems())
	assert.Empty(t, c.tools)
	assert.Nil(t, c.inputAudioBuffer)
	assert.Equal(t, 0.8, c.session.Temperature)
	assert.Empty(t, c.handlers)

	// Internal wiring is reinstalled: the reducer still runs after disconnect.
	feedServer(t, c, map[string]any{
		"type": events.TypeConversationItemCreated,
		"item": map[string]any{"id": "item_2", "type": "message", "role": "user"},
	})
	require.Len(t, c.conversation.GetItems(), 1)
}
