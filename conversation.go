package realtime

import (
	"fmt"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/simliai/openai-realtime-api-beta/events"
)

// Response tracks one model generation turn and the ids of the items produced
// under it. Output only grows.
type Response struct {
	ID     string
	Output []string
}

// Delta carries the incremental piece a reducer step added to an item, for
// consumers that render deltas without re-reading the whole item.
type Delta struct {
	Text       string
	Transcript string
	Audio      []int16
	Arguments  string
}

// queuedSpeech buffers speech boundaries (and, once stopped, the sliced input
// audio) for an item id the server has referenced but not yet created.
type queuedSpeech struct {
	audioStartMs int
	audioEndMs   int
	audio        []int16
}

// Conversation folds the server's event stream into item and response
// records. It holds no reference to the transport; the client feeds it one
// event at a time through ProcessEvent.
type Conversation struct {
	mu sync.Mutex

	items          []*events.Item
	itemLookup     map[string]*events.Item
	responses      []*Response
	responseLookup map[string]*Response

	queuedSpeechItems     map[string]*queuedSpeech
	queuedTranscriptItems map[string]string
	queuedInputAudio      []int16
}

func NewConversation() *Conversation {
	c := &Conversation{}
	c.Clear()
	return c
}

// Clear drops all items, responses and queued state.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.itemLookup = map[string]*events.Item{}
	c.responses = nil
	c.responseLookup = map[string]*Response{}
	c.queuedSpeechItems = map[string]*queuedSpeech{}
	c.queuedTranscriptItems = map[string]string{}
	c.queuedInputAudio = nil
}

// QueueInputAudio stages a committed input buffer for adoption by the next
// user item that gets created.
func (c *Conversation) QueueInputAudio(audio []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInputAudio = audio
}

// GetItem returns the item with the given id, or nil.
func (c *Conversation) GetItem(id string) *events.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemLookup[id]
}

// GetItems returns the items in conversation order. The slice is a copy; the
// items themselves are live records owned by the conversation and must be
// treated as read-only.
func (c *Conversation) GetItems() []*events.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*events.Item(nil), c.items...)
}

// GetResponse returns the response with the given id, or nil.
func (c *Conversation) GetResponse(id string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseLookup[id]
}

// ProcessEvent applies one server event to the conversation tables. The
// optional inputAudio argument supplies the client's local input buffer to
// the handlers that slice it (speech_stopped). It returns the affected item,
// if any, and the delta the event contributed. An event type outside the
// protocol is a hard error.
func (c *Conversation) ProcessEvent(ev *events.ServerEvent, inputAudio ...[]int16) (*events.Item, *Delta, error) {
	if ev.EventID == "" {
		return nil, nil, fmt.Errorf("missing event_id on event %q", ev.Type)
	}
	if ev.Type == "" {
		return nil, nil, fmt.Errorf("missing type on event %q", ev.EventID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case events.TypeConversationItemCreated:
		return c.itemCreated(ev)
	case events.TypeConversationItemTruncated:
		return c.itemTruncated(ev)
	case events.TypeConversationItemDeleted:
		return c.itemDeleted(ev)
	case events.TypeInputAudioTranscriptionCompleted:
		return c.transcriptionCompleted(ev)
	case events.TypeInputAudioBufferSpeechStarted:
		return c.speechStarted(ev)
	case events.TypeInputAudioBufferSpeechStopped:
		return c.speechStopped(ev, inputAudio...)
	case events.TypeResponseCreated:
		return c.responseCreated(ev)
	case events.TypeResponseOutputItemAdded:
		return c.outputItemAdded(ev)
	case events.TypeResponseOutputItemDone:
		return c.outputItemDone(ev)
	case events.TypeResponseContentPartAdded:
		return c.contentPartAdded(ev)
	case events.TypeResponseAudioTranscriptDelta:
		return c.audioTranscriptDelta(ev)
	case events.TypeResponseAudioDelta:
		return c.audioDelta(ev)
	case events.TypeResponseTextDelta:
		return c.textDelta(ev)
	case events.TypeResponseFunctionCallArgumentsDelta:
		return c.functionCallArgumentsDelta(ev)
	default:
		return nil, nil, fmt.Errorf("missing conversation event processor for %q", ev.Type)
	}
}

func (c *Conversation) itemCreated(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	if ev.Item == nil {
		return nil, nil, fmt.Errorf("%s: missing item", ev.Type)
	}

	newItem := &events.Item{}
	if err := copier.CopyWithOption(newItem, ev.Item, copier.Option{DeepCopy: true}); err != nil {
		return nil, nil, fmt.Errorf("%s: copy item: %w", ev.Type, err)
	}
	if _, known := c.itemLookup[newItem.ID]; !known {
		c.itemLookup[newItem.ID] = newItem
		c.items = append(c.items, newItem)
	}

	newItem.Formatted = &events.Formatted{Audio: []int16{}}

	// A speech segment may already be waiting for this item.
	if speech, ok := c.queuedSpeechItems[newItem.ID]; ok {
		newItem.Formatted.Audio = speech.audio
		delete(c.queuedSpeechItems, newItem.ID)
	}

	// Text content present at creation seeds formatted.text.
	for _, part := range newItem.Content {
		if part.Type == events.ContentTypeText || part.Type == events.ContentTypeInputText {
			newItem.Formatted.Text += part.Text
		}
	}

	// Same for a transcript that completed before the item existed.
	if transcript, ok := c.queuedTranscriptItems[newItem.ID]; ok {
		newItem.Formatted.Transcript = transcript
		delete(c.queuedTranscriptItems, newItem.ID)
	}

	switch newItem.Type {
	case events.ItemTypeMessage:
		if newItem.Role == events.RoleUser {
			newItem.Status = events.ItemStatusCompleted
			if c.queuedInputAudio != nil {
				newItem.Formatted.Audio = c.queuedInputAudio
				c.queuedInputAudio = nil
			}
		} else {
			newItem.Status = events.ItemStatusInProgress
		}
	case events.ItemTypeFunctionCall:
		newItem.Formatted.Tool = &events.FormattedTool{
			Type:   "function",
			Name:   newItem.Name,
			CallID: newItem.CallID,
		}
		newItem.Status = events.ItemStatusInProgress
	case events.ItemTypeFunctionCallOutput:
		newItem.Status = events.ItemStatusCompleted
		newItem.Formatted.Output = newItem.Output
	}

	return newItem, nil, nil
}

func (c *Conversation) itemTruncated(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("item.truncated: item %q not found", ev.ItemID)
	}

	item.Formatted.Transcript = ""
	endIndex := millisecondsToSamples(ev.AudioEndMs)
	if endIndex < 0 {
		endIndex = 0
	}
	if endIndex < len(item.Formatted.Audio) {
		item.Formatted.Audio = item.Formatted.Audio[:endIndex]
	}

	return item, nil, nil
}

func (c *Conversation) itemDeleted(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("item.deleted: item %q not found", ev.ItemID)
	}

	delete(c.itemLookup, item.ID)
	for i, existing := range c.items {
		if existing == item {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			break
		}
	}

	return item, nil, nil
}

func (c *Conversation) transcriptionCompleted(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]

	// An empty transcript still needs to render as something.
	formattedTranscript := ev.Transcript
	if formattedTranscript == "" {
		formattedTranscript = " "
	}

	if item == nil {
		// Transcription may precede the item it belongs to; park it.
		c.queuedTranscriptItems[ev.ItemID] = formattedTranscript
		return nil, nil, nil
	}

	if ev.ContentIndex >= 0 && ev.ContentIndex < len(item.Content) {
		item.Content[ev.ContentIndex].Transcript = ev.Transcript
	}
	item.Formatted.Transcript = formattedTranscript

	return item, &Delta{Transcript: ev.Transcript}, nil
}

func (c *Conversation) speechStarted(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	c.queuedSpeechItems[ev.ItemID] = &queuedSpeech{audioStartMs: ev.AudioStartMs}
	return nil, nil, nil
}

func (c *Conversation) speechStopped(ev *events.ServerEvent, inputAudio ...[]int16) (*events.Item, *Delta, error) {
	speech := c.queuedSpeechItems[ev.ItemID]
	if speech == nil {
		// Degenerate segment: stop without a recorded start.
		speech = &queuedSpeech{audioStartMs: ev.AudioEndMs}
		c.queuedSpeechItems[ev.ItemID] = speech
	}
	speech.audioEndMs = ev.AudioEndMs

	if len(inputAudio) > 0 && inputAudio[0] != nil {
		buffer := inputAudio[0]
		startIndex := millisecondsToSamples(speech.audioStartMs)
		endIndex := millisecondsToSamples(speech.audioEndMs)
		// Hostile or buggy offsets must not take the reducer down; clamp the
		// segment into the buffer.
		if startIndex < 0 {
			startIndex = 0
		}
		if endIndex < startIndex {
			endIndex = startIndex
		}
		if startIndex > len(buffer) {
			startIndex = len(buffer)
		}
		if endIndex > len(buffer) {
			endIndex = len(buffer)
		}
		speech.audio = append([]int16(nil), buffer[startIndex:endIndex]...)
	}

	return nil, nil, nil
}

func (c *Conversation) responseCreated(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	if ev.Response == nil {
		return nil, nil, fmt.Errorf("%s: missing response", ev.Type)
	}
	if _, known := c.responseLookup[ev.Response.ID]; !known {
		response := &Response{ID: ev.Response.ID, Output: []string{}}
		c.responseLookup[response.ID] = response
		c.responses = append(c.responses, response)
	}
	return nil, nil, nil
}

func (c *Conversation) outputItemAdded(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	response := c.responseLookup[ev.ResponseID]
	if response == nil {
		return nil, nil, fmt.Errorf("response.output_item.added: response %q not found", ev.ResponseID)
	}
	if ev.Item == nil {
		return nil, nil, fmt.Errorf("response.output_item.added: missing item")
	}
	response.Output = append(response.Output, ev.Item.ID)
	return nil, nil, nil
}

func (c *Conversation) outputItemDone(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	if ev.Item == nil {
		return nil, nil, fmt.Errorf("response.output_item.done: missing item")
	}
	item := c.itemLookup[ev.Item.ID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.output_item.done: item %q not found", ev.Item.ID)
	}
	item.Status = ev.Item.Status
	return item, nil, nil
}

func (c *Conversation) contentPartAdded(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.content_part.added: item %q not found", ev.ItemID)
	}
	if ev.Part == nil {
		return nil, nil, fmt.Errorf("response.content_part.added: missing part")
	}
	item.Content = append(item.Content, *ev.Part)
	return item, nil, nil
}

func (c *Conversation) audioTranscriptDelta(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.audio_transcript.delta: item %q not found", ev.ItemID)
	}
	if ev.ContentIndex >= 0 && ev.ContentIndex < len(item.Content) {
		item.Content[ev.ContentIndex].Transcript += ev.Delta
	}
	item.Formatted.Transcript += ev.Delta
	return item, &Delta{Transcript: ev.Delta}, nil
}

func (c *Conversation) audioDelta(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.audio.delta: item %q not found", ev.ItemID)
	}
	appendValues, err := DecodePCM16(ev.Delta)
	if err != nil {
		return nil, nil, fmt.Errorf("response.audio.delta: %w", err)
	}
	// Audio is accumulated on the formatted projection only; content parts
	// keep the base64 form the server sent, if any.
	item.Formatted.Audio = append(item.Formatted.Audio, appendValues...)
	return item, &Delta{Audio: appendValues}, nil
}

func (c *Conversation) textDelta(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.text.delta: item %q not found", ev.ItemID)
	}
	if ev.ContentIndex >= 0 && ev.ContentIndex < len(item.Content) {
		item.Content[ev.ContentIndex].Text += ev.Delta
	}
	item.Formatted.Text += ev.Delta
	return item, &Delta{Text: ev.Delta}, nil
}

func (c *Conversation) functionCallArgumentsDelta(ev *events.ServerEvent) (*events.Item, *Delta, error) {
	item := c.itemLookup[ev.ItemID]
	if item == nil {
		return nil, nil, fmt.Errorf("response.function_call_arguments.delta: item %q not found", ev.ItemID)
	}
	item.Arguments += ev.Delta
	if item.Formatted.Tool != nil {
		item.Formatted.Tool.Arguments += ev.Delta
	}
	return item, &Delta{Arguments: ev.Delta}, nil
}
