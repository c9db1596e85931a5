package realtime

import (
	"github.com/simliai/openai-realtime-api-beta/events"
	"github.com/simliai/openai-realtime-api-beta/tool"
)

// defaultSession is the configuration a fresh client starts from.
// turn_detection defaults to null, i.e. manual commit mode.
func defaultSession() events.Session {
	return events.Session{
		Modalities:              []string{events.ModalityText, events.ModalityAudio},
		Instructions:            "",
		Voice:                   events.VoiceVerse,
		InputAudioFormat:        events.AudioFormatPCM16,
		OutputAudioFormat:       events.AudioFormatPCM16,
		InputAudioTranscription: nil,
		TurnDetection:           nil,
		Tools:                   []tool.Definition{},
		ToolChoice:              "auto",
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}

// sessionPatch records which fields an update supplies. Absent fields keep
// their prior value; pointer-typed fields can be set to an explicit nil,
// which is distinct from not being set at all.
type sessionPatch struct {
	modalities   []string
	instructions *string
	voice        *string

	inputAudioFormat  *events.AudioFormat
	outputAudioFormat *events.AudioFormat

	inputAudioTranscription    *events.AudioTranscription
	inputAudioTranscriptionSet bool

	turnDetection    *events.TurnDetection
	turnDetectionSet bool

	tools    []tool.Definition
	toolsSet bool

	toolChoice              *string
	temperature             *float64
	maxResponseOutputTokens *int
}

// SessionOption sets one session field on an update.
type SessionOption func(*sessionPatch)

func WithModalities(modalities ...string) SessionOption {
	return func(p *sessionPatch) { p.modalities = modalities }
}

func WithInstructions(instructions string) SessionOption {
	return func(p *sessionPatch) { p.instructions = &instructions }
}

func WithVoice(voice string) SessionOption {
	return func(p *sessionPatch) { p.voice = &voice }
}

func WithInputAudioFormat(format events.AudioFormat) SessionOption {
	return func(p *sessionPatch) { p.inputAudioFormat = &format }
}

func WithOutputAudioFormat(format events.AudioFormat) SessionOption {
	return func(p *sessionPatch) { p.outputAudioFormat = &format }
}

// WithInputAudioTranscription enables or, with nil, explicitly disables
// transcription of input audio.
func WithInputAudioTranscription(config *events.AudioTranscription) SessionOption {
	return func(p *sessionPatch) {
		p.inputAudioTranscription = config
		p.inputAudioTranscriptionSet = true
	}
}

// WithTurnDetection sets the server VAD configuration. Passing nil selects
// manual commit mode (turn_detection: null on the wire).
func WithTurnDetection(config *events.TurnDetection) SessionOption {
	return func(p *sessionPatch) {
		p.turnDetection = config
		p.turnDetectionSet = true
	}
}

// WithSessionTools supplies tool definitions for this update. They are merged
// with the live tool registry; a name present in both is an error.
func WithSessionTools(tools ...tool.Definition) SessionOption {
	return func(p *sessionPatch) {
		p.tools = tools
		p.toolsSet = true
	}
}

func WithToolChoice(choice string) SessionOption {
	return func(p *sessionPatch) { p.toolChoice = &choice }
}

func WithTemperature(temperature float64) SessionOption {
	return func(p *sessionPatch) { p.temperature = &temperature }
}

func WithMaxResponseOutputTokens(tokens int) SessionOption {
	return func(p *sessionPatch) { p.maxResponseOutputTokens = &tokens }
}

// apply merges the patch into session, field by field.
func (p *sessionPatch) apply(session *events.Session) {
	if p.modalities != nil {
		session.Modalities = p.modalities
	}
	if p.instructions != nil {
		session.Instructions = *p.instructions
	}
	if p.voice != nil {
		session.Voice = *p.voice
	}
	if p.inputAudioFormat != nil {
		session.InputAudioFormat = *p.inputAudioFormat
	}
	if p.outputAudioFormat != nil {
		session.OutputAudioFormat = *p.outputAudioFormat
	}
	if p.inputAudioTranscriptionSet {
		session.InputAudioTranscription = p.inputAudioTranscription
	}
	if p.turnDetectionSet {
		session.TurnDetection = p.turnDetection
	}
	if p.toolChoice != nil {
		session.ToolChoice = *p.toolChoice
	}
	if p.temperature != nil {
		session.Temperature = *p.temperature
	}
	if p.maxResponseOutputTokens != nil {
		session.MaxResponseOutputTokens = *p.maxResponseOutputTokens
	}
}
