package events

import "github.com/simliai/openai-realtime-api-beta/tool"

type AudioFormat string

const (
	AudioFormatPCM16    AudioFormat = "pcm16"
	AudioFormatG711ULaw AudioFormat = "g711_ulaw"
	AudioFormatG711ALaw AudioFormat = "g711_alaw"
)

// Voices for audio output.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Session is the full session configuration. The client keeps one merged copy
// and always sends it whole, so configuration fields stay present on the wire
// even when zero; turn_detection in particular serializes as an explicit null
// when disabled.
type Session struct {
	ID        string `json:"id,omitempty"`
	Object    string `json:"object,omitempty"`
	Model     string `json:"model,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`

	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        AudioFormat         `json:"input_audio_format"`
	OutputAudioFormat       AudioFormat         `json:"output_audio_format"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection      `json:"turn_detection"`
	Tools                   []tool.Definition   `json:"tools"`
	ToolChoice              string              `json:"tool_choice"`
	Temperature             float64             `json:"temperature"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens"`
}

// AudioTranscription configures transcription of user input audio.
type AudioTranscription struct {
	Model string `json:"model,omitempty"`
}

// TurnDetection holds the server VAD configuration. A nil TurnDetection means
// manual commit mode.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// TurnDetectionServerVAD is the only turn detection type the server currently
// accepts.
const TurnDetectionServerVAD = "server_vad"
