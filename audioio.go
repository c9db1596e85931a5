package realtime

import (
	"io"
	"time"

	"github.com/smallnest/ringbuffer"
)

// AudioIO carries streaming audio between the user's device rate and the
// protocol's 24kHz: the user side writes microphone PCM and reads agent
// speech; the client side drains the input ring and feeds the playback ring.
type AudioIO struct {
	agentBuffer       *ringbuffer.RingBuffer
	userInputWriter   io.Writer // where the user writes microphone audio
	userOutputReader  io.Reader // where the user reads the agent's speech
	agentInputReader  io.Reader // where the client reads buffered user audio
	agentOutputWriter io.Writer // where the client writes the agent's audio
}

func NewAudioIO(userSampleRate int, latency time.Duration) *AudioIO {
	userBufferSize := getChunkSize(DefaultFrequency, latency, 2, 1) * 2
	userBuffer := ringbuffer.New(userBufferSize).SetBlocking(true)

	agentBufferSize := getChunkSize(DefaultFrequency, 60*time.Second, 2, 1) * 2
	agentBuffer := ringbuffer.New(agentBufferSize).SetBlocking(true)

	return &AudioIO{
		agentBuffer:      agentBuffer,
		agentInputReader: NewFixedAudioChunkReader(userBuffer, DefaultFrequency, latency, 2, 1),
		agentOutputWriter: &ResampleWriter{
			Sink:     agentBuffer,
			FromRate: DefaultFrequency,
			ToRate:   userSampleRate,
		},
		userOutputReader: NewFixedAudioChunkReader(agentBuffer, userSampleRate, latency, 2, 1),
		userInputWriter: &ResampleWriter{
			Sink:     userBuffer,
			FromRate: userSampleRate,
			ToRate:   DefaultFrequency,
		},
	}
}

// ClearOutputBuffer drops any agent audio that has not been played yet, used
// when the user barges in.
func (a *AudioIO) ClearOutputBuffer() {
	a.agentBuffer.Reset()
}

// WriteAgentAudio feeds decoded agent speech into the playback path.
func (a *AudioIO) WriteAgentAudio(data []byte) {
	_, _ = a.agentOutputWriter.Write(data)
}

func (a *AudioIO) UserInputWriter() io.Writer  { return a.userInputWriter }
func (a *AudioIO) UserOutputReader() io.Reader { return a.userOutputReader }
func (a *AudioIO) AgentInputReader() io.Reader { return a.agentInputReader }
