package voice

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/ports/adapter"
	"merch-copilot/internal/infra/metrics"
)

// Capture format: 16 kHz mono signed 16-bit PCM.
const (
	sampleRate     = 16000
	bytesPerSecond = sampleRate * 2
)

// Recorder produces a raw PCM stream from the host microphone.
type Recorder interface {
	Available() bool
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Transcriber turns captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// Compile-time check
var _ adapter.SpeechRecognizer = (*Recognizer)(nil)

// Recognizer implements the speech port over an external recorder process and
// a speech-to-text backend. The capture is read in fixed segments; after each
// segment the whole utterance so far is re-transcribed and pushed to the
// sink, which gives the grow-and-replace interim-result behavior the callers
// expect.
type Recognizer struct {
	rec      Recorder
	tr       Transcriber
	language string
	segment  time.Duration
	maxDur   time.Duration
	log      *zerolog.Logger

	mu        sync.Mutex
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRecognizer(rec Recorder, tr Transcriber, language string, segment, maxDuration time.Duration, logger *zerolog.Logger) *Recognizer {
	if segment <= 0 {
		segment = 3 * time.Second
	}
	if maxDuration <= 0 {
		maxDuration = 30 * time.Second
	}
	return &Recognizer{
		rec:      rec,
		tr:       tr,
		language: language,
		segment:  segment,
		maxDur:   maxDuration,
		log:      logger,
	}
}

// Supported is decided once per construction inputs: a recorder that can run
// on this host plus a configured transcriber.
func (r *Recognizer) Supported() bool {
	return r.rec != nil && r.tr != nil && r.rec.Available()
}

func (r *Recognizer) Start(ctx context.Context, sink adapter.TranscriptSink) error {
	if !r.Supported() {
		metrics.IncVoiceSession("rejected")
		return domain.ErrRecognizerUnsupported
	}

	r.mu.Lock()
	if r.listening {
		r.mu.Unlock()
		metrics.IncVoiceSession("rejected")
		return domain.ErrRecognizerBusy
	}
	sessCtx, cancel := context.WithTimeout(ctx, r.maxDur)
	r.listening = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	stream, err := r.rec.Open(sessCtx)
	if err != nil {
		// Capture errors end the session silently; the caller only sees the
		// listening affordance go away.
		r.debug(err, "voice capture failed to open")
		r.finish(cancel, done)
		metrics.IncVoiceSession("failed")
		return nil
	}

	go r.capture(sessCtx, cancel, done, stream, sink)
	return nil
}

func (r *Recognizer) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (r *Recognizer) capture(ctx context.Context, cancel context.CancelFunc, done chan struct{}, stream io.ReadCloser, sink adapter.TranscriptSink) {
	defer r.finish(cancel, done)
	defer stream.Close()

	segBytes := int(r.segment.Seconds() * bytesPerSecond)
	if segBytes <= 0 {
		segBytes = bytesPerSecond
	}

	var pcm []byte
	buf := make([]byte, segBytes)
	result := "completed"
	for {
		n, err := io.ReadFull(stream, buf)
		pcm = append(pcm, buf[:n]...)

		if len(pcm) > 0 {
			text, terr := r.tr.Transcribe(ctx, wavContainer(pcm), r.language)
			if terr != nil {
				if ctx.Err() == nil {
					r.debug(terr, "transcription failed")
					result = "failed"
				}
				break
			}
			if text != "" {
				sink(text)
			}
		}

		if err != nil || ctx.Err() != nil {
			// end of capture (recorder exit, Stop, or timeout)
			break
		}
	}
	metrics.IncVoiceSession(result)
}

// debug tolerates a nil logger.
func (r *Recognizer) debug(err error, msg string) {
	if r.log != nil {
		r.log.Debug().Err(err).Msg(msg)
	}
}

func (r *Recognizer) finish(cancel context.CancelFunc, done chan struct{}) {
	cancel()
	r.mu.Lock()
	if r.done == done {
		r.listening = false
		r.cancel = nil
		r.done = nil
	}
	r.mu.Unlock()
	close(done)
}

// wavContainer wraps raw PCM in a minimal RIFF/WAVE header so the
// transcription backend accepts it.
func wavContainer(pcm []byte) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], bytesPerSecond)
	binary.LittleEndian.PutUint16(out[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
