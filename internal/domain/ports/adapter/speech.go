package adapter

import "context"

// TranscriptSink receives the concatenation of all transcript segments
// captured so far. It may fire several times per utterance with growing text;
// callers must treat every call as "replace the current draft", not append.
type TranscriptSink func(text string)

// SpeechRecognizer is the port for voice capture. An implementation that
// cannot run on this host reports Supported() == false and turns Start into
// an error; callers surface that as a disabled control, not a failure.
type SpeechRecognizer interface {
	Supported() bool

	// Start opens one exclusive listening session. It returns
	// domain.ErrRecognizerBusy while a session is active and
	// domain.ErrRecognizerUnsupported when the capability is absent.
	// The session ends on Stop, context cancellation, end of capture, or any
	// capture error; errors are swallowed after logging.
	Start(ctx context.Context, sink TranscriptSink) error

	// Stop ends the active session, if any.
	Stop()
}
