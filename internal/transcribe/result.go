package transcribe

import "fmt"

// Kind classifies a recognition outcome.
type Kind int

const (
	// KindOK carries recognized text.
	KindOK Kind = iota
	// KindNotUnderstood means the audio decoded fine but no speech was
	// recognized in it.
	KindNotUnderstood
	// KindTransportError means the recognition service could not be reached.
	KindTransportError
)

// Recognition sentinels. The chat path treats adapter output as
// always-a-string, so degraded outcomes surface as literal reply text
// rather than errors.
const (
	notUnderstoodText  = "Could not understand audio"
	transportErrorText = "Could not request results from the speech recognition service"
)

// Result is the outcome of a transcription attempt. It collapses to a plain
// string via Text() at the pipeline boundary.
type Result struct {
	kind   Kind
	text   string
	detail string
}

func OK(text string) Result { return Result{kind: KindOK, text: text} }

func NotUnderstood() Result { return Result{kind: KindNotUnderstood} }

func TransportError(err error) Result {
	r := Result{kind: KindTransportError}
	if err != nil {
		r.detail = err.Error()
	}
	return r
}

func (r Result) Kind() Kind { return r.kind }

func (r Result) Recognized() bool { return r.kind == KindOK && r.text != "" }

// Text returns the recognized text, or a sentinel string for degraded
// outcomes. It never returns an empty string for non-OK kinds.
func (r Result) Text() string {
	switch r.kind {
	case KindOK:
		return r.text
	case KindNotUnderstood:
		return notUnderstoodText
	case KindTransportError:
		if r.detail != "" {
			return fmt.Sprintf("%s; %s", transportErrorText, r.detail)
		}
		return transportErrorText
	default:
		return ""
	}
}
