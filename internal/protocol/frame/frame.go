package frame

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StartMarker   = "#90"
	PayloadMarker = "#27"
	EndMarker     = "#91"

	// ResultStatus is the fixed status code carried by every result frame.
	ResultStatus = "#010102"
	// NoRead is the payload broadcast when producers disagree or none reported.
	NoRead = "NoRead"

	FieldSeparator = ";"
	FieldCount     = 2
)

var (
	ErrFrameFormat = errors.New("frame: invalid frame format")
	ErrFieldCount  = errors.New("frame: invalid field count")
)

// Frame is one decoded wire line.
type Frame struct {
	// Status is the raw text between the start marker and the payload marker.
	Status  string
	Payload string
	Fields  [FieldCount]string
}

// Limits constrains line decode memory use.
type Limits struct {
	// MaxLineBytes caps one buffered line including its terminator.
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes: 64 * 1024,
	}
}

// Parse decodes one line of wire text. Trailing CR/LF is ignored.
func Parse(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, StartMarker) || !strings.HasSuffix(line, EndMarker) {
		return Frame{}, fmt.Errorf("%w: missing %s/%s markers", ErrFrameFormat, StartMarker, EndMarker)
	}

	idx := strings.Index(line, PayloadMarker)
	if idx < 0 {
		return Frame{}, fmt.Errorf("%w: missing %s payload marker", ErrFrameFormat, PayloadMarker)
	}
	start := idx + len(PayloadMarker)
	end := strings.LastIndex(line, EndMarker)
	if start > end {
		return Frame{}, fmt.Errorf("%w: payload marker after end marker", ErrFrameFormat)
	}

	payload := line[start:end]
	parts := strings.Split(payload, FieldSeparator)
	if len(parts) != FieldCount {
		return Frame{}, fmt.Errorf("%w: got=%d want=%d", ErrFieldCount, len(parts), FieldCount)
	}

	out := Frame{
		Status:  line[len(StartMarker):idx],
		Payload: payload,
	}
	copy(out.Fields[:], parts)
	return out, nil
}

// JoinFields renders two fields as one payload string.
func JoinFields(a, b string) string {
	return a + FieldSeparator + b
}

// EncodeResult renders the result frame for an agreed payload, or NoRead when
// payload is empty.
func EncodeResult(payload string) string {
	if payload == "" {
		payload = NoRead
	}
	return StartMarker + ResultStatus + PayloadMarker + payload + EndMarker
}
