package signal

import (
	"errors"
	"strings"

	"github.com/optrelay/signal-relay/internal/types"
)

// Parse errors. Callers must not clear the upstream artifact on any of these;
// the bad line stays in place for operator inspection.
var (
	ErrTooFewFields          = errors.New("signal line has fewer than 3 comma-separated fields")
	ErrEmptyAsset            = errors.New("signal line has an empty asset field")
	ErrUnrecognizedDirection = errors.New("signal message contains no recognized direction keyword")
)

// Keyword lists are scanned in order and the buy list is scanned first.
// A message matching both lists therefore resolves to RISE; the order is a
// deliberate tie-break and must not be reordered.
var (
	buyKeywords  = []string{"buy", "call", "rise", "long", "up", "bull"}
	sellKeywords = []string{"sell", "put", "fall", "short", "down", "bear"}
)

// Directive is the normalized form of a raw signal line.
type Directive struct {
	Asset     string
	Type      types.Direction
	RawText   string
	Timestamp string
}

// Parse converts one trimmed signal line of the form ASSET,MESSAGE,TIMESTAMP
// into a Directive. Extra fields beyond the third are ignored. Parse does no
// I/O and never consumes its input.
func Parse(line string) (Directive, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Directive{}, ErrTooFewFields
	}

	asset := strings.TrimSpace(fields[0])
	if asset == "" {
		return Directive{}, ErrEmptyAsset
	}

	message := strings.ToLower(fields[1])

	direction, ok := scanDirection(message)
	if !ok {
		return Directive{}, ErrUnrecognizedDirection
	}

	return Directive{
		Asset:     asset,
		Type:      direction,
		RawText:   line,
		Timestamp: strings.TrimSpace(fields[2]),
	}, nil
}

func scanDirection(message string) (types.Direction, bool) {
	for _, kw := range buyKeywords {
		if strings.Contains(message, kw) {
			return types.DirectionRise, true
		}
	}
	for _, kw := range sellKeywords {
		if strings.Contains(message, kw) {
			return types.DirectionFall, true
		}
	}
	return "", false
}
