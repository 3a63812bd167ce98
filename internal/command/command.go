// ABOUTME: Remote command vocabulary and validation shared by coordinator and agent.
// ABOUTME: Unknown kinds and missing required parameters are rejected before enqueue.

package command

import (
	"errors"
	"fmt"
)

// Command kinds understood by the fleet. Both delivery channels (heartbeat
// poll and push socket) carry the same vocabulary.
const (
	KindPlay               = "play"
	KindPause              = "pause"
	KindStop               = "stop"
	KindRestart            = "restart"
	KindNextSlide          = "next_slide"
	KindPrevSlide          = "prev_slide"
	KindGotoSlide          = "goto_slide"
	KindAssignPresentation = "assign_presentation"
	KindReboot             = "reboot"
	KindUpdateApp          = "update_app"
)

// Validation errors
var (
	ErrUnknownKind   = errors.New("unknown command kind")
	ErrInvalidParams = errors.New("invalid command parameters")
)

var knownKinds = map[string]bool{
	KindPlay:               true,
	KindPause:              true,
	KindStop:               true,
	KindRestart:            true,
	KindNextSlide:          true,
	KindPrevSlide:          true,
	KindGotoSlide:          true,
	KindAssignPresentation: true,
	KindReboot:             true,
	KindUpdateApp:          true,
}

// Validate checks a kind against the fixed vocabulary and verifies the
// parameters it requires. JSON numbers arrive as float64.
func Validate(kind string, params map[string]any) error {
	if !knownKinds[kind] {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	switch kind {
	case KindGotoSlide:
		idx, ok := numberParam(params, "slide_index")
		if !ok {
			return fmt.Errorf("%w: goto_slide requires slide_index", ErrInvalidParams)
		}
		if idx < 0 {
			return fmt.Errorf("%w: slide_index must be >= 0", ErrInvalidParams)
		}
	case KindAssignPresentation:
		id, ok := params["presentation_id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("%w: assign_presentation requires presentation_id", ErrInvalidParams)
		}
	}
	return nil
}

// SlideIndex extracts the slide_index parameter of a goto_slide command.
func SlideIndex(params map[string]any) (int, bool) {
	n, ok := numberParam(params, "slide_index")
	return int(n), ok
}

// PresentationID extracts the presentation_id parameter of an
// assign_presentation command.
func PresentationID(params map[string]any) (string, bool) {
	id, ok := params["presentation_id"].(string)
	return id, ok && id != ""
}

func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
