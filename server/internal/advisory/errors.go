package advisory

import (
	"errors"
	"fmt"

	"github.com/calmsignal/calmsignal/server/internal/store"
)

var (
	// ErrUnknownSubject is returned for a subject that has never sent a reading.
	ErrUnknownSubject = store.ErrUnknownSubject

	// ErrGeneratorUnavailable is returned when a generation is needed but no
	// generator is configured (for example, a missing API credential).
	ErrGeneratorUnavailable = errors.New("advice generator not configured")

	// ErrGenerationFailed matches every *GenerationError via errors.Is.
	ErrGenerationFailed = errors.New("advice generation failed")
)

// GenerationError reports a failed or timed-out generator call.
type GenerationError struct {
	SubjectID string
	Cause     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("advisory %q: %v: %v", e.SubjectID, ErrGenerationFailed, e.Cause)
}

// Unwrap returns the generator's error.
func (e *GenerationError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrGenerationFailed) true for any GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }
