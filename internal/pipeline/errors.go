package pipeline

import (
	"errors"
	"fmt"

	"github.com/kalambet/bugtriage/internal/suggestion"
)

// InputError reports a bug report that fails validation before any work is done.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports that suggestions cannot be produced with the
// current configuration, e.g. no model credential.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// UpstreamError reports that the language model call failed or timed out.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("language model %s call failed: %v", e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Outcome labels used in metrics, spans and logs.
const (
	OutcomeOK                 = "ok"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeConfiguration      = "configuration_error"
	OutcomeUpstream           = "upstream_error"
	OutcomeMalformedResponse  = "malformed_response"
	OutcomeValidationFailure  = "validation_error"
	OutcomeUnclassifiedFailed = "error"
)

// Outcome classifies err into one of the Outcome labels.
func Outcome(err error) string {
	var (
		inputErr     *InputError
		configErr    *ConfigurationError
		upstreamErr  *UpstreamError
		malformedErr *suggestion.MalformedResponseError
		validErr     *suggestion.ValidationError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &inputErr):
		return OutcomeInvalidInput
	case errors.As(err, &configErr):
		return OutcomeConfiguration
	case errors.As(err, &upstreamErr):
		return OutcomeUpstream
	case errors.As(err, &malformedErr):
		return OutcomeMalformedResponse
	case errors.As(err, &validErr):
		return OutcomeValidationFailure
	default:
		return OutcomeUnclassifiedFailed
	}
}
