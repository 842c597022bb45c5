package suggestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Priority is the predicted urgency of a bug.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Priorities lists every accepted priority label in ascending urgency.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// NormalizePriority trims and uppercases s and checks it against the
// accepted labels. Normalizing a valid label returns it unchanged.
func NormalizePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Priorities {
		if p == known {
			return p, nil
		}
	}
	return "", &ValidationError{
		Field:  "predictedPriority",
		Reason: fmt.Sprintf("%q is not one of LOW, MEDIUM, HIGH", s),
	}
}

// Suggestion is a validated triage result returned to callers.
type Suggestion struct {
	Text     string   `json:"suggestion" jsonschema:"description=Concise triage advice for the bug report"`
	Priority Priority `json:"predictedPriority" jsonschema:"enum=LOW,enum=MEDIUM,enum=HIGH,description=Predicted priority of the bug"`
}

// New builds a Suggestion from raw field values, normalizing the priority.
func New(text, priority string) (Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return Suggestion{}, &ValidationError{Field: "suggestion", Reason: "must not be empty"}
	}
	p, err := NormalizePriority(priority)
	if err != nil {
		return Suggestion{}, err
	}
	return Suggestion{Text: text, Priority: p}, nil
}

var formatInstructions = sync.OnceValue(func() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(Suggestion{})
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// Reflecting a fixed struct cannot fail at runtime.
		panic(fmt.Sprintf("marshalling suggestion schema: %v", err))
	}

	var sb strings.Builder
	sb.WriteString("The output must be a single JSON object that conforms to the JSON schema below.\n")
	sb.WriteString("Use exactly the keys \"suggestion\" and \"predictedPriority\".\n")
	sb.WriteString("predictedPriority must be one of: LOW, MEDIUM, HIGH.\n\n")
	sb.WriteString("```json\n")
	sb.Write(b)
	sb.WriteString("\n```")
	return sb.String()
})

// FormatInstructions returns the output-format directive embedded in every
// prompt. The text is generated once from the Suggestion type and is stable
// across calls.
func FormatInstructions() string {
	return formatInstructions()
}
