package composer

import "strings"

const closingDirective = "Please return only the JSON object as instructed. Do not include any extra explanation."

// Input carries the parts of a triage prompt. Resolution and Context are
// optional and omitted from the prompt when empty.
type Input struct {
	FormatInstructions string
	Title              string
	Description        string
	Resolution         string
	Context            string
}

// Prompt is a system/user prompt pair ready for a completion engine.
type Prompt struct {
	System string
	User   string
}

// Build assembles the prompt pair for a bug report. The user prompt carries,
// in order: format directives, title, description, resolution, context,
// the persona instruction block and the closing JSON-only directive.
// Identical input always yields byte-identical output.
func Build(p Persona, in Input) Prompt {
	p = p.orDefault()

	var sb strings.Builder
	if in.FormatInstructions != "" {
		sb.WriteString(in.FormatInstructions)
		sb.WriteString("\n\n")
	}

	sb.WriteString("BUG REPORT:\n")
	sb.WriteString("Title: ")
	sb.WriteString(in.Title)
	sb.WriteString("\n\nDescription: ")
	sb.WriteString(in.Description)
	sb.WriteString("\n\n")

	if strings.TrimSpace(in.Resolution) != "" {
		sb.WriteString("Resolution notes: ")
		sb.WriteString(in.Resolution)
		sb.WriteString("\n\n")
	}

	if in.Context != "" {
		sb.WriteString("SIMILAR HISTORICAL BUGS:\n")
		sb.WriteString(in.Context)
		sb.WriteString("\n\n")
	}

	sb.WriteString(p.instructions)
	sb.WriteString("\n\n")
	sb.WriteString(closingDirective)

	return Prompt{System: p.system, User: sb.String()}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
