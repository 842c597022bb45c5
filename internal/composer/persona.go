package composer

import "strings"

// Persona selects the framing of a triage prompt. The set is closed: use
// Developer or Business, or ParsePersona for caller-supplied values.
type Persona struct {
	name         string
	system       string
	instructions string
}

var (
	// Developer frames the bug technically: root cause and fix steps.
	Developer = Persona{
		name: "developer",
		system: "You are an expert software engineer and triage manager. " +
			"Analyze bug reports (title + description) and produce a helpful, concise technical suggestion " +
			"and a single priority level. The response MUST be strictly valid JSON matching the format instructions provided.",
		instructions: "INSTRUCTIONS:\n" +
			"- Identify the most likely root cause of the bug.\n" +
			"- Give concrete fix steps and point at the code areas to inspect.\n" +
			"- If a similar historical bug has a resolution that applies, reuse it and say so.\n" +
			"- Use HIGH for outages, data loss or security problems, MEDIUM for broken features " +
			"with a workaround, LOW for cosmetic or minor issues.",
	}

	// Business frames the bug for non-technical readers: impact, causes and
	// resolutions with light technical context.
	Business = Persona{
		name: "business",
		system: "You are an experienced business analyst and triage manager. " +
			"Analyze bug reports (title + description) and explain them for non-technical stakeholders, " +
			"adding only light technical context, then assign a single priority level. " +
			"The response MUST be strictly valid JSON matching the format instructions provided.",
		instructions: "INSTRUCTIONS:\n" +
			"- Describe the impact on users and on the business.\n" +
			"- Summarize the likely causes in plain language.\n" +
			"- Outline possible resolutions, drawing on similar historical bugs when they apply.\n" +
			"- Use HIGH when customers or revenue are affected now, MEDIUM when a feature is degraded, " +
			"LOW when the impact is cosmetic or limited.",
	}
)

// ParsePersona maps a user type such as "developer" or "Business" to a
// Persona. Unknown or empty values fall back to Developer.
func ParsePersona(s string) Persona {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case Business.name:
		return Business
	default:
		return Developer
	}
}

// Name returns the wire name of the persona.
func (p Persona) Name() string {
	return p.orDefault().name
}

// SystemPrompt returns the persona's system prompt.
func (p Persona) SystemPrompt() string {
	return p.orDefault().system
}

func (p Persona) orDefault() Persona {
	if p.name == "" {
		return Developer
	}
	return p
}
