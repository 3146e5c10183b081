package gateway

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// DefaultPromptTemplate is the instruction sent with every image. The hint is
// available as {{.Hint}} and {{.HasHint}}.
const DefaultPromptTemplate = `Determine where this photo was taken.

Analyze the image on its own first, using visual landmarks, architecture, signage, vegetation, terrain and other geography.
{{if .HasHint}}
The user suggests the photo may be from: "{{.Hint}}".
Treat this hint as advisory only. Use it to disambiguate when your visual analysis is inconclusive, but never let it override a confident visual determination. State whether the hint helped, was irrelevant, or was contradicted by the image.
{{else}}
No location hint was provided; rely on the image alone.
{{end}}
If the image is AI generated, a screenshot, or otherwise not a real-world photo, reply with "Invalid image" and a short reason, and do not guess a location.

If you identify a real-world location, name the most specific place first (building, street or landmark), followed by the city and country, then give your confidence as "Accuracy: N%".

If the location cannot be determined, reply with "Unable to determine location" and a brief reason.

Keep the explanation under 35 words. Reply in plain text and never use the * character.`

// Prompt renders the instruction text for one analysis.
type Prompt struct {
	tmpl *template.Template
}

type promptData struct {
	Hint    string
	HasHint bool
}

// NewPrompt parses text as a prompt template. An empty text selects
// DefaultPromptTemplate.
func NewPrompt(text string) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render produces the instruction text for hint.
func (p *Prompt) Render(hint string) (string, error) {
	hint = strings.TrimSpace(hint)
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, promptData{Hint: hint, HasHint: hint != ""}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
