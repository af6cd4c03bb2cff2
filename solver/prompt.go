package solver

import (
	"bytes"
	"fmt"
	"text/template"
)

// DefaultPrompt is the system prompt shared by the draft and solve nodes.
// Retrieved examples are appended when present.
const DefaultPrompt = `You are a world-class competitive programmer.
Please reply with a Python 3 solution to the problem below.
First, reason through the problem and conceptualize a solution.
Then write detailed pseudocode to uncover any potential logical errors or omissions.
Finally output the working Python code for your solution, ensuring to fix any errors uncovered while writing pseudocode.

No outside libraries are allowed.{{with .Examples}}
{{.}}{{end}}`

// Prompt is a parsed system prompt template. The template sees a single
// field, .Examples.
type Prompt struct {
	tmpl *template.Template
}

// NewPrompt parses text as a system prompt template.
func NewPrompt(text string) (*Prompt, error) {
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// MustPrompt is NewPrompt that panics on error, for package-level prompts.
func MustPrompt(text string) *Prompt {
	p, err := NewPrompt(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes the template with the given examples text.
func (p *Prompt) Render(examples string) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, struct{ Examples string }{examples}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

var defaultPrompt = MustPrompt(DefaultPrompt)
