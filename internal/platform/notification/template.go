package notification

import (
	"fmt"
	"strings"
	"sync"
)

const TemplateCaseAssigned = "case-assigned"

// Template is a push message with {{key}} placeholders.
type Template struct {
	ID    string
	Title string
	Body  string
	URL   string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.Register(Template{
		ID:    TemplateCaseAssigned,
		Title: "New Case Assigned",
		Body:  "You've been assigned to a new case: {{patient_name}} at {{location}}.",
		URL:   "/paramedic/case/{{case_id}}",
	})
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Placeholders without a value
// are left as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (title, body, url string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", id)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Body), r.Replace(t.URL), nil
}
