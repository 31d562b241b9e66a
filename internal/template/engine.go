// Package template renders campaign message templates against lead fields.
// Placeholders use {{field}} syntax; an unresolved placeholder is left
// literal so a typo in a campaign never blocks a send.
package template

import (
	"regexp"

	"github.com/zapline/zapline/internal/crm"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Engine renders templates with lead data
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render substitutes lead fields into the template. Built-in fields
// (name, phone, email) take precedence over custom fields of the same
// name.
func (e *Engine) Render(tmpl string, lead *crm.Lead) string {
	if lead == nil {
		return tmpl
	}

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		field := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := lookupField(lead, field); ok {
			return value
		}
		return match
	})
}

func lookupField(lead *crm.Lead, field string) (string, bool) {
	switch field {
	case "name":
		return lead.Name, lead.Name != ""
	case "phone":
		return lead.Phone, lead.Phone != ""
	case "email":
		return lead.Email, lead.Email != ""
	}
	value, ok := lead.Fields[field]
	return value, ok
}
