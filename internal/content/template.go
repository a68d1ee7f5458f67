// Package content resolves the subject/body for an outbound send, either by
// rendering a job template against a recipient's merge fields or by looking
// up a pre-authored draft. Resolution failures are terminal for the
// recipient; they are never retried.
package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateService renders Liquid templates with a parse cache. Placeholders
// like {{ first_name }} are merged from recipient fields; a parse or render
// error surfaces as a resolution failure, not a crash.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewTemplateService creates a template service with the filters the
// outreach templates rely on.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// Default value filter: {{ first_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})
}

// Render merges fields into the given template source.
func (ts *TemplateService) Render(source string, fields map[string]any) (string, error) {
	tpl, err := ts.parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tpl.RenderString(fields)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func (ts *TemplateService) parse(source string) (*liquid.Template, error) {
	if cached, ok := ts.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := ts.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	ts.cache.Store(source, tpl)
	return tpl, nil
}
