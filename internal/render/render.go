// Package render turns template content into the message a recipient
// receives: variable substitution, plain-text fallback, link rewriting and
// the open-tracking pixel.
package render

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/osteele/liquid"
)

// Content is a subject plus HTML and text bodies.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer substitutes recipient variables with Liquid. Missing variables
// render empty. A template Liquid cannot parse falls back to literal
// {{name}} replacement so a stray brace never blocks a send.
type Renderer struct {
	engine *liquid.Engine
	log    *logger.Logger
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && s == "" {
			return fallback
		}
		return value
	})
	return &Renderer{engine: engine, log: logger.With("component", "render.Renderer")}
}

// Render fills every field of c. When c.Text is empty the result's Text is
// derived from the rendered HTML.
func (r *Renderer) Render(c Content, rc *domain.RenderContext) Content {
	vars := Variables(rc)
	out := Content{
		Subject: r.renderString(c.Subject, vars),
		HTML:    r.renderString(c.HTML, vars),
		Text:    r.renderString(c.Text, vars),
	}
	if strings.TrimSpace(out.Text) == "" {
		out.Text = HTMLToText(out.HTML)
	}
	return out
}

func (r *Renderer) renderString(tmpl string, vars map[string]interface{}) string {
	if tmpl == "" || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	out, err := r.engine.ParseAndRenderString(tmpl, vars)
	if err != nil {
		r.log.Debug("liquid render failed, using literal replacement", "error", err.Error())
		return ReplaceLiteral(tmpl, vars)
	}
	return out
}

// Variables builds the substitution map for one recipient.
func Variables(rc *domain.RenderContext) map[string]interface{} {
	if rc == nil {
		return map[string]interface{}{}
	}
	vars := map[string]interface{}{
		"first_name":   rc.Contact.FirstName,
		"last_name":    rc.Contact.LastName,
		"full_name":    rc.Contact.FullName(),
		"email":        rc.Contact.Email,
		"lead_name":    rc.Lead.Name,
		"organization": rc.Organization,
		"owner_name":   rc.OwnerName,
		"owner_email":  rc.OwnerEmail,
		"deal_title":   "",
		"deal_value":   "",
		"deal_stage":   "",
	}
	if rc.Deal != nil {
		vars["deal_title"] = rc.Deal.Title
		vars["deal_value"] = strconv.FormatFloat(rc.Deal.Value, 'f', -1, 64)
		vars["deal_stage"] = rc.Deal.Stage
	}
	custom := make(map[string]interface{}, len(rc.CustomFields))
	for k, v := range rc.CustomFields {
		custom[k] = v
		vars["custom_"+k] = v
	}
	vars["custom"] = custom
	return vars
}

var tokenRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// ReplaceLiteral substitutes {{name}} and {{custom.key}} tokens without a
// template engine. Unknown tokens become empty.
func ReplaceLiteral(tmpl string, vars map[string]interface{}) string {
	return tokenRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := tokenRe.FindStringSubmatch(m)[1]
		if key, ok := strings.CutPrefix(name, "custom."); ok {
			if custom, ok := vars["custom"].(map[string]interface{}); ok {
				if v, ok := custom[key].(string); ok {
					return v
				}
			}
			return ""
		}
		if v, ok := vars[name].(string); ok {
			return v
		}
		return ""
	})
}
