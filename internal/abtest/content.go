package abtest

import "github.com/ignite/campaign-engine/internal/domain"

// Content is the subject and bodies a send renders from.
type Content struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// FirstPresent returns the first non-nil value, or "" when all are nil.
// An empty string that is present wins over later values.
func FirstPresent(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

// EffectiveContent resolves each field as variant override, then template
// default, then "". A missing variant or A/B config uses the template.
func EffectiveContent(t *domain.Template, ab *domain.ABConfig, variant string) Content {
	o := ab.Override(variant)
	if o == nil {
		o = &domain.VariantContent{}
	}
	var subject, html *string
	if t != nil {
		subject, html = &t.Subject, &t.HTMLBody
	}
	var text *string
	if t != nil {
		text = t.TextBody
	}
	return Content{
		Subject:  FirstPresent(o.Subject, subject),
		HTMLBody: FirstPresent(o.HTMLBody, html),
		TextBody: FirstPresent(o.TextBody, text),
	}
}
