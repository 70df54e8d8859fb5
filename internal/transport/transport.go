// Package transport sends rendered messages through a mail provider.
package transport

import (
	"context"
	"fmt"
)

// Message is one rendered email.
type Message struct {
	To                 string
	Subject            string
	HTML               string
	Text               string
	FromName           string
	FromEmail          string
	ReplyTo            string
	ListUnsubscribeURL string
	Headers            map[string]string
	Tags               map[string]string
}

// Transport delivers a message and returns the provider's message id.
// Errors are treated as transient by the caller.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

func (m Message) from() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail)
}

// headers merges custom headers with List-Unsubscribe.
func (m Message) headers() map[string]string {
	h := make(map[string]string, len(m.Headers)+2)
	for k, v := range m.Headers {
		h[k] = v
	}
	if m.ListUnsubscribeURL != "" {
		h["List-Unsubscribe"] = "<" + m.ListUnsubscribeURL + ">"
		h["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}
	return h
}
