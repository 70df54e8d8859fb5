package domain

import (
	"strings"
	"time"
)

// SuppressionKind distinguishes an exact address block from a whole-domain block.
type SuppressionKind string

const (
	SuppressEmail  SuppressionKind = "email"
	SuppressDomain SuppressionKind = "domain"
)

// Valid reports whether k is a known kind.
func (k SuppressionKind) Valid() bool {
	return k == SuppressEmail || k == SuppressDomain
}

// SuppressionEntry is a permanently blocked email address or domain,
// independent of any campaign.
type SuppressionEntry struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Kind           SuppressionKind `json:"type" db:"kind"`
	Value          string          `json:"value" db:"value"`
	Reason         string          `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// EmailDomain returns the lowercased part after the last "@", or "".
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[i+1:]))
}
