// Package report serves the read-only views of a campaign's delivery:
// the per-send log, per-link click breakdown, failures and totals.
package report

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the campaign does not exist in the org.
var ErrNotFound = errors.New("campaign not found")

// Send statuses shown in the log.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// SendLogRow is one CampaignSend with its engagement.
type SendLogRow struct {
	SendID            string     `json:"send_id"`
	LeadID            string     `json:"lead_id"`
	ContactID         string     `json:"contact_id"`
	Email             string     `json:"email"`
	Variant           string     `json:"variant,omitempty"`
	Status            string     `json:"status"`
	SentAt            *time.Time `json:"sent_at"`
	FailedAt          *time.Time `json:"failed_at"`
	LastError         string     `json:"last_error,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	OpenedAt          *time.Time `json:"opened_at"`
	Clicks            int        `json:"clicks"`
}

// LinkStats is the click breakdown of one destination URL.
type LinkStats struct {
	URL            string `json:"url"`
	Clicks         int    `json:"clicks"`
	UniqueClickers int    `json:"unique_clickers"`
	// Median seconds from delivery to a recipient's first click, nil when
	// nobody clicked.
	MedianFirstClickSeconds *float64 `json:"median_first_click_seconds"`
}

// Failure is a send that exhausted its attempts or was dropped.
type Failure struct {
	SendID    string    `json:"send_id"`
	Email     string    `json:"email"`
	Variant   string    `json:"variant,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
	LastError string    `json:"last_error"`
}

// Summary holds campaign-level totals.
type Summary struct {
	CampaignID   string  `json:"campaign_id"`
	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Failed       int     `json:"failed"`
	Pending      int     `json:"pending"`
	UniqueOpens  int     `json:"unique_opens"`
	Clicks       int     `json:"clicks"`
	UniqueClicks int     `json:"unique_clicks"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// Repository reads report data. Every method scopes by org and returns
// ErrNotFound for a campaign outside it.
type Repository interface {
	SendLog(ctx context.Context, orgID, campaignID string) ([]SendLogRow, error)
	LinkClicks(ctx context.Context, orgID, campaignID string) ([]LinkStats, error)
	Failures(ctx context.Context, orgID, campaignID string) ([]Failure, error)
	Summary(ctx context.Context, orgID, campaignID string) (*Summary, error)
}

// Service wraps a Repository and derives rates.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) SendLog(ctx context.Context, orgID, campaignID string) ([]SendLogRow, error) {
	return s.repo.SendLog(ctx, orgID, campaignID)
}

func (s *Service) LinkClicks(ctx context.Context, orgID, campaignID string) ([]LinkStats, error) {
	return s.repo.LinkClicks(ctx, orgID, campaignID)
}

func (s *Service) Failures(ctx context.Context, orgID, campaignID string) ([]Failure, error) {
	return s.repo.Failures(ctx, orgID, campaignID)
}

// Summary returns totals with open and click rates over delivered sends.
func (s *Service) Summary(ctx context.Context, orgID, campaignID string) (*Summary, error) {
	sum, err := s.repo.Summary(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	sum.Pending = sum.Total - sum.Sent - sum.Failed
	if sum.Sent > 0 {
		sum.OpenRate = float64(sum.UniqueOpens) / float64(sum.Sent)
		sum.ClickRate = float64(sum.UniqueClicks) / float64(sum.Sent)
	}
	return sum, nil
}
