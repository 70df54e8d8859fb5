// Package api is the operator-facing HTTP surface: segments, campaigns,
// suppression and delivery reports. Every route is scoped to the caller's
// organization.
package api

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/report"
	"github.com/ignite/campaign-engine/internal/segment"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// CampaignService is the campaign lifecycle the handlers drive.
type CampaignService interface {
	Get(ctx context.Context, orgID, id string) (*domain.Campaign, error)
	List(ctx context.Context, orgID string, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, orgID, userID string, in campaign.Input) (*domain.Campaign, error)
	Update(ctx context.Context, orgID, id string, in campaign.Input) (*domain.Campaign, error)
	Delete(ctx context.Context, orgID, id string) error
	Schedule(ctx context.Context, orgID, id string, sendAt time.Time, window *domain.SendWindow) (*domain.Campaign, error)
	Unschedule(ctx context.Context, orgID, id string) (*domain.Campaign, error)
	Clone(ctx context.Context, orgID, id, userID string) (*domain.Campaign, error)
	SendNow(ctx context.Context, orgID, id, userID string) (*campaign.EnqueueResult, error)
	ApplyWinner(ctx context.Context, orgID, id string) (string, []domain.VariantStats, error)
	SendRemainder(ctx context.Context, orgID, id, userID string) (*campaign.EnqueueResult, error)
}

// SegmentService is segment CRUD.
type SegmentService interface {
	Create(ctx context.Context, orgID string, in segment.Input) (*segment.Segment, error)
	Get(ctx context.Context, orgID, id string) (*segment.Segment, error)
	List(ctx context.Context, orgID string) ([]segment.Segment, error)
	Update(ctx context.Context, orgID, id string, in segment.Input) (*segment.Segment, error)
	Delete(ctx context.Context, orgID, id string) error
}

// SegmentResolver evaluates saved and unsaved filters.
type SegmentResolver interface {
	Resolve(ctx context.Context, orgID, segmentID string, limit int) ([]domain.Recipient, error)
	Preview(ctx context.Context, orgID string, f segment.Filter, limit int) (int, []domain.Recipient, error)
}

// SuppressionService manages the org's suppression list.
type SuppressionService interface {
	List(ctx context.Context, orgID string) ([]domain.SuppressionEntry, error)
	AddEntry(ctx context.Context, orgID string, kind domain.SuppressionKind, value, reason string) (*domain.SuppressionEntry, error)
	RemoveEntry(ctx context.Context, orgID, id string) error
}

// ReportService serves the read-only delivery views.
type ReportService interface {
	SendLog(ctx context.Context, orgID, campaignID string) ([]report.SendLogRow, error)
	LinkClicks(ctx context.Context, orgID, campaignID string) ([]report.LinkStats, error)
	Failures(ctx context.Context, orgID, campaignID string) ([]report.Failure, error)
	Summary(ctx context.Context, orgID, campaignID string) (*report.Summary, error)
}

// ReportExporter uploads a send log and returns the object key.
type ReportExporter interface {
	Export(ctx context.Context, orgID, campaignID string, rows []report.SendLogRow) (string, error)
}

// Handlers holds the services behind the operator routes. Exporter is
// optional; export answers 503 without it.
type Handlers struct {
	Campaigns    CampaignService
	Segments     SegmentService
	Resolver     SegmentResolver
	Suppressions SuppressionService
	Reports      ReportService
	Exporter     ReportExporter
}
