package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// ListCampaigns handles GET /api/campaigns?status=&search=&page=&limit=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := parsePageQuery(r, 50, 200)
	list, total, err := h.Campaigns.List(r.Context(), GetOrgID(r), campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  q.Limit,
		Offset: q.offset(),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, newPage(list, q, total))
}

// CreateCampaign handles POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.Campaigns.Create(r.Context(), GetOrgID(r), GetUserID(r), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign handles GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Campaigns.Get(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.Campaigns.Update(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.Campaigns.Delete(r.Context(), GetOrgID(r), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// SendCampaign handles POST /api/campaigns/{id}/send
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	res, err := h.Campaigns.SendNow(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), GetUserID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Accepted(w, res)
}

type scheduleRequest struct {
	SendAt *time.Time         `json:"send_at"`
	Window *domain.SendWindow `json:"send_window,omitempty"`
}

// ScheduleCampaign handles POST /api/campaigns/{id}/schedule
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SendAt == nil {
		httputil.BadRequest(w, "send_at is required")
		return
	}
	c, err := h.Campaigns.Schedule(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), *req.SendAt, req.Window)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

// UnscheduleCampaign handles POST /api/campaigns/{id}/unschedule
func (h *Handlers) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Campaigns.Unschedule(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

// CloneCampaign handles POST /api/campaigns/{id}/clone
func (h *Handlers) CloneCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Campaigns.Clone(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), GetUserID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, c)
}

// ApplyWinner handles POST /api/campaigns/{id}/ab/winner
func (h *Handlers) ApplyWinner(w http.ResponseWriter, r *http.Request) {
	winner, stats, err := h.Campaigns.ApplyWinner(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"winner":   winner,
		"variants": stats,
	})
}

// SendRemainder handles POST /api/campaigns/{id}/ab/remainder
func (h *Handlers) SendRemainder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Campaigns.SendRemainder(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), GetUserID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Accepted(w, res)
}
