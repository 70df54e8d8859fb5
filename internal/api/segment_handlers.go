package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/segment"
)

const (
	defaultSampleSize = 25
	maxSampleSize     = 1000
)

func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Segments.List(r.Context(), GetOrgID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []segment.Segment{}
	}
	httputil.OK(w, map[string]interface{}{"segments": list})
}

func (h *Handlers) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var in segment.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	s, err := h.Segments.Create(r.Context(), GetOrgID(r), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, s)
}

func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	s, err := h.Segments.Get(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, s)
}

func (h *Handlers) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var in segment.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	s, err := h.Segments.Update(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, s)
}

func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.Segments.Delete(r.Context(), GetOrgID(r), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

type previewRequest struct {
	Filter segment.Filter `json:"filter"`
	Limit  int            `json:"limit"`
}

// PreviewSegment evaluates an unsaved filter: total count plus a sample.
func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Filter.Validate(); err != nil {
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSampleSize
	}
	if limit > maxSampleSize {
		limit = maxSampleSize
	}
	total, sample, err := h.Resolver.Preview(r.Context(), GetOrgID(r), req.Filter, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if sample == nil {
		sample = []domain.Recipient{}
	}
	httputil.OK(w, map[string]interface{}{"total": total, "sample": sample})
}

// SegmentRecipients resolves a saved segment, exclusion applied.
func (h *Handlers) SegmentRecipients(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultSampleSize, maxSampleSize)
	list, err := h.Resolver.Resolve(r.Context(), GetOrgID(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Recipient{}
	}
	httputil.OK(w, map[string]interface{}{"recipients": list, "count": len(list)})
}
