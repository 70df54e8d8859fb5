package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

type suppressionRequest struct {
	Type   domain.SuppressionKind `json:"type"`
	Value  string                 `json:"value"`
	Reason string                 `json:"reason"`
}

func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Suppressions.List(r.Context(), GetOrgID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.SuppressionEntry{}
	}
	httputil.OK(w, map[string]interface{}{"entries": list, "total": len(list)})
}

// AddSuppression is idempotent: re-adding an entry returns the stored one.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	e, err := h.Suppressions.AddEntry(r.Context(), GetOrgID(r), req.Type, req.Value, req.Reason)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, e)
}

func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	if err := h.Suppressions.RemoveEntry(r.Context(), GetOrgID(r), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}
