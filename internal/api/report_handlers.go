package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/report"
)

// SendLog handles GET /api/campaigns/{id}/sends?format=json|csv
func (h *Handlers) SendLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := h.Reports.SendLog(r.Context(), GetOrgID(r), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "csv":
		httputil.CSV(w, fmt.Sprintf("campaign-%s-sends.csv", id), report.SendLogHeader, report.SendLogRecords(rows))
	case "", "json":
		if rows == nil {
			rows = []report.SendLogRow{}
		}
		httputil.OK(w, map[string]interface{}{"sends": rows, "total": len(rows)})
	default:
		httputil.BadRequest(w, "format must be json or csv")
	}
}

// ExportSendLog handles POST /api/campaigns/{id}/sends/export
func (h *Handlers) ExportSendLog(w http.ResponseWriter, r *http.Request) {
	if h.Exporter == nil {
		respondError(w, http.StatusServiceUnavailable, "report export is not configured")
		return
	}
	orgID, id := GetOrgID(r), chi.URLParam(r, "id")
	rows, err := h.Reports.SendLog(r.Context(), orgID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	key, err := h.Exporter.Export(r.Context(), orgID, id, rows)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"key": key, "rows": len(rows)})
}

// LinkClicks handles GET /api/campaigns/{id}/links
func (h *Handlers) LinkClicks(w http.ResponseWriter, r *http.Request) {
	links, err := h.Reports.LinkClicks(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if links == nil {
		links = []report.LinkStats{}
	}
	httputil.OK(w, map[string]interface{}{"links": links})
}

// Failures handles GET /api/campaigns/{id}/failures
func (h *Handlers) Failures(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.Failures(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []report.Failure{}
	}
	httputil.OK(w, map[string]interface{}{"failures": list, "total": len(list)})
}

// Summary handles GET /api/campaigns/{id}/summary
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Reports.Summary(r.Context(), GetOrgID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, sum)
}
