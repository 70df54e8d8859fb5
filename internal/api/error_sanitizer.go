package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/report"
	"github.com/ignite/campaign-engine/internal/segment"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

var errLog = logger.With("component", "api")

func respondJSON(w http.ResponseWriter, status int, data any) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	httputil.Error(w, status, msg)
}

// errorMapping ties a sentinel to its HTTP status and machine code. The
// first match wins, so wrapped sentinels resolve through errors.Is.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{campaign.ErrNotFound, http.StatusNotFound, "not_found"},
	{segment.ErrNotFound, http.StatusNotFound, "not_found"},
	{suppression.ErrNotFound, http.StatusNotFound, "not_found"},
	{report.ErrNotFound, http.StatusNotFound, "not_found"},

	{campaign.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{segment.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter"},
	{suppression.ErrInvalidEntry, http.StatusBadRequest, "invalid_entry"},

	{campaign.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{campaign.ErrBusy, http.StatusConflict, "busy"},
	{campaign.ErrRemainderSent, http.StatusConflict, "remainder_sent"},
	{segment.ErrInUse, http.StatusConflict, "segment_in_use"},

	{campaign.ErrScheduleInPast, http.StatusUnprocessableEntity, "schedule_in_past"},
	{campaign.ErrOutsideSendWindow, http.StatusUnprocessableEntity, "outside_send_window"},
	{campaign.ErrNoRecipients, http.StatusUnprocessableEntity, "no_recipients"},
	{campaign.ErrNoWinner, http.StatusUnprocessableEntity, "no_winner"},
	{campaign.ErrNotABTest, http.StatusUnprocessableEntity, "not_ab_test"},
	{campaign.ErrMissingTemplate, http.StatusUnprocessableEntity, "missing_template"},
	{campaign.ErrUnsupportedChannel, http.StatusUnprocessableEntity, "unsupported_channel"},
	{segment.ErrExclusionCycle, http.StatusUnprocessableEntity, "exclusion_cycle"},
}

// respondServiceError renders a service error. Known sentinels become 4xx
// with the error text; anything else is logged and answered with a
// generic 500 so internals never reach the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			httputil.ErrorCode(w, m.status, m.code, err.Error())
			return
		}
	}
	errLog.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"org_id", GetOrgID(r),
		"error", err,
	)
	respondError(w, http.StatusInternalServerError, "internal server error")
}
