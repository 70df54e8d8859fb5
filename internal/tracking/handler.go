package tracking

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

const unsubscribedPage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>You have been unsubscribed</h1>
<p>You will no longer receive these emails.</p>
</body></html>`

// confirmPage asks before unsubscribing; link scanners prefetch GETs.
var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>Unsubscribe</h1>
<p>Stop receiving these emails?</p>
<form method="post" action="">
<input type="hidden" name="token" value="{{.}}">
<input type="hidden" name="confirm" value="1">
<button type="submit">Unsubscribe</button>
</form>
</body></html>`))

type Handler struct {
	rec *Recorder
	log *logger.Logger
}

func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec, log: logger.With("component", "tracking.Handler")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{token}", h.HandleOpen)
	r.Get("/click/{linkID}", h.HandleClick)
	r.Get("/unsubscribe", h.HandleUnsubscribeForm)
	r.Post("/unsubscribe", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen always answers with the pixel, whatever the outcome.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	outcome, err := h.rec.RecordOpen(r.Context(), token, meta(r))
	if err != nil {
		h.log.Error("open not recorded", "error", err)
	} else {
		h.log.Debug("open", "outcome", string(outcome))
	}
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")
	dest, outcome, err := h.rec.RecordClick(r.Context(), linkID, meta(r))
	if err != nil {
		h.log.Error("click not recorded", "link_id", linkID, "error", err)
	}
	if dest == "" {
		httputil.NotFound(w, "link not found")
		return
	}
	h.log.Debug("click", "link_id", linkID, "outcome", string(outcome))
	http.Redirect(w, r, dest, http.StatusFound)
}

// HandleUnsubscribeForm serves the link in the message body. It only
// renders a confirmation form; nothing is suppressed until it is posted.
func (h *Handler) HandleUnsubscribeForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.BadRequest(w, "missing token")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := confirmPage.Execute(w, token); err != nil {
		h.log.Error("render unsubscribe form", "error", err)
	}
}

// HandleUnsubscribe suppresses the recipient. It answers RFC 8058
// one-click requests from mail clients with a bare 200 and the submitted
// confirmation form with a page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// FormValue reads the body first, then the query string
	token := r.FormValue("token")
	if token == "" {
		httputil.BadRequest(w, "missing token")
		return
	}
	outcome, err := h.rec.Unsubscribe(r.Context(), token)
	if err != nil {
		h.log.Error("unsubscribe failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "unsubscribe failed, please try again")
		return
	}
	if outcome == OutcomeNotFound {
		httputil.NotFound(w, "link not found")
		return
	}
	if r.PostFormValue("confirm") == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(unsubscribedPage))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func meta(r *http.Request) Meta {
	return Meta{IP: realIP(r), UserAgent: r.UserAgent()}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	if ua == "" {
		return "unknown"
	}
	return "desktop"
}
