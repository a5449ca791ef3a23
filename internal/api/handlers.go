// Package api exposes HTTP handlers for upkeep.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"example.com/upkeep/internal/domain"
)

const maxBodyBytes = 1 << 16

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  logrus.FieldLogger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /activities/all", h.allActivities)
	mux.HandleFunc("GET /activities/{section}", h.sectionActivities)
	mux.HandleFunc("POST /complete/{section}/{activity...}", h.completeActivity)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) allActivities(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.All(r.Context(), h.service.Now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityViews(views))
}

func (h *Handler) sectionActivities(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	views, err := h.service.Section(r.Context(), section, h.service.Now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityViews(views))
}

func (h *Handler) completeActivity(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	activity := decodeActivity(r.PathValue("activity"))

	req, err := decodeCompleteRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.service.Complete(r.Context(), domain.CompleteInput{
		Section:     section,
		Activity:    activity,
		RequestedAt: req.requestedAt(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CompleteResponse{Status: "success", Datetime: result.Timestamp()})
}

// decodeActivity undoes a second round of percent-encoding that clients apply
// to names containing '/'. Names that are not valid escapes are kept as sent.
func decodeActivity(raw string) string {
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func decodeCompleteRequest(r *http.Request) (CompleteRequest, error) {
	var req CompleteRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return req, errors.New("unable to read body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return req, nil
	}
	if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
		return req, errors.New("unable to parse body")
	}
	return req, nil
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path})
	switch {
	case errors.Is(err, domain.ErrUnknownSection):
		writeError(w, http.StatusNotFound, "unknown_section", err.Error())
	case errors.Is(err, domain.ErrInvalidActivity):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		logger.Warn("section busy")
		writeError(w, http.StatusServiceUnavailable, "section_busy", "section is locked by another completion, retry later")
	case errors.Is(err, domain.ErrStorageUnavailable):
		logger.Error("storage unavailable")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "section storage is unreadable")
	default:
		logger.Error("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// CompleteRequest is the optional payload for POST /complete/{section}/{activity}.
// Datetime is normally a "YYYY-MM-DD HH:MM:SS" string; any other JSON value is
// treated as an unparseable time and replaced by the clock.
type CompleteRequest struct {
	Datetime any `json:"datetime"`
}

func (r CompleteRequest) requestedAt() *string {
	switch v := r.Datetime.(type) {
	case nil:
		return nil
	case string:
		return &v
	default:
		raw, err := sonic.ConfigStd.MarshalToString(v)
		if err != nil {
			raw = fmt.Sprint(v)
		}
		return &raw
	}
}

// CompleteResponse describes the response body for a completion.
type CompleteResponse struct {
	Status   string `json:"status"`
	Datetime string `json:"datetime"`
}

// ActivityView is the wire form of one activity's status.
type ActivityView struct {
	Activity string  `json:"activity"`
	Progress float64 `json:"progress"`
	Color    string  `json:"color"`
	Text     string  `json:"text"`
	IsZero   bool    `json:"is_zero"`
	Section  string  `json:"section"`
}

func toActivityViews(views []domain.ActivityView) []ActivityView {
	out := make([]ActivityView, 0, len(views))
	for _, v := range views {
		out = append(out, ActivityView{
			Activity: v.Name,
			Progress: v.Progress,
			Color:    v.Color.String(),
			Text:     v.Text(),
			IsZero:   v.Due,
			Section:  v.Section,
		})
	}
	return out
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
