package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/wata-gh/prdash/internal/domain"
	"github.com/wata-gh/prdash/internal/gateway"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HealthHandler handles GET /api/health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AnalyzeRequest is the JSON body of POST /api/analyze. Users is the raw
// comma-separated string; parsing happens here at the boundary.
type AnalyzeRequest struct {
	Token string `json:"token"`
	Org   string `json:"org"`
	Users string `json:"users"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// ErrorResponse is the JSON error payload. Retryable marks rate-limit and
// transient failures where trying again later may succeed.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// DashboardHandler serves the dashboard page and the analyze endpoint.
type DashboardHandler struct {
	newRunner    RunnerFactory
	defaultToken string
	logger       *log.Logger
}

// NewDashboardHandler creates a DashboardHandler. logger may be nil, in
// which case logging is discarded.
func NewDashboardHandler(newRunner RunnerFactory, defaultToken string, logger *log.Logger) *DashboardHandler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DashboardHandler{
		newRunner:    newRunner,
		defaultToken: defaultToken,
		logger:       logger,
	}
}

// pageData feeds the dashboard template.
type pageData struct {
	DefaultToken string
	DefaultFrom  string
	DefaultTo    string
}

// Page handles GET / and renders the dashboard shell. The date inputs
// default to the last 30 days.
func (h *DashboardHandler) Page(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	data := pageData{
		DefaultToken: h.defaultToken,
		DefaultFrom:  now.AddDate(0, 0, -30).Format(domain.DateLayout),
		DefaultTo:    now.Format(domain.DateLayout),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		h.logger.Printf("Failed to render dashboard: %v", err)
	}
}

// Analyze handles POST /api/analyze: parse and validate the inputs, run one
// analysis and return the full result. Every failure becomes a JSON error
// with a status matching the error taxonomy; nothing here panics the server.
func (h *DashboardHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}

	req, err := h.buildRequest(body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	runner, err := h.newRunner(req.Token)
	if err != nil {
		h.logger.Printf("Failed to build runner: %v", err)
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to initialize GitHub client"})
		return
	}

	result, err := runner.Analyze(r.Context(), req)
	if err != nil {
		h.logger.Printf("Analysis failed: %v", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// buildRequest converts the raw JSON body into a validated AnalysisRequest.
func (h *DashboardHandler) buildRequest(body AnalyzeRequest) (domain.AnalysisRequest, error) {
	token := body.Token
	if token == "" {
		token = h.defaultToken
	}

	from, err := time.Parse(domain.DateLayout, body.From)
	if err != nil {
		return domain.AnalysisRequest{}, fmt.Errorf("invalid from date %q, expected YYYY-MM-DD", body.From)
	}
	to, err := time.Parse(domain.DateLayout, body.To)
	if err != nil {
		return domain.AnalysisRequest{}, fmt.Errorf("invalid to date %q, expected YYYY-MM-DD", body.To)
	}
	window, err := domain.NewDateWindow(from, to)
	if err != nil {
		return domain.AnalysisRequest{}, err
	}

	req := domain.AnalysisRequest{
		Token:  token,
		Org:    body.Org,
		Users:  domain.ParseUsernames(body.Users),
		Window: window,
	}
	if err := req.Validate(); err != nil {
		return domain.AnalysisRequest{}, err
	}
	return req, nil
}

// respondError maps the gateway error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrAuthentication):
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrAuthorization):
		respondJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrRateLimited):
		respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Retryable: true})
	default:
		respondJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error(), Retryable: true})
	}
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
