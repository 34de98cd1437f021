package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adlift-labs/adlift-go/internal/platform/adplatform"
	"github.com/adlift-labs/adlift-go/internal/platform/auditlog"
	"github.com/adlift-labs/adlift-go/internal/platform/auth"
	"github.com/adlift-labs/adlift-go/internal/repo"
	"github.com/adlift-labs/adlift-go/internal/service/experiments"
)

type experimentsAPI struct {
	logger  *slog.Logger
	service *experiments.Service
	audit   auditlog.Appender
}

func newExperimentsAPI(logger *slog.Logger, service *experiments.Service, audit auditlog.Appender) *experimentsAPI {
	return &experimentsAPI{
		logger:  logger,
		service: service,
		audit:   audit,
	}
}

func (api *experimentsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /experiments", api.handleStartExperiment)
	mux.HandleFunc("POST /experiments/{experiment_action}", api.handleExperimentAction)
	mux.HandleFunc("GET /experiments/status", api.handleStatus)
	mux.HandleFunc("GET /experiments/results", api.handleResults)
	mux.HandleFunc("DELETE /experiments/{experiment_id}", api.handleDeleteExperiment)
}

type startExperimentRequest struct {
	TenantID         string   `json:"tenant_id"`
	SubAccountID     string   `json:"sub_account_id,omitempty"`
	CreativeID       string   `json:"creative_id,omitempty"`
	CreativeIDs      []string `json:"creative_ids,omitempty"`
	Objective        string   `json:"objective,omitempty"`
	TotalBudgetCents int64    `json:"total_budget_cents,omitempty"`
	TotalImpressions int64    `json:"total_impressions,omitempty"`
	Force            bool     `json:"force,omitempty"`
}

type experimentItem struct {
	CreativeID       string `json:"creative_id"`
	AdSetID          string `json:"adset_id"`
	AdID             string `json:"ad_id"`
	BudgetCents      int64  `json:"budget_cents"`
	ImpressionTarget int64  `json:"impression_target"`
}

type startExperimentResponse struct {
	TestID     string           `json:"test_id"`
	CampaignID string           `json:"campaign_id"`
	AB         bool             `json:"ab"`
	Items      []experimentItem `json:"items"`
}

func (api *experimentsAPI) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	var req startExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		api.writeError(w, r, http.StatusBadRequest, "tenant_id_required", nil)
		return
	}
	creativeIDs := req.CreativeIDs
	if len(creativeIDs) == 0 && strings.TrimSpace(req.CreativeID) != "" {
		creativeIDs = []string{req.CreativeID}
	}

	result, err := api.service.Start(r.Context(), experiments.StartRequest{
		TenantID:         tenantID,
		SubAccountRef:    req.SubAccountID,
		CreativeIDs:      creativeIDs,
		Objective:        strings.TrimSpace(req.Objective),
		TotalBudgetCents: req.TotalBudgetCents,
		TotalImpressions: req.TotalImpressions,
		Force:            req.Force,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	api.appendAudit(r, "experiment.started", "experiment", result.ExperimentID, map[string]any{
		"tenant_id":    tenantID,
		"creative_ids": creativeIDs,
		"campaign_id":  result.CampaignID,
		"ab":           result.AB,
		"force":        req.Force,
	})
	api.writeJSON(w, http.StatusOK, startExperimentResponse{
		TestID:     result.ExperimentID,
		CampaignID: result.CampaignID,
		AB:         result.AB,
		Items:      startItems(result.Items),
	})
}

type checkItem struct {
	CreativeID  string `json:"creative_id"`
	AdID        string `json:"ad_id"`
	Impressions int64  `json:"impressions"`
	SpendCents  int64  `json:"spend_cents"`
	Results     int64  `json:"results"`
}

type checkResponse struct {
	Completed        bool        `json:"completed"`
	Analyzed         *bool       `json:"analyzed,omitempty"`
	TotalImpressions int64       `json:"total_impressions"`
	Items            []checkItem `json:"items"`
}

// handleExperimentAction dispatches "POST /experiments/{id}:action". The
// segment carries the experiment id and the action separated by a colon.
func (api *experimentsAPI) handleExperimentAction(w http.ResponseWriter, r *http.Request) {
	segment := r.PathValue("experiment_action")
	experimentID, action, found := strings.Cut(segment, ":")
	if !found || strings.TrimSpace(experimentID) == "" {
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
		return
	}
	switch action {
	case "check":
		api.handleCheckExperiment(w, r, experimentID)
	default:
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
	}
}

func (api *experimentsAPI) handleCheckExperiment(w http.ResponseWriter, r *http.Request, experimentID string) {
	result, err := api.service.Check(r.Context(), experimentID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	if result.Completed && result.Analyzed != nil {
		api.appendAudit(r, "experiment.completed", "experiment", experimentID, map[string]any{
			"total_impressions": result.TotalImpressions,
			"analyzed":          *result.Analyzed,
		})
	}

	resp := checkResponse{
		Completed:        result.Completed,
		Analyzed:         result.Analyzed,
		TotalImpressions: result.TotalImpressions,
		Items:            make([]checkItem, 0, len(result.Items)),
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, checkItem{
			CreativeID:  item.CreativeID,
			AdID:        item.AdID,
			Impressions: item.Impressions,
			SpendCents:  item.SpendCents,
			Results:     item.Results,
		})
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type experimentView struct {
	ExperimentID     string     `json:"experiment_id"`
	AB               bool       `json:"ab"`
	TenantID         string     `json:"tenant_id"`
	SubAccountID     string     `json:"sub_account_id,omitempty"`
	CreativeID       string     `json:"creative_id,omitempty"`
	CampaignID       string     `json:"campaign_id"`
	AdSetID          string     `json:"adset_id,omitempty"`
	AdID             string     `json:"ad_id,omitempty"`
	Status           string     `json:"status"`
	ImpressionTarget int64      `json:"impression_target"`
	Impressions      int64      `json:"impressions"`
	SpendCents       int64      `json:"spend_cents"`
	Results          int64      `json:"results"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (api *experimentsAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 200), 1, 1000)
	views, err := api.service.ListRunning(r.Context(), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]experimentView, 0, len(views))
	for _, view := range views {
		out = append(out, viewJSON(view))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

func (api *experimentsAPI) handleResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tenantID := strings.TrimSpace(query.Get("tenant_id"))
	creativeID := strings.TrimSpace(query.Get("creative_id"))
	if tenantID == "" {
		api.writeError(w, r, http.StatusBadRequest, "tenant_id_required", nil)
		return
	}
	if creativeID == "" {
		api.writeError(w, r, http.StatusBadRequest, "creative_id_required", nil)
		return
	}

	view, err := api.service.Results(r.Context(), tenantID, query.Get("sub_account_id"), creativeID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewJSON(view))
}

func (api *experimentsAPI) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("experiment_id")
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		api.writeError(w, r, http.StatusBadRequest, "tenant_id_required", nil)
		return
	}

	if err := api.service.Delete(r.Context(), tenantID, experimentID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	api.appendAudit(r, "experiment.deleted", "experiment", experimentID, map[string]any{
		"tenant_id": tenantID,
	})
	api.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func startItems(items []experiments.StartItem) []experimentItem {
	out := make([]experimentItem, 0, len(items))
	for _, item := range items {
		out = append(out, experimentItem{
			CreativeID:       item.CreativeID,
			AdSetID:          item.AdSetID,
			AdID:             item.AdID,
			BudgetCents:      item.BudgetCents,
			ImpressionTarget: item.ImpressionTarget,
		})
	}
	return out
}

func viewJSON(view experiments.ExperimentView) experimentView {
	return experimentView{
		ExperimentID:     view.ID,
		AB:               view.AB,
		TenantID:         view.TenantID,
		SubAccountID:     view.AdAccountID,
		CreativeID:       view.CreativeID,
		CampaignID:       view.CampaignID,
		AdSetID:          view.AdSetID,
		AdID:             view.AdID,
		Status:           string(view.Status),
		ImpressionTarget: view.ImpressionTarget,
		Impressions:      view.Metrics.Impressions,
		SpendCents:       view.Metrics.SpendCents,
		Results:          view.Metrics.Results,
		StartedAt:        view.StartedAt,
		CompletedAt:      view.CompletedAt,
	}
}

// writeServiceError maps lifecycle errors onto the API error taxonomy.
// Platform errors surface with the platform's own status when it is a valid
// HTTP error status.
func (api *experimentsAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := experiments.AsValidationError(err); ok {
		api.writeError(w, r, http.StatusBadRequest, "validation_failed", map[string]any{
			"reason": verr.Reason,
		})
		return
	}
	if cerr, ok := experiments.AsConflictError(err); ok {
		api.writeError(w, r, http.StatusConflict, "conflict", map[string]any{
			"experiment_ids": cerr.ExperimentIDs,
			"creative_ids":   cerr.CreativeIDs,
		})
		return
	}
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
		return
	}
	if perr, ok := adplatform.AsError(err); ok {
		status := perr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		api.writeError(w, r, status, "platform_error", map[string]any{
			"platform_code":    perr.Code,
			"platform_message": perr.Message,
			"creative_id":      perr.CreativeID,
		})
		return
	}
	api.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
		"error", err,
	)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
}

func (api *experimentsAPI) appendAudit(r *http.Request, action, resourceType, resourceID string, payload map[string]any) {
	if api.audit == nil {
		return
	}
	actor := "scheduler"
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.Subject) != "" {
		actor = identity.Subject
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = "experiments"
	payload["request_path"] = r.URL.Path
	payload["request_method"] = r.Method

	ctx, cancel := context.WithTimeout(r.Context(), 750*time.Millisecond)
	defer cancel()
	if _, err := api.audit.Append(ctx, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	}); err != nil {
		api.logger.Warn("audit append failed", "action", action, "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *experimentsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *experimentsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, detail map[string]any) {
	body := map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	}
	for key, value := range detail {
		body[key] = value
	}
	api.writeJSON(w, status, body)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
