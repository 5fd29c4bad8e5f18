package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"constructlink/internal/models"
	"constructlink/internal/workflow"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "Idempotency-Key"
	submissionWindow  = time.Minute
	defaultListLimit  = 50
	maxListLimit      = 500
)

type submitItemBody struct {
	AssetID        int64      `json:"asset_id"`
	AssetName      string     `json:"asset_name"`
	Quantity       int        `json:"quantity"`
	SerialNumber   string     `json:"serial_number"`
	ExpectedReturn *time.Time `json:"expected_return"`
}

type submitBody struct {
	BorrowerName    string           `json:"borrower_name"`
	BorrowerContact string           `json:"borrower_contact"`
	BorrowerProject string           `json:"borrower_project"`
	Purpose         string           `json:"purpose"`
	Notes           string           `json:"notes"`
	Items           []submitItemBody `json:"items"`
}

type itemDataBody struct {
	ItemID       int64  `json:"item_id"`
	SerialNumber string `json:"serial_number"`
}

type transitionBody struct {
	Transition     string         `json:"transition"`
	Notes          string         `json:"notes"`
	Reason         string         `json:"reason"`
	ActualReturn   *time.Time     `json:"actual_return"`
	Items          []itemDataBody `json:"items"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type scheduleItemBody struct {
	ItemID         int64     `json:"item_id"`
	ExpectedReturn time.Time `json:"expected_return"`
}

type scheduleBody struct {
	Items          []scheduleItemBody `json:"items"`
	Notes          string             `json:"notes"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type batchResponse struct {
	*models.BatchSnapshot
	AvailableTransitions []models.Transition `json:"available_transitions"`
}

type errorResponse struct {
	Error         string        `json:"error"`
	Message       string        `json:"message"`
	Field         string        `json:"field,omitempty"`
	CurrentStatus models.Status `json:"current_status,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok || !s.allowWrite(w, r, actor) {
		return
	}

	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}

	req := workflow.SubmitRequest{
		Actor:           actor,
		BorrowerName:    body.BorrowerName,
		BorrowerContact: body.BorrowerContact,
		BorrowerProject: body.BorrowerProject,
		Purpose:         body.Purpose,
		Notes:           body.Notes,
	}
	for _, it := range body.Items {
		req.Items = append(req.Items, workflow.SubmitItem{
			AssetID:        it.AssetID,
			AssetName:      it.AssetName,
			Quantity:       it.Quantity,
			SerialNumber:   it.SerialNumber,
			ExpectedReturn: it.ExpectedReturn,
		})
	}

	snap, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/batches/%d", snap.Batch.ID))
	writeJSON(w, http.StatusCreated, s.batchResponse(snap, actor))
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	snaps, err := s.engine.ListBatches(r.Context(), filter)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}

	out := make([]batchResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, s.batchResponse(snap, actor))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out, "count": len(out)})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	snap, err := s.engine.GetSnapshot(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.batchResponse(snap, actor))
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := batchID(w, r)
	if !ok || !s.allowWrite(w, r, actor) {
		return
	}

	var body transitionBody
	if !decodeBody(w, r, &body) {
		return
	}
	kind, err := models.ParseTransition(body.Transition)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	req := workflow.TransitionRequest{
		BatchID:        id,
		Kind:           kind,
		Actor:          actor,
		Notes:          body.Notes,
		Reason:         body.Reason,
		ActualReturn:   body.ActualReturn,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
	}
	for _, it := range body.Items {
		req.Items = append(req.Items, workflow.ItemData{ItemID: it.ItemID, SerialNumber: it.SerialNumber})
	}

	snap, err := s.engine.ApplyTransition(r.Context(), req)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.batchResponse(snap, actor))
}

func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := batchID(w, r)
	if !ok || !s.allowWrite(w, r, actor) {
		return
	}

	var body scheduleBody
	if !decodeBody(w, r, &body) {
		return
	}

	req := workflow.ScheduleRequest{
		BatchID:        id,
		Actor:          actor,
		Notes:          body.Notes,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
	}
	for _, it := range body.Items {
		req.Items = append(req.Items, workflow.ItemSchedule{ItemID: it.ItemID, ExpectedReturn: it.ExpectedReturn})
	}

	snap, err := s.engine.SetExpectedReturns(r.Context(), req)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.batchResponse(snap, actor))
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r); !ok {
		return
	}
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	entries, err := s.engine.History(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": id, "entries": entries})
}

func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated actor")
	}
	return actor, ok
}

// allowWrite applies the per-actor write quota. Limiter errors fail open.
func (s *HTTPServer) allowWrite(w http.ResponseWriter, r *http.Request, actor models.Actor) bool {
	limit := s.cfg.RateLimit.SubmissionsPerMinute
	if s.limiter == nil || limit <= 0 {
		return true
	}
	allowed, err := s.limiter.CheckRateLimit(r.Context(), actor.ID, limit, submissionWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("actor_id", actor.ID).Msg("Write quota check failed, allowing request")
		return true
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many workflow changes, try again later")
		return false
	}
	return true
}

func (s *HTTPServer) batchResponse(snap *models.BatchSnapshot, actor models.Actor) batchResponse {
	available := s.engine.AvailableTransitions(snap, actor.Role)
	if available == nil {
		available = []models.Transition{}
	}
	return batchResponse{BatchSnapshot: snap, AvailableTransitions: available}
}

func (s *HTTPServer) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	we, ok := workflow.AsError(err)
	if !ok {
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	resp := errorResponse{Message: we.Message, Field: we.Field, CurrentStatus: we.Current}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrInvalidState):
		status, resp.Error = http.StatusConflict, "invalid_state"
	case errors.Is(err, workflow.ErrUnauthorized):
		status, resp.Error = http.StatusForbidden, "unauthorized"
	case errors.Is(err, workflow.ErrGuardFailed):
		status, resp.Error = http.StatusUnprocessableEntity, "guard_failed"
	case errors.Is(err, workflow.ErrConsistency):
		resp.Error, resp.Message = "consistency", "batch data is inconsistent"
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("Consistency error")
	default:
		resp.Error = "internal"
	}
	writeJSON(w, status, resp)
}

func parseFilter(r *http.Request) (models.BatchFilter, error) {
	q := r.URL.Query()
	filter := models.BatchFilter{
		BorrowerName:    strings.TrimSpace(q.Get("borrower")),
		BorrowerProject: strings.TrimSpace(q.Get("project")),
		Limit:           defaultListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = st
	}
	if raw := q.Get("created_by"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid created_by %q", raw)
		}
		filter.CreatedBy = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = min(n, maxListLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = n
	}
	return filter, nil
}

func batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid batch id")
		return 0, false
	}
	return id, true
}

// idempotencyKey prefers the header over the body field.
func idempotencyKey(r *http.Request, fromBody string) string {
	if k := strings.TrimSpace(r.Header.Get(idempotencyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(fromBody)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: code, Message: message})
}
