package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/workflows/crm"
	"github.com/liamcoop/workflows/internal/logger"
	"github.com/liamcoop/workflows/multitenantengine"
	"github.com/liamcoop/workflows/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", TenantsLoaded: len(s.engineManager.ListTenants())}

	if err := s.ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) ping(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			return err
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	stored, err := s.engineManager.ListStoredTenants(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}

	loaded := make(map[string]bool)
	for _, id := range s.engineManager.ListTenants() {
		loaded[id] = true
	}

	resp := TenantsListResponse{Tenants: make([]TenantResponse, 0, len(stored))}
	for _, t := range stored {
		resp.Tenants = append(resp.Tenants, TenantResponse{
			ID:        t.ID,
			Name:      t.Name,
			Loaded:    loaded[t.ID],
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	t, err := s.engineManager.CreateTenant(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	respondJSON(w, http.StatusCreated, TenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		Loaded:    true,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	})
}

// Unloading drops the tenant's engine from this process. The stored tenant,
// rules and tasks are kept and load again on restart.
func (s *Server) handleUnloadTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if err := s.engineManager.DeleteTenant(tenantID); err != nil {
		respondServiceError(w, "failed to unload tenant", err)
		return
	}
	logger.Info("tenant unloaded", "tenant_id", tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// Replacing the schema never rejects stored rules; rules whose fields no
// longer resolve are listed in the response.
func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req SchemaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	update, err := s.engineManager.UpdateTenantSchema(r.Context(), tenantID, req.Definition)
	if err != nil {
		respondServiceError(w, "failed to update schema", err)
		return
	}
	respondJSON(w, http.StatusOK, update)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	sv, err := s.engineManager.GetSchemaVersion(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, "failed to get schema", err)
		return
	}
	if sv == nil {
		respondError(w, http.StatusNotFound, "schema not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, SchemaResponse{
		Version:    sv.Version,
		Definition: sv.Definition,
		CreatedAt:  sv.CreatedAt,
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	rule := &rules.Rule{
		ID:           req.ID,
		Name:         req.Name,
		TriggerEvent: req.TriggerEvent,
		Active:       req.Active == nil || *req.Active,
		Conditions:   req.Conditions,
		Actions:      req.Actions,
	}
	if err := engine.AddRule(r.Context(), rule); err != nil {
		respondServiceError(w, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, s.ruleResponse(tenantID, rule))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	var list []*rules.Rule
	if r.URL.Query().Get("active") == "true" {
		list, err = engine.ListActiveRules(r.Context())
	} else {
		list, err = engine.ListRules(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	rule, err := engine.GetRule(r.Context(), ruleID)
	if err != nil {
		respondServiceError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, s.ruleResponse(tenantID, rule))
}

// Omitted fields keep their stored values
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	existing, err := engine.GetRule(r.Context(), ruleID)
	if err != nil {
		respondServiceError(w, "failed to get rule", err)
		return
	}

	rule := *existing
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.TriggerEvent != "" {
		rule.TriggerEvent = req.TriggerEvent
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}

	if err := engine.UpdateRule(r.Context(), &rule); err != nil {
		respondServiceError(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, s.ruleResponse(tenantID, &rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	if err := engine.DeleteRule(r.Context(), ruleID); err != nil {
		respondServiceError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "event is required", nil)
		return
	}
	if len(req.Entity) == 0 {
		respondError(w, http.StatusBadRequest, "entity is required", nil)
		return
	}

	entity, err := crm.DecodeEntity(req.Entity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid entity", err)
		return
	}
	// Tasks are filed under the entity's tenant, so it must be this one
	if v, ok := entity.Attribute(rules.TenantAttribute); ok {
		if owner, _ := v.(string); owner != "" && owner != tenantID {
			respondError(w, http.StatusBadRequest, "entity belongs to another tenant", nil)
			return
		}
	}

	start := time.Now()
	results, err := s.engineManager.ProcessEvent(r.Context(), tenantID, req.Event, entity, req.Actor)
	if err != nil {
		respondServiceError(w, "event processing failed", err)
		return
	}

	respondJSON(w, http.StatusOK, newEventResponse(results, time.Since(start)))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	tasks, err := s.engineManager.ListTasks(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, "failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*rules.Task{}
	}
	respondJSON(w, http.StatusOK, TasksListResponse{Tasks: tasks})
}

func (s *Server) ruleResponse(tenantID string, rule *rules.Rule) RuleResponse {
	warnings, err := s.engineManager.CheckRule(tenantID, rule)
	if err != nil {
		logger.Warn("rule field check failed", "tenant_id", tenantID, "rule_id", rule.ID, "error", err)
	}
	return RuleResponse{Rule: rule, Warnings: warnings}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound), errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case rules.IsValidationError(err), errors.Is(err, multitenantengine.ErrInvalidSchema):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}
