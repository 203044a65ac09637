package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/workflow"
)

// AuthService is the slice of the auth package the server needs.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// DisputeService is the orchestrator surface exposed over HTTP.
type DisputeService interface {
	Intake(ctx context.Context, params workflow.IntakeParams) (dispute.Dispute, error)
	State(ctx context.Context, id string) (workflow.StateView, error)
	Cancel(ctx context.Context, id, cancelledBy, reason string) (dispute.Dispute, error)
	InjectManualEvidence(ctx context.Context, id string, params workflow.ManualEvidenceParams) (evidence.Fragment, error)
}

// caller identifies the authenticated user behind a request.
type caller struct {
	userID string
	role   auth.Role
}

// Server routes the HTTP API.
type Server struct {
	authService    AuthService
	disputeService DisputeService
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/disputes", s.requireAuth(s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.requireAuth(s.handleDispute))
	return mux
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, caller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, caller{userID: userID, role: role})
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": result.Token})
}

type intakeRequest struct {
	ReasonCode     string `json:"reason_code"`
	TransactionRef string `json:"transaction_ref"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	FiledAt        string `json:"filed_at,omitempty"`
}

type disputeResponse struct {
	ID               string `json:"id"`
	Phase            string `json:"phase"`
	Classification   string `json:"classification,omitempty"`
	ReasonCode       string `json:"reason_code"`
	TransactionRef   string `json:"transaction_ref"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	FiledAt          string `json:"filed_at"`
	DeadlineAt       string `json:"deadline_at"`
	EnhancedEligible bool   `json:"enhanced_eligible"`
	ExternalCaseRef  string `json:"external_case_ref,omitempty"`
	Version          int64  `json:"version"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:               d.ID,
		Phase:            string(d.Phase),
		Classification:   d.Classification,
		ReasonCode:       d.ReasonCode,
		TransactionRef:   d.TransactionRef,
		AmountCents:      d.AmountCents,
		Currency:         d.Currency,
		FiledAt:          d.FiledAt.Format(time.RFC3339),
		DeadlineAt:       d.DeadlineAt.Format(time.RFC3339),
		EnhancedEligible: d.EnhancedEligible,
		Version:          d.Version,
	}
	if d.ExternalCaseRef != nil {
		resp.ExternalCaseRef = *d.ExternalCaseRef
	}
	return resp
}

// handleDisputes covers POST /api/disputes (intake).
func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request, _ caller) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := workflow.IntakeParams{
		ReasonCode:     req.ReasonCode,
		TransactionRef: req.TransactionRef,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
	}
	if req.FiledAt != "" {
		filed, err := time.Parse(time.RFC3339, req.FiledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "filed_at must be RFC3339")
			return
		}
		params.FiledAt = filed
	}

	d, err := s.disputeService.Intake(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

type eventResponse struct {
	Seq       int64           `json:"seq"`
	Event     string          `json:"event"`
	FromPhase string          `json:"from_phase"`
	ToPhase   string          `json:"to_phase"`
	Reason    string          `json:"reason,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type manualEvidenceRequest struct {
	Kind        string          `json:"kind"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	CollectedAt string          `json:"collected_at,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// handleDispute covers GET /api/disputes/{id},
// POST /api/disputes/{id}/evidence (operators) and
// POST /api/disputes/{id}/cancel (reviewers).
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request, c caller) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "dispute id required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleState(w, r, id)
	case sub == "evidence" && r.Method == http.MethodPost:
		if c.role != auth.RoleOperator {
			writeError(w, http.StatusForbidden, "manual evidence requires the operator role")
			return
		}
		s.handleManualEvidence(w, r, id)
	case sub == "cancel" && r.Method == http.MethodPost:
		if c.role != auth.RoleReviewer {
			writeError(w, http.StatusForbidden, "cancelling a dispute requires the reviewer role")
			return
		}
		s.handleCancel(w, r, id, c)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string, c caller) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	d, err := s.disputeService.Cancel(r.Context(), id, c.userID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, workflow.ErrWrongPhase):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.disputeService.State(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispute not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	trail := make([]eventResponse, 0, len(view.Trail))
	for _, e := range view.Trail {
		trail = append(trail, eventResponse{
			Seq:       e.Seq,
			Event:     string(e.Event),
			FromPhase: string(e.FromPhase),
			ToPhase:   string(e.ToPhase),
			Reason:    e.Reason,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispute": toDisputeResponse(view.Dispute),
		"trail":   trail,
	})
}

func (s *Server) handleManualEvidence(w http.ResponseWriter, r *http.Request, id string) {
	var req manualEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := workflow.ManualEvidenceParams{
		Kind:    evidence.Kind(req.Kind),
		Source:  req.Source,
		Payload: req.Payload,
	}
	if req.CollectedAt != "" {
		collected, err := time.Parse(time.RFC3339, req.CollectedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "collected_at must be RFC3339")
			return
		}
		params.CollectedAt = collected
	}

	frag, err := s.disputeService.InjectManualEvidence(r.Context(), id, params)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, workflow.ErrWrongPhase):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   frag.ID,
		"kind": frag.Kind,
		"hash": frag.PayloadHash,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
