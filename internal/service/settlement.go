package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra/clearing"
)

const sessionRPCTimeout = 30 * time.Second

// SessionRPC is the slice of the clearing client the settlement manager needs.
type SessionRPC interface {
	Authenticated() bool
	RequestByMethod(ctx context.Context, method string, params interface{}, timeout time.Duration) (*clearing.Response, error)
}

// SettlementService opens and closes multi-party clearing sessions for
// accepted orders. One session per order; closing happens at most once.
type SettlementService struct {
	rpc         SessionRPC
	application string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	session *domain.Session
	closing bool
}

// NewSettlementService creates the session manager bound to one application
// address on the clearing service.
func NewSettlementService(rpc SessionRPC, application string) *SettlementService {
	return &SettlementService{
		rpc:         rpc,
		application: application,
		sessions:    make(map[string]*sessionState),
		logger:      slog.Default().With("module", "settlement"),
	}
}

// sessionDefinition describes the session to the clearing service. The first
// participant (the broker) holds all the weight so it can close unilaterally.
type sessionDefinition struct {
	Application  string   `json:"application"`
	Participants []string `json:"participants"`
	Weights      []int    `json:"weights"`
	Quorum       int      `json:"quorum"`
	Nonce        uint64   `json:"nonce"`
}

type createSessionRequest struct {
	Definition  sessionDefinition   `json:"definition"`
	Allocations []domain.Allocation `json:"allocations"`
}

type sessionResponse struct {
	AppSessionID string `json:"app_session_id"`
	Status       string `json:"status"`
}

type closeSessionRequest struct {
	AppSessionID string              `json:"app_session_id"`
	Allocations  []domain.Allocation `json:"allocations"`
}

// OpenSession creates a clearing session for the order. Opening twice for the
// same order returns the existing active session.
func (s *SettlementService) OpenSession(ctx context.Context, orderID string, participants []string, asset string, allocations []domain.Allocation) (*domain.Session, error) {
	if len(participants) < 2 {
		return nil, domain.Validationf("participants", "need at least 2, got %d", len(participants))
	}
	if !s.rpc.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}

	s.mu.Lock()
	if st, ok := s.sessions[orderID]; ok && st.session.Status == domain.SessionActive {
		existing := *st.session
		s.mu.Unlock()
		return &existing, nil
	}
	s.mu.Unlock()

	weights := make([]int, len(participants))
	weights[0] = 100
	req := []createSessionRequest{{
		Definition: sessionDefinition{
			Application:  s.application,
			Participants: participants,
			Weights:      weights,
			Quorum:       100,
			Nonce:        uint64(time.Now().UnixMilli())<<16 | uint64(rand.Intn(1<<16)),
		},
		Allocations: allocations,
	}}

	resp, err := s.rpc.RequestByMethod(ctx, clearing.MethodCreateSession, req, sessionRPCTimeout)
	if err != nil {
		return nil, err
	}

	var result sessionResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, domain.NewFatalUpstreamError("settlement.open", fmt.Errorf("failed to parse session: %w", err))
	}
	if result.AppSessionID == "" {
		return nil, domain.NewFatalUpstreamError("settlement.open", fmt.Errorf("clearing returned no session id"))
	}

	session := &domain.Session{
		OrderID:      orderID,
		RemoteID:     result.AppSessionID,
		Participants: participants,
		Asset:        asset,
		Status:       domain.SessionActive,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.sessions[orderID] = &sessionState{session: session}
	s.mu.Unlock()

	s.logger.Info("clearing session opened",
		slog.String("order_id", orderID), slog.String("session_id", result.AppSessionID))
	cp := *session
	return &cp, nil
}

// CloseSession settles the order's session with final allocations. Close
// happens at most once; a failed close clears the in-flight flag so the
// caller can retry.
func (s *SettlementService) CloseSession(ctx context.Context, orderID string, allocations []domain.Allocation) (*domain.SettlementReceipt, error) {
	if !s.rpc.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}

	s.mu.Lock()
	st, ok := s.sessions[orderID]
	if !ok || st.session.Status != domain.SessionActive {
		s.mu.Unlock()
		return nil, domain.ErrNoActiveSession
	}
	if st.closing {
		s.mu.Unlock()
		return nil, domain.NewStateConflict("closeSession: close already in flight", "")
	}
	st.closing = true
	remoteID := st.session.RemoteID
	s.mu.Unlock()

	req := []closeSessionRequest{{
		AppSessionID: remoteID,
		Allocations:  allocations,
	}}

	resp, err := s.rpc.RequestByMethod(ctx, clearing.MethodCloseSession, req, sessionRPCTimeout)
	if err != nil {
		s.mu.Lock()
		st.closing = false
		s.mu.Unlock()
		return nil, err
	}

	// A malformed body is not a confirmation: keep the session active and
	// let the caller retry the close.
	var result sessionResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		s.mu.Lock()
		st.closing = false
		s.mu.Unlock()
		return nil, domain.NewUpstreamError("settlement.close",
			fmt.Errorf("failed to parse close response: %w", err))
	}

	now := time.Now()
	s.mu.Lock()
	st.session.Status = domain.SessionClosed
	st.session.ClosedAt = now
	s.mu.Unlock()

	s.logger.Info("clearing session closed",
		slog.String("order_id", orderID), slog.String("session_id", remoteID))
	return &domain.SettlementReceipt{
		OrderID:     orderID,
		SessionID:   remoteID,
		Allocations: allocations,
		ClosedAt:    now,
	}, nil
}

// GetSession returns the session snapshot for an order, if any.
func (s *SettlementService) GetSession(orderID string) (*domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[orderID]
	if !ok {
		return nil, false
	}
	cp := *st.session
	return &cp, true
}
