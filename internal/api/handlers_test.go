package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/service"
)

// Mock services for testing

type mockDelegateService struct {
	mintPlatformFunc   func(ctx context.Context, req service.MintPlatformRequest) (*service.DelegateResult, error)
	createProposalFunc func(ctx context.Context, req service.CreateProposalRequest) (*service.DelegateResult, error)
	mintReviewFunc     func(ctx context.Context, req service.MintReviewRequest) (*service.DelegateResult, error)
}

func (m *mockDelegateService) MintPlatform(ctx context.Context, req service.MintPlatformRequest) (*service.DelegateResult, error) {
	if m.mintPlatformFunc != nil {
		return m.mintPlatformFunc(ctx, req)
	}
	return &service.DelegateResult{TxHash: "0x123"}, nil
}

func (m *mockDelegateService) CreateProposal(ctx context.Context, req service.CreateProposalRequest) (*service.DelegateResult, error) {
	if m.createProposalFunc != nil {
		return m.createProposalFunc(ctx, req)
	}
	return &service.DelegateResult{TxHash: "0x123"}, nil
}

func (m *mockDelegateService) MintReview(ctx context.Context, req service.MintReviewRequest) (*service.DelegateResult, error) {
	if m.mintReviewFunc != nil {
		return m.mintReviewFunc(ctx, req)
	}
	return &service.DelegateResult{TxHash: "0x123"}, nil
}

type mockDispatchRunner struct {
	runFunc func(ctx context.Context, input service.RunInput) (service.RunStats, error)
	lastRun *service.RunInput
}

func (m *mockDispatchRunner) Run(ctx context.Context, input service.RunInput) (service.RunStats, error) {
	m.lastRun = &input
	if m.runFunc != nil {
		return m.runFunc(ctx, input)
	}
	return service.RunStats{Sent: 2, Failed: 1}, nil
}

type mockStatsService struct{}

func (m *mockStatsService) Snapshot(ctx context.Context) (*service.Stats, error) {
	return &service.Stats{TotalSent: 40, TotalSentThisMonth: 7, TotalCronRunning: 2}, nil
}

type mockUserService struct{}

func (m *mockUserService) Register(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, apperrors.NewInvalidInputError("a valid email is required")
	}
	return &models.User{ID: "user-1", Email: email}, nil
}

func (m *mockUserService) ValidateProfile(ctx context.Context, userID, address, talentLayerID, signature string) (*models.User, error) {
	return &models.User{ID: userID, Address: &address, TalentLayerID: &talentLayerID}, nil
}

func (m *mockUserService) VerifyEmail(ctx context.Context, userID string) error {
	return nil
}

const testSecret = "test-dispatch-secret"

func createTestServer(delegate DelegateServiceInterface, runner *mockDispatchRunner) *Server {
	return NewServer(
		&ServerConfig{
			Host:           "127.0.0.1",
			Port:           "0",
			DispatchSecret: testSecret,
			DelegateRPS:    100,
			DelegateBurst:  100,
		},
		delegate,
		map[string]DispatchRunner{"proposal-validated": runner},
		&mockStatsService{},
		&mockUserService{},
	)
}

func postJSON(server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestDelegateProposal_Success(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	w := postJSON(server, "/api/delegate/proposal", map[string]interface{}{
		"chainId":   137,
		"userId":    "user-1",
		"address":   "0xabc",
		"signature": "0xsig",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["id"] != "0x123" {
		t.Errorf("Expected id 0x123, got %q", resp["id"])
	}
}

func TestDelegateProposal_InvalidSignature(t *testing.T) {
	server := createTestServer(&mockDelegateService{
		createProposalFunc: func(ctx context.Context, req service.CreateProposalRequest) (*service.DelegateResult, error) {
			return nil, apperrors.NewInvalidSignatureError()
		},
	}, &mockDispatchRunner{})

	w := postJSON(server, "/api/delegate/proposal", map[string]interface{}{
		"address":   "0xabc",
		"signature": "0xbad",
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	if code := decodeError(t, w); code != apperrors.CodeInvalidSignature {
		t.Errorf("Expected code INVALID_SIGNATURE, got %q", code)
	}
}

func TestDelegateMintReview_QuotaExceeded(t *testing.T) {
	server := createTestServer(&mockDelegateService{
		mintReviewFunc: func(ctx context.Context, req service.MintReviewRequest) (*service.DelegateResult, error) {
			return nil, apperrors.NewQuotaExceededError(50, 50)
		},
	}, &mockDispatchRunner{})

	w := postJSON(server, "/api/delegate/mint-review", map[string]interface{}{
		"address": "0xabc",
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	if code := decodeError(t, w); code != apperrors.CodeQuotaExceeded {
		t.Errorf("Expected code QUOTA_EXCEEDED, got %q", code)
	}
}

func TestDelegatePlatform_InfrastructureError(t *testing.T) {
	server := createTestServer(&mockDelegateService{
		mintPlatformFunc: func(ctx context.Context, req service.MintPlatformRequest) (*service.DelegateResult, error) {
			return nil, apperrors.NewRPCUnavailableError(context.DeadlineExceeded)
		},
	}, &mockDispatchRunner{})

	w := postJSON(server, "/api/delegate/platform", map[string]interface{}{
		"address": "0xabc",
	})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
}

func TestDelegate_InvalidJSON(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	req := httptest.NewRequest("POST", "/api/delegate/proposal", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestNotifyRun_RequiresSecret(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	req := httptest.NewRequest("GET", "/api/notify/proposal-validated", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without secret, got %d", w.Code)
	}
}

func TestNotifyRun_Summary(t *testing.T) {
	runner := &mockDispatchRunner{}
	server := createTestServer(&mockDelegateService{}, runner)

	req := httptest.NewRequest("GET", "/api/notify/proposal-validated", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "2 emails sent | 1 non-sent" {
		t.Errorf("Unexpected summary: %q", got)
	}
	if runner.lastRun == nil || runner.lastRun.Since != nil {
		t.Error("Expected a scheduled run without an explicit watermark")
	}
}

func TestNotifyRun_SinceTimestamp(t *testing.T) {
	runner := &mockDispatchRunner{}
	server := createTestServer(&mockDelegateService{}, runner)

	req := httptest.NewRequest("GET", "/api/notify/proposal-validated?sinceTimestamp=1700000000", nil)
	req.Header.Set("Authorization", testSecret)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if runner.lastRun == nil || runner.lastRun.Since == nil {
		t.Fatal("Expected the explicit watermark to reach the dispatcher")
	}
	if !runner.lastRun.Since.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Unexpected watermark: %v", runner.lastRun.Since)
	}
}

func TestNotifyRun_UnknownCategory(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	req := httptest.NewRequest("GET", "/api/notify/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestNotifyStats(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	req := httptest.NewRequest("GET", "/api/notify/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats service.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalSent != 40 {
		t.Errorf("Expected totalSent 40, got %d", stats.TotalSent)
	}
}

func TestCreateUser(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	w := postJSON(server, "/api/users", map[string]string{"email": "carol@example.com"})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Errorf("Unexpected email: %q", user.Email)
	}
}

func TestHealthCheck(t *testing.T) {
	server := createTestServer(&mockDelegateService{}, &mockDispatchRunner{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
