package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/rate"
	"github.com/olucodehub/2aside-platform-sub000/internal/service"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/internal/testutil"
)

type fakeMergeAPI struct {
	request    *storage.Request
	cycle      *storage.MergeCycle
	joinResult *service.JoinCycleResult
	pair       *storage.MatchPair
	status     *service.OwnerStatus
	err        error

	lastCreate *service.CreateRequestInput
	lastUpload *service.UploadProofInput
}

func (f *fakeMergeAPI) CreateRequest(_ context.Context, input service.CreateRequestInput) (*storage.Request, error) {
	f.lastCreate = &input
	return f.request, f.err
}

func (f *fakeMergeAPI) CancelRequest(_ context.Context, _ service.CancelRequestInput) (*storage.Request, error) {
	return f.request, f.err
}

func (f *fakeMergeAPI) JoinCycle(_ context.Context, _ service.JoinCycleInput) (*service.JoinCycleResult, error) {
	return f.joinResult, f.err
}

func (f *fakeMergeAPI) NextCycle(_ context.Context) (*storage.MergeCycle, error) {
	return f.cycle, f.err
}

func (f *fakeMergeAPI) OwnerStatus(_ context.Context, _ uuid.UUID) (*service.OwnerStatus, error) {
	return f.status, f.err
}

func (f *fakeMergeAPI) ActivePairs(_ context.Context, _ uuid.UUID) ([]storage.PairView, error) {
	return nil, f.err
}

func (f *fakeMergeAPI) UploadProof(_ context.Context, input service.UploadProofInput) (*storage.MatchPair, error) {
	f.lastUpload = &input
	return f.pair, f.err
}

func (f *fakeMergeAPI) RequestExtension(_ context.Context, _ service.PairActionInput) (*storage.MatchPair, error) {
	return f.pair, f.err
}

func (f *fakeMergeAPI) ConfirmProof(_ context.Context, _ service.PairActionInput) (*storage.MatchPair, error) {
	return f.pair, f.err
}

func newRouter(t *testing.T, svc MergeAPI, limiter rate.Limiter) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(svc, limiter, nil, decimal.NewFromInt(1000), decimal.NewFromInt(10_000_000), 1<<20)
	h.Register(router, []byte("secret"))

	jwt, err := testutil.GenerateJWT(testutil.DemoUserID, []byte("secret"), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return router, jwt
}

func demoRequest() *storage.Request {
	now := time.Now().UTC()
	return &storage.Request{
		ID:              uuid.New(),
		OwnerID:         testutil.DemoUserID,
		Direction:       engine.DirectionFunding,
		Currency:        engine.CurrencyNaira,
		Amount:          decimal.NewFromInt(5000),
		AmountRemaining: decimal.NewFromInt(5000),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreateRequestUnauthorized(t *testing.T) {
	router, _ := newRouter(t, &fakeMergeAPI{}, nil)

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/requests", map[string]string{"direction": "funding"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestCreateRequestCreated(t *testing.T) {
	svc := &fakeMergeAPI{request: demoRequest()}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", map[string]string{
		"direction": "funding",
		"currency":  "naira",
		"amount":    "5000",
	}, jwt)

	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if svc.lastCreate == nil {
		t.Fatalf("expected CreateRequest to be called")
	}
	if svc.lastCreate.OwnerID != testutil.DemoUserID {
		t.Fatalf("owner must come from the token, got %s", svc.lastCreate.OwnerID)
	}
	if !svc.lastCreate.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected amount %s", svc.lastCreate.Amount)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	router, jwt := newRouter(t, &fakeMergeAPI{}, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", map[string]string{
		"direction": "sideways",
		"currency":  "naira",
		"amount":    "50",
	}, jwt)

	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Fields) != 2 {
		t.Fatalf("expected direction and amount field errors, got %d", len(body.Fields))
	}
}

func TestCreateRequestBlockedWallet(t *testing.T) {
	svc := &fakeMergeAPI{err: service.ErrWalletBlocked}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", map[string]string{
		"direction": "withdrawal",
		"currency":  "usdt",
		"amount":    "2000",
	}, jwt)

	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeWalletBlocked)
}

func TestCreateRequestConflict(t *testing.T) {
	svc := &fakeMergeAPI{err: storage.ErrOpenRequestExists}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", map[string]string{
		"direction": "funding",
		"currency":  "naira",
		"amount":    "2000",
	}, jwt)

	testutil.AssertHTTPStatus(t, resp, http.StatusConflict)
}

func TestJoinCycleDeniedCarriesReason(t *testing.T) {
	svc := &fakeMergeAPI{joinResult: &service.JoinCycleResult{Granted: false, Reason: service.JoinWindowClosed}}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests/"+uuid.NewString()+"/join", map[string]string{
		"cycle_id": uuid.NewString(),
	}, jwt)

	testutil.AssertHTTPStatus(t, resp, http.StatusConflict)

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reason != service.JoinWindowClosed {
		t.Fatalf("expected reason %q, got %q", service.JoinWindowClosed, body.Reason)
	}
}

func TestJoinCycleGranted(t *testing.T) {
	req := demoRequest()
	svc := &fakeMergeAPI{joinResult: &service.JoinCycleResult{Granted: true, Reason: service.JoinGranted, Request: req}}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/requests/"+req.ID.String()+"/join", map[string]string{
		"cycle_id": uuid.NewString(),
	}, jwt)

	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}

func TestCancelRequestWindowClosed(t *testing.T) {
	svc := &fakeMergeAPI{err: service.ErrCancelWindowClosed}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/requests/"+uuid.NewString(), nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusConflict)
}

func TestUploadProofForbiddenForWithdrawer(t *testing.T) {
	svc := &fakeMergeAPI{err: service.ErrForbidden}
	router, jwt := newRouter(t, svc, nil)

	resp := uploadProof(t, router, jwt, uuid.NewString(), []byte("fake image bytes"))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
}

func TestUploadProofAccepted(t *testing.T) {
	pairID := uuid.New()
	deadline := time.Now().UTC().Add(4 * time.Hour)
	svc := &fakeMergeAPI{pair: &storage.MatchPair{
		ID:                   pairID,
		Status:               engine.PairProofUploaded,
		ProofDeadline:        deadline,
		ConfirmationDeadline: &deadline,
	}}
	router, jwt := newRouter(t, svc, nil)

	resp := uploadProof(t, router, jwt, pairID.String(), []byte("fake image bytes"))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	if svc.lastUpload == nil {
		t.Fatalf("expected UploadProof to be called")
	}
	if svc.lastUpload.ContentType != "image/png" {
		t.Fatalf("content type must come from the part header, got %q", svc.lastUpload.ContentType)
	}
}

func TestUploadProofTooLargeRejectedBeforeService(t *testing.T) {
	svc := &fakeMergeAPI{}
	router, jwt := newRouter(t, svc, nil)

	resp := uploadProof(t, router, jwt, uuid.NewString(), bytes.Repeat([]byte("a"), (1<<20)+1))
	testutil.AssertHTTPStatus(t, resp, http.StatusRequestEntityTooLarge)
	if svc.lastUpload != nil {
		t.Fatalf("oversized uploads must not reach the service")
	}
}

func TestRequestExtensionExhausted(t *testing.T) {
	svc := &fakeMergeAPI{err: service.ErrExtensionExhausted}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/pairs/"+uuid.NewString()+"/extension", nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusConflict)
}

func TestConfirmProofNotFound(t *testing.T) {
	svc := &fakeMergeAPI{err: storage.ErrNotFound}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/pairs/"+uuid.NewString()+"/confirm", nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)
}

func TestMutationsAreRateLimited(t *testing.T) {
	svc := &fakeMergeAPI{request: demoRequest()}
	limiter := rate.NewMemoryLimiter(1, time.Minute)
	router, jwt := newRouter(t, svc, limiter)

	payload := map[string]string{"direction": "funding", "currency": "naira", "amount": "5000"}
	first := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", payload, jwt)
	testutil.AssertHTTPStatus(t, first, http.StatusCreated)

	second := testutil.MakeAuthRequest(router, http.MethodPost, "/requests", payload, jwt)
	testutil.AssertErrorCode(t, second, testutil.ErrorCodeRateLimited)
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestReadsAreNotRateLimited(t *testing.T) {
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: time.Now().UTC().Add(time.Hour),
		CutoffTime:    time.Now().UTC().Add(30 * time.Minute),
		JoinWindowEnd: time.Now().UTC().Add(35 * time.Minute),
		Status:        storage.CycleScheduled,
	}
	svc := &fakeMergeAPI{cycle: cycle}
	limiter := rate.NewMemoryLimiter(1, time.Minute)
	router, jwt := newRouter(t, svc, limiter)

	for i := 0; i < 3; i++ {
		resp := testutil.MakeAuthRequest(router, http.MethodGet, "/cycles/next", nil, jwt)
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	}
}

func TestMyStatusShape(t *testing.T) {
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: time.Now().UTC().Add(time.Hour),
		Status:        storage.CycleScheduled,
	}
	svc := &fakeMergeAPI{status: &service.OwnerStatus{
		Requests:  []storage.Request{*demoRequest()},
		Blocked:   true,
		NextCycle: cycle,
	}}
	router, jwt := newRouter(t, svc, nil)

	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/me/status", nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var body statusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Blocked {
		t.Fatalf("expected blocked flag")
	}
	if len(body.Requests) != 1 {
		t.Fatalf("expected one request, got %d", len(body.Requests))
	}
	if body.NextCycle == nil || body.NextCycle.CycleID != cycle.ID.String() {
		t.Fatalf("expected next cycle in response")
	}
}

func uploadProof(t *testing.T, router *gin.Engine, jwt, pairID string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="proof"; filename="receipt.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pairs/"+pairID+"/proof", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+jwt)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
