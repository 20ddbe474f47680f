package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/proofstore"
	"github.com/olucodehub/2aside-platform-sub000/internal/rate"
	"github.com/olucodehub/2aside-platform-sub000/internal/service"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/internal/validation"
	"github.com/olucodehub/2aside-platform-sub000/libs/auth"
)

type MergeAPI interface {
	CreateRequest(ctx context.Context, input service.CreateRequestInput) (*storage.Request, error)
	CancelRequest(ctx context.Context, input service.CancelRequestInput) (*storage.Request, error)
	JoinCycle(ctx context.Context, input service.JoinCycleInput) (*service.JoinCycleResult, error)
	NextCycle(ctx context.Context) (*storage.MergeCycle, error)
	OwnerStatus(ctx context.Context, ownerID uuid.UUID) (*service.OwnerStatus, error)
	ActivePairs(ctx context.Context, ownerID uuid.UUID) ([]storage.PairView, error)
	UploadProof(ctx context.Context, input service.UploadProofInput) (*storage.MatchPair, error)
	RequestExtension(ctx context.Context, input service.PairActionInput) (*storage.MatchPair, error)
	ConfirmProof(ctx context.Context, input service.PairActionInput) (*storage.MatchPair, error)
}

type Handler struct {
	Service   MergeAPI
	Limiter   rate.Limiter
	Logger    *slog.Logger
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	MaxProof  int64
}

type createRequestPayload struct {
	Direction string `json:"direction"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
}

type requestItem struct {
	RequestID       string  `json:"request_id"`
	Direction       string  `json:"direction"`
	Currency        string  `json:"currency"`
	Amount          string  `json:"amount"`
	AmountRemaining string  `json:"amount_remaining"`
	JoinedCycleID   *string `json:"joined_cycle_id,omitempty"`
	FullyMatched    bool    `json:"fully_matched"`
	Completed       bool    `json:"completed"`
	Cancelled       bool    `json:"cancelled"`
	CreatedAt       string  `json:"created_at"`
}

type cycleItem struct {
	CycleID       string `json:"cycle_id"`
	ScheduledTime string `json:"scheduled_time"`
	CutoffTime    string `json:"cutoff_time"`
	JoinWindowEnd string `json:"join_window_end"`
	Status        string `json:"status"`
}

type pairItem struct {
	PairID               string  `json:"pair_id"`
	Currency             string  `json:"currency"`
	Amount               string  `json:"amount"`
	Status               string  `json:"status"`
	Source               string  `json:"source"`
	Role                 string  `json:"role,omitempty"`
	ProofUploaded        bool    `json:"proof_uploaded"`
	ProofDeadline        string  `json:"proof_deadline"`
	ConfirmationDeadline *string `json:"confirmation_deadline,omitempty"`
	ExtensionGranted     bool    `json:"extension_granted"`
	CreatedAt            string  `json:"created_at"`
}

type statusResponse struct {
	Requests  []requestItem `json:"requests"`
	Pairs     []pairItem    `json:"pairs"`
	Blocked   bool          `json:"blocked"`
	NextCycle *cycleItem    `json:"next_cycle,omitempty"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Reason  string                  `json:"reason,omitempty"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(svc MergeAPI, limiter rate.Limiter, logger *slog.Logger, minAmount, maxAmount decimal.Decimal, maxProof int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxProof <= 0 {
		maxProof = 5 << 20
	}
	return &Handler{
		Service:   svc,
		Limiter:   limiter,
		Logger:    logger,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		MaxProof:  maxProof,
	}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.GET("/cycles/next", h.NextCycle)
	group.GET("/me/status", h.MyStatus)
	group.GET("/me/matches", h.MyMatches)

	mutating := group.Group("/", h.rateLimit())
	mutating.POST("/requests", h.CreateRequest)
	mutating.DELETE("/requests/:id", h.CancelRequest)
	mutating.POST("/requests/:id/join", h.JoinCycle)
	mutating.POST("/pairs/:id/proof", h.UploadProof)
	mutating.POST("/pairs/:id/extension", h.RequestExtension)
	mutating.POST("/pairs/:id/confirm", h.ConfirmProof)
}

// rateLimit throttles mutations per authenticated owner.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}
		ownerID, ok := ownerIDFromContext(c)
		if !ok {
			c.Next()
			return
		}
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), ownerID.String(), time.Now().UTC())
		if err != nil {
			h.Logger.Error("rate limiter failed", "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", retryAfter.Round(time.Second).String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
		c.Next()
	}
}

func (h *Handler) CreateRequest(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var payload createRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	errs := validation.ValidateCreateRequest(payload.Direction, payload.Currency, payload.Amount, h.MinAmount, h.MaxAmount)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	direction, _ := engine.ParseDirection(payload.Direction)
	currency, _ := engine.ParseCurrency(payload.Currency)
	amount, _ := decimal.NewFromString(strings.TrimSpace(payload.Amount))

	req, err := h.Service.CreateRequest(c.Request.Context(), service.CreateRequestInput{
		OwnerID:       ownerID,
		Direction:     direction,
		Currency:      currency,
		Amount:        amount,
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWalletBlocked):
			writeError(c, http.StatusForbidden, "WALLET_BLOCKED", "wallet is blocked", nil)
		case errors.Is(err, storage.ErrOpenRequestExists):
			writeError(c, http.StatusConflict, "OPEN_REQUEST_EXISTS", "an open request already exists for this direction and currency", nil)
		default:
			h.Logger.Error("create request failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusCreated, requestToItem(*req))
}

func (h *Handler) CancelRequest(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	requestID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request id", nil)
		return
	}

	req, err := h.Service.CancelRequest(c.Request.Context(), service.CancelRequestInput{
		OwnerID:   ownerID,
		RequestID: requestID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "request not found", nil)
		case errors.Is(err, service.ErrCancelWindowClosed):
			writeError(c, http.StatusConflict, "CANCEL_WINDOW_CLOSED", "request cannot be cancelled this close to the cycle", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "NOT_CANCELLABLE", "request already has matched amounts", nil)
		default:
			h.Logger.Error("cancel request failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, requestToItem(*req))
}

func (h *Handler) JoinCycle(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	requestID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request id", nil)
		return
	}

	var payload struct {
		CycleID string `json:"cycle_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	cycleID, err := uuid.Parse(strings.TrimSpace(payload.CycleID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid cycle_id", nil)
		return
	}

	result, err := h.Service.JoinCycle(c.Request.Context(), service.JoinCycleInput{
		OwnerID:   ownerID,
		RequestID: requestID,
		CycleID:   cycleID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "request not found", nil)
			return
		}
		h.Logger.Error("join cycle failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	if !result.Granted {
		status := http.StatusConflict
		if result.Reason == service.JoinNotOwner {
			status = http.StatusNotFound
		}
		c.JSON(status, errorResponse{Code: "JOIN_DENIED", Message: "join denied", Reason: result.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted": true,
		"reason":  result.Reason,
		"request": requestToItem(*result.Request),
	})
}

func (h *Handler) NextCycle(c *gin.Context) {
	cycle, err := h.Service.NextCycle(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no upcoming cycle", nil)
			return
		}
		h.Logger.Error("next cycle failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	c.JSON(http.StatusOK, cycleToItem(*cycle))
}

func (h *Handler) MyStatus(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	status, err := h.Service.OwnerStatus(c.Request.Context(), ownerID)
	if err != nil {
		h.Logger.Error("owner status failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	resp := statusResponse{
		Requests: make([]requestItem, 0, len(status.Requests)),
		Pairs:    make([]pairItem, 0, len(status.Pairs)),
		Blocked:  status.Blocked,
	}
	for _, req := range status.Requests {
		resp.Requests = append(resp.Requests, requestToItem(req))
	}
	for _, pair := range status.Pairs {
		resp.Pairs = append(resp.Pairs, pairToItem(pair, ownerID))
	}
	if status.NextCycle != nil {
		item := cycleToItem(*status.NextCycle)
		resp.NextCycle = &item
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) MyMatches(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	pairs, err := h.Service.ActivePairs(c.Request.Context(), ownerID)
	if err != nil {
		h.Logger.Error("list matches failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	items := make([]pairItem, 0, len(pairs))
	for _, pair := range pairs {
		items = append(items, pairToItem(pair, ownerID))
	}
	c.JSON(http.StatusOK, gin.H{"pairs": items})
}

func (h *Handler) UploadProof(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	pairID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid pair id", nil)
		return
	}

	file, header, err := c.Request.FormFile("proof")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "proof file is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.MaxProof+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "could not read proof file", nil)
		return
	}
	if int64(len(data)) > h.MaxProof {
		writeError(c, http.StatusRequestEntityTooLarge, "PROOF_TOO_LARGE", "proof file too large", nil)
		return
	}

	pair, err := h.Service.UploadProof(c.Request.Context(), service.UploadProofInput{
		OwnerID:       ownerID,
		PairID:        pairID,
		Data:          data,
		ContentType:   header.Header.Get("Content-Type"),
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, service.ErrForbidden):
			writeError(c, http.StatusForbidden, "FORBIDDEN", "only the funder can upload proof", nil)
		case errors.Is(err, service.ErrDeadlinePassed):
			writeError(c, http.StatusConflict, "DEADLINE_PASSED", "proof deadline has passed", nil)
		case errors.Is(err, proofstore.ErrUnsupportedContentType):
			writeError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "proof must be jpeg, png or pdf", nil)
		case errors.Is(err, proofstore.ErrTooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, "PROOF_TOO_LARGE", "proof file too large", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair is not awaiting proof", nil)
		default:
			h.Logger.Error("upload proof failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, matchPairResponse(pair))
}

func (h *Handler) RequestExtension(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	pairID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid pair id", nil)
		return
	}

	pair, err := h.Service.RequestExtension(c.Request.Context(), service.PairActionInput{
		OwnerID:   ownerID,
		PairID:    pairID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, service.ErrForbidden):
			writeError(c, http.StatusForbidden, "FORBIDDEN", "only the funder can request an extension", nil)
		case errors.Is(err, service.ErrExtensionExhausted):
			writeError(c, http.StatusConflict, "EXTENSION_EXHAUSTED", "extension already used", nil)
		case errors.Is(err, service.ErrDeadlinePassed):
			writeError(c, http.StatusConflict, "DEADLINE_PASSED", "proof deadline has passed", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair is not awaiting proof", nil)
		default:
			h.Logger.Error("request extension failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, matchPairResponse(pair))
}

func (h *Handler) ConfirmProof(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	pairID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid pair id", nil)
		return
	}

	pair, err := h.Service.ConfirmProof(c.Request.Context(), service.PairActionInput{
		OwnerID:       ownerID,
		PairID:        pairID,
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, service.ErrForbidden):
			writeError(c, http.StatusForbidden, "FORBIDDEN", "only the withdrawer can confirm", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair has no proof to confirm", nil)
		default:
			h.Logger.Error("confirm proof failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, matchPairResponse(pair))
}

func requestToItem(req storage.Request) requestItem {
	item := requestItem{
		RequestID:       req.ID.String(),
		Direction:       string(req.Direction),
		Currency:        string(req.Currency),
		Amount:          req.Amount.String(),
		AmountRemaining: req.AmountRemaining.String(),
		FullyMatched:    req.FullyMatched,
		Completed:       req.Completed,
		Cancelled:       req.Cancelled,
		CreatedAt:       req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if req.JoinedCycleID != nil {
		val := req.JoinedCycleID.String()
		item.JoinedCycleID = &val
	}
	return item
}

func cycleToItem(cycle storage.MergeCycle) cycleItem {
	return cycleItem{
		CycleID:       cycle.ID.String(),
		ScheduledTime: cycle.ScheduledTime.UTC().Format(time.RFC3339),
		CutoffTime:    cycle.CutoffTime.UTC().Format(time.RFC3339),
		JoinWindowEnd: cycle.JoinWindowEnd.UTC().Format(time.RFC3339),
		Status:        string(cycle.Status),
	}
}

func pairToItem(pair storage.PairView, viewer uuid.UUID) pairItem {
	item := pairItem{
		PairID:           pair.ID.String(),
		Currency:         string(pair.Currency),
		Amount:           pair.Amount.String(),
		Status:           string(pair.Status),
		Source:           string(pair.Source),
		ProofUploaded:    pair.ProofUploadedAt != nil,
		ProofDeadline:    pair.ProofDeadline.UTC().Format(time.RFC3339),
		ExtensionGranted: pair.ExtensionGranted,
		CreatedAt:        pair.CreatedAt.UTC().Format(time.RFC3339),
	}
	if pair.FunderOwnerID != nil && *pair.FunderOwnerID == viewer {
		item.Role = "funder"
	} else if pair.WithdrawerOwnerID != nil && *pair.WithdrawerOwnerID == viewer {
		item.Role = "withdrawer"
	}
	if pair.ConfirmationDeadline != nil {
		val := pair.ConfirmationDeadline.UTC().Format(time.RFC3339)
		item.ConfirmationDeadline = &val
	}
	return item
}

func matchPairResponse(pair *storage.MatchPair) gin.H {
	resp := gin.H{
		"pair_id":        pair.ID.String(),
		"status":         string(pair.Status),
		"proof_deadline": pair.ProofDeadline.UTC().Format(time.RFC3339),
	}
	if pair.ConfirmationDeadline != nil {
		resp["confirmation_deadline"] = pair.ConfirmationDeadline.UTC().Format(time.RFC3339)
	}
	return resp
}

func ownerIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get("X-Request-ID"); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
