package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/proofstore"
	"github.com/olucodehub/2aside-platform-sub000/internal/service"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/apikey"
	"github.com/olucodehub/2aside-platform-sub000/libs/auth"
)

type AdminAPI interface {
	ManualMatch(ctx context.Context, input service.ManualMatchInput) (*storage.PairView, error)
	FallbackMatch(ctx context.Context, input service.FallbackMatchInput) (*storage.PairView, error)
	TriggerCycleNow(ctx context.Context, actor service.AdminActor) (*storage.MergeCycle, error)
	UnblockOwner(ctx context.Context, ownerID uuid.UUID, actor service.AdminActor) error
	ReleaseReservation(ctx context.Context, pairID uuid.UUID, actor service.AdminActor) (*storage.MatchPair, error)
	UploadProof(ctx context.Context, pairID uuid.UUID, data []byte, contentType string, actor service.AdminActor) (*storage.MatchPair, error)
	ConfirmPair(ctx context.Context, pairID uuid.UUID, actor service.AdminActor) (*storage.MatchPair, error)
	ListUnmatched(ctx context.Context, currency engine.Currency) ([]storage.Request, error)
	ListExpired(ctx context.Context) ([]storage.PairView, error)
	ListAdminWallets(ctx context.Context) ([]storage.AdminWallet, error)
}

type APIKeyStore interface {
	GetAPIKeyRecord(ctx context.Context, prefix string) (apikey.Record, error)
}

type AdminHandler struct {
	Service  AdminAPI
	Keys     APIKeyStore
	Logger   *slog.Logger
	MaxProof int64
}

func NewAdmin(svc AdminAPI, keys APIKeyStore, logger *slog.Logger, maxProof int64) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxProof <= 0 {
		maxProof = 5 << 20
	}
	return &AdminHandler{Service: svc, Keys: keys, Logger: logger, MaxProof: maxProof}
}

func (h *AdminHandler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/admin", h.authenticate(jwtSecret))
	group.GET("/unmatched", h.ListUnmatched)
	group.GET("/expired", h.ListExpired)
	group.GET("/wallets", h.ListWallets)
	group.POST("/matches", h.ManualMatch)
	group.POST("/fallback-match", h.FallbackMatch)
	group.POST("/cycles/trigger", h.TriggerCycle)
	group.POST("/wallets/:owner_id/unblock", h.UnblockOwner)
	group.POST("/pairs/:id/release", h.ReleaseReservation)
	group.POST("/pairs/:id/proof", h.UploadProof)
	group.POST("/pairs/:id/confirm", h.ConfirmPair)
}

// authenticate accepts either an admin JWT or an X-API-Key operator key.
func (h *AdminHandler) authenticate(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key != "" {
			h.authenticateKey(c, key)
			return
		}

		token := auth.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing credentials"})
			return
		}
		claims, err := auth.ParseJWT(token, jwtSecret)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
			return
		}
		if !claims.HasRole(auth.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: "insufficient role"})
			return
		}
		c.Set(auth.ContextUserIDKey, claims.Subject)
		c.Set(auth.ContextRolesKey, claims.Roles)
		c.Next()
	}
}

func (h *AdminHandler) authenticateKey(c *gin.Context, key string) {
	_, prefix, _, err := apikey.Parse(key)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid api key"})
		return
	}
	record, err := h.Keys.GetAPIKeyRecord(c.Request.Context(), prefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid api key"})
			return
		}
		h.Logger.Error("api key lookup failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	userID, _, err := apikey.VerifyAPIKey(key, record, c.ClientIP())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid api key"})
		return
	}
	c.Set(auth.ContextUserIDKey, userID)
	c.Next()
}

func (h *AdminHandler) actor(c *gin.Context) service.AdminActor {
	actorID := ""
	if val, ok := c.Get(auth.ContextUserIDKey); ok {
		if s, ok := val.(string); ok {
			actorID = s
		}
	}
	return service.AdminActor{
		ID:        actorID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func (h *AdminHandler) ListUnmatched(c *gin.Context) {
	currency, err := engine.ParseCurrency(c.Query("currency"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "currency query parameter is required", nil)
		return
	}
	requests, err := h.Service.ListUnmatched(c.Request.Context(), currency)
	if err != nil {
		h.Logger.Error("list unmatched failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	items := make([]requestItem, 0, len(requests))
	for _, req := range requests {
		items = append(items, requestToItem(req))
	}
	c.JSON(http.StatusOK, gin.H{"requests": items})
}

func (h *AdminHandler) ListExpired(c *gin.Context) {
	pairs, err := h.Service.ListExpired(c.Request.Context())
	if err != nil {
		h.Logger.Error("list expired failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	items := make([]pairItem, 0, len(pairs))
	for _, pair := range pairs {
		items = append(items, pairToItem(pair, uuid.Nil))
	}
	c.JSON(http.StatusOK, gin.H{"pairs": items})
}

func (h *AdminHandler) ListWallets(c *gin.Context) {
	wallets, err := h.Service.ListAdminWallets(c.Request.Context())
	if err != nil {
		h.Logger.Error("list admin wallets failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	items := make([]gin.H, 0, len(wallets))
	for _, w := range wallets {
		items = append(items, gin.H{
			"wallet_id": w.ID.String(),
			"currency":  string(w.Currency),
			"balance":   w.Balance.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"wallets": items})
}

type manualMatchPayload struct {
	FundingRequestID    string `json:"funding_request_id"`
	WithdrawalRequestID string `json:"withdrawal_request_id"`
	Amount              string `json:"amount"`
}

func (h *AdminHandler) ManualMatch(c *gin.Context) {
	var payload manualMatchPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	fundingID, err := uuid.Parse(strings.TrimSpace(payload.FundingRequestID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid funding_request_id", nil)
		return
	}
	withdrawalID, err := uuid.Parse(strings.TrimSpace(payload.WithdrawalRequestID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal_request_id", nil)
		return
	}
	var amount *decimal.Decimal
	if strings.TrimSpace(payload.Amount) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(payload.Amount))
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount must be a positive decimal", nil)
			return
		}
		amount = &parsed
	}

	pair, err := h.Service.ManualMatch(c.Request.Context(), service.ManualMatchInput{
		FundingRequestID:    fundingID,
		WithdrawalRequestID: withdrawalID,
		Amount:              amount,
		Actor:               h.actor(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "request not found", nil)
		case errors.Is(err, service.ErrDirectionMismatch):
			writeError(c, http.StatusBadRequest, "DIRECTION_MISMATCH", "requests must be a funding and a withdrawal", nil)
		case errors.Is(err, service.ErrCurrencyMismatch):
			writeError(c, http.StatusBadRequest, "CURRENCY_MISMATCH", "requests must share a currency", nil)
		case errors.Is(err, service.ErrRequestClosed):
			writeError(c, http.StatusConflict, "REQUEST_CLOSED", "one of the requests is no longer open", nil)
		case errors.Is(err, storage.ErrInsufficientRemaining):
			writeError(c, http.StatusConflict, "INSUFFICIENT_REMAINING", "amount exceeds a side's remaining balance", nil)
		default:
			h.Logger.Error("manual match failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusCreated, pairToItem(*pair, uuid.Nil))
}

func (h *AdminHandler) FallbackMatch(c *gin.Context) {
	var payload struct {
		RequestID string `json:"request_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	requestID, err := uuid.Parse(strings.TrimSpace(payload.RequestID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request_id", nil)
		return
	}

	pair, err := h.Service.FallbackMatch(c.Request.Context(), service.FallbackMatchInput{
		RequestID: requestID,
		Actor:     h.actor(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "request not found", nil)
		case errors.Is(err, service.ErrRequestClosed):
			writeError(c, http.StatusConflict, "REQUEST_CLOSED", "request is no longer open", nil)
		case errors.Is(err, storage.ErrInsufficientBalance):
			writeError(c, http.StatusConflict, "INSUFFICIENT_BALANCE", "admin wallet cannot cover the withdrawal", nil)
		default:
			h.Logger.Error("fallback match failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusCreated, pairToItem(*pair, uuid.Nil))
}

func (h *AdminHandler) TriggerCycle(c *gin.Context) {
	cycle, err := h.Service.TriggerCycleNow(c.Request.Context(), h.actor(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no upcoming cycle", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "cycle is not in a triggerable state", nil)
		default:
			h.Logger.Error("trigger cycle failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}
	c.JSON(http.StatusOK, cycleToItem(*cycle))
}

func (h *AdminHandler) UnblockOwner(c *gin.Context) {
	ownerID, err := parseUUIDParam(c.Param("owner_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid owner id", nil)
		return
	}
	if err := h.Service.UnblockOwner(c.Request.Context(), ownerID, h.actor(c)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no active block for owner", nil)
			return
		}
		h.Logger.Error("unblock owner failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": ownerID.String(), "blocked": false})
}

func (h *AdminHandler) ReleaseReservation(c *gin.Context) {
	pairID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid pair id", nil)
		return
	}
	pair, err := h.Service.ReleaseReservation(c.Request.Context(), pairID, h.actor(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair is not expired or already released", nil)
		default:
			h.Logger.Error("release reservation failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pair_id":              pair.ID.String(),
		"reservation_released": pair.ReservationReleased,
	})
}

// UploadProof is the operator's side of a withdrawal fallback: the platform
// wallet funds the pair, so the payment evidence comes in through here.
func (h *AdminHandler) UploadProof(c *gin.Context) {
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

	pair, err := h.Service.UploadProof(c.Request.Context(), pairID, data, header.Header.Get("Content-Type"), h.actor(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, service.ErrForbidden):
			writeError(c, http.StatusConflict, "NOT_PLATFORM_SIDE", "pair is not funded by the platform wallet", nil)
		case errors.Is(err, service.ErrDeadlinePassed):
			writeError(c, http.StatusConflict, "DEADLINE_PASSED", "proof deadline has passed", nil)
		case errors.Is(err, proofstore.ErrUnsupportedContentType):
			writeError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "proof must be jpeg, png or pdf", nil)
		case errors.Is(err, proofstore.ErrTooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, "PROOF_TOO_LARGE", "proof file too large", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair is not awaiting proof", nil)
		default:
			h.Logger.Error("admin upload proof failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, matchPairResponse(pair))
}

// ConfirmPair acknowledges receipt into the platform wallet, the operator's
// half of a funding fallback's confirm step.
func (h *AdminHandler) ConfirmPair(c *gin.Context) {
	pairID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid pair id", nil)
		return
	}

	pair, err := h.Service.ConfirmPair(c.Request.Context(), pairID, h.actor(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "pair not found", nil)
		case errors.Is(err, service.ErrForbidden):
			writeError(c, http.StatusConflict, "NOT_PLATFORM_SIDE", "pair is not withdrawn by the platform wallet", nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "INVALID_STATUS", "pair has no proof to confirm", nil)
		default:
			h.Logger.Error("admin confirm pair failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, matchPairResponse(pair))
}
