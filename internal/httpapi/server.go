// Package httpapi exposes the gacha service over HTTP with gin. Callers are
// identified by the TAuth session cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/apierror"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey  = "auth_claims"
	circleIDParameter = "circleId"
)

var poolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options configure the router.
type Options struct {
	Service        *gacha.Service
	Sessions       *sessionvalidator.Validator
	Logger         *zap.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Middleware runs before routing, typically metrics.
	Middleware []gin.HandlerFunc
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter builds the gin engine.
func NewRouter(options Options) (*gin.Engine, error) {
	if options.Service == nil || options.Sessions == nil {
		return nil, errors.New("httpapi: service and session validator are required")
	}
	requestValidator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	handler := &httpHandler{service: options.Service, logger: logger, validate: requestValidator, timeout: timeout}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(options.Middleware...)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     options.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if options.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(options.MetricsHandler))
	}

	api := router.Group("/api")
	api.Use(options.Sessions.GinMiddleware(claimsContextKey))
	api.GET("/session", handler.handleSession)
	handler.mountWallet(api)
	handler.mountWallet(api.Group("/circles/:" + circleIDParameter))

	return router, nil
}

func newRequestValidator() (*validator.Validate, error) {
	requestValidator := validator.New()
	if err := requestValidator.RegisterValidation("reason", func(field validator.FieldLevel) bool {
		_, err := ledger.ParseReason(field.Field().String())
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("register reason validation: %w", err)
	}
	if err := requestValidator.RegisterValidation("poolname", func(field validator.FieldLevel) bool {
		return poolNamePattern.MatchString(field.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("register pool validation: %w", err)
	}
	return requestValidator, nil
}

type httpHandler struct {
	service  *gacha.Service
	logger   *zap.Logger
	validate *validator.Validate
	timeout  time.Duration
}

func (handler *httpHandler) mountWallet(group *gin.RouterGroup) {
	group.POST("/points/earn", handler.handleEarn)
	group.GET("/points", handler.handleWallet)
	group.POST("/gacha/draw", handler.handleDraw)
	group.GET("/inventory", handler.handleInventory)
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		handler.respondError(ctx, gacha.ErrUnauthorized)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleEarn(ctx *gin.Context) {
	caller, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request earnRequest
	if !handler.bindJSON(ctx, &request, false) {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	result, err := handler.service.Earn(requestCtx, gacha.EarnRequest{Caller: caller, Reason: request.Reason, RequestID: request.RequestID})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := earnResponse{
		Earned:         result.Earned,
		AlreadyAwarded: result.AlreadyAwarded,
		Reason:         result.Reason.String(),
		Delta:          result.Delta,
		Balance:        result.Balance,
		Date:           result.Date,
	}
	if result.AlreadyAwarded {
		response.Code = apierror.CodeAlreadyAwardedToday
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleDraw(ctx *gin.Context) {
	caller, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request drawRequest
	if !handler.bindJSON(ctx, &request, true) {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	result, err := handler.service.Draw(requestCtx, gacha.DrawRequest{Caller: caller, Pool: request.Pool, RequestID: request.RequestID})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, drawResponse{
		Pool:    result.Pool,
		Cost:    result.Cost,
		Balance: result.Balance,
		Prize: prizePayload{
			ItemType: result.Prize.ItemType,
			ItemKey:  result.Prize.ItemKey,
			Rarity:   result.Prize.Rarity,
			IsNew:    result.IsNew,
		},
		EntryID:  result.EntryID,
		Replayed: result.Replayed,
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	caller, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var query historyQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		handler.respondInvalid(ctx, "expected numeric limit and before", nil)
		return
	}
	if err := handler.validate.Struct(&query); err != nil {
		handler.respondInvalid(ctx, "invalid query", validationFields(err))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	wallet, err := handler.service.Wallet(requestCtx, gacha.WalletRequest{Caller: caller, Limit: query.Limit, BeforeUnixUTC: query.Before})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	items := make([]entryPayload, 0, len(wallet.Entries))
	for _, entry := range wallet.Entries {
		items = append(items, entryPayload{
			EntryID:        entry.EntryID().String(),
			Reason:         entry.Reason().String(),
			Delta:          entry.Delta().Int64(),
			RequestID:      entry.RequestID().String(),
			IdempotencyKey: entry.IdempotencyKey().String(),
			Metadata:       json.RawMessage(entry.MetadataJSON().String()),
			CreatedUnixUTC: entry.CreatedUnixUTC(),
		})
	}
	ctx.JSON(http.StatusOK, walletResponse{Balance: wallet.Balance, Items: items})
}

func (handler *httpHandler) handleInventory(ctx *gin.Context) {
	caller, ok := handler.caller(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	result, err := handler.service.Inventory(requestCtx, gacha.InventoryRequest{Caller: caller})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	items := make([]unlockPayload, 0, len(result.Unlocks))
	for _, unlock := range result.Unlocks {
		items = append(items, unlockPayload{
			ItemType:       unlock.Item.ItemType(),
			ItemKey:        unlock.Item.ItemKey(),
			Rarity:         unlock.Rarity,
			Source:         string(unlock.Source),
			AcquiredAtUnix: unlock.AcquiredAtUnix,
		})
	}
	ctx.JSON(http.StatusOK, inventoryResponse{Items: items})
}

// caller resolves the session user and, on circle routes, the circle id.
func (handler *httpHandler) caller(ctx *gin.Context) (gacha.Caller, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		handler.respondError(ctx, gacha.ErrUnauthorized)
		return gacha.Caller{}, false
	}
	return gacha.Caller{UserID: claims.GetUserID(), CircleID: ctx.Param(circleIDParameter)}, true
}

func (handler *httpHandler) bindJSON(ctx *gin.Context, target any, allowEmpty bool) bool {
	if err := ctx.ShouldBindJSON(target); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			handler.respondInvalid(ctx, "expected JSON body", nil)
			return false
		}
	}
	if err := handler.validate.Struct(target); err != nil {
		handler.respondInvalid(ctx, "invalid request", validationFields(err))
		return false
	}
	return true
}

func (handler *httpHandler) respondInvalid(ctx *gin.Context, message string, fields map[string]string) {
	body := errorBody{Code: apierror.CodeInvalidRequest, Message: message}
	if len(fields) > 0 {
		body.Detail = &errorDetail{Fields: fields}
	}
	ctx.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope{Error: body})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	problem := apierror.Classify(err)
	body := errorBody{Code: problem.Code, Message: problem.Message}
	switch problem.Code {
	case apierror.CodePointsInsufficient, apierror.CodeInsufficientCirclePoints:
		required, balance := problem.Required, problem.Balance
		body.Detail = &errorDetail{Required: &required, Balance: &balance}
	case apierror.CodeRateLimited:
		seconds := problem.RetryAfterSeconds()
		ctx.Header("Retry-After", strconv.FormatInt(seconds, 10))
		body.Detail = &errorDetail{RetryAfterSeconds: &seconds}
	case apierror.CodeInternal, apierror.CodeTimeout:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.AbortWithStatusJSON(problem.HTTPStatus, errorEnvelope{Error: body})
}

func validationFields(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	fields := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		fields[fieldError.Field()] = fmt.Sprintf("failed on '%s'", fieldError.Tag())
	}
	return fields
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
