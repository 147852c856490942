// Package apierror maps domain errors to the stable codes clients see on
// every transport.
package apierror

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"google.golang.org/grpc/codes"
)

// Stable error codes.
const (
	CodePointsInsufficient       = "POINTS_INSUFFICIENT"
	CodeInsufficientCirclePoints = "INSUFFICIENT_CIRCLE_POINTS"
	CodeRateLimited              = "RATE_LIMITED"
	CodeAlreadyAwardedToday      = "ALREADY_AWARDED_TODAY"
	CodePoolUnavailable          = "POOL_UNAVAILABLE"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeNotCircleMember          = "NOT_CIRCLE_MEMBER"
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeDuplicateOperation       = "DUPLICATE_OPERATION"
	CodeTimeout                  = "TIMEOUT"
	CodeInternal                 = "INTERNAL"
)

// Problem is the transport-neutral view of a failed request.
type Problem struct {
	Code       string
	Message    string
	HTTPStatus int
	GRPCCode   codes.Code
	// Set for insufficient funds.
	Balance  int64
	Required int64
	// Set for rate limiting.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least one.
func (problem Problem) RetryAfterSeconds() int64 {
	seconds := int64(math.Ceil(problem.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Classify maps err to a Problem. Unknown errors become INTERNAL without
// leaking their text.
func Classify(err error) Problem {
	var insufficient *ledger.InsufficientFundsError
	var rateLimited *gacha.RateLimitedError
	switch {
	case errors.As(err, &insufficient):
		code := CodePointsInsufficient
		if insufficient.Scope.IsCircle() {
			code = CodeInsufficientCirclePoints
		}
		return Problem{
			Code:       code,
			Message:    "not enough points",
			HTTPStatus: http.StatusPaymentRequired,
			GRPCCode:   codes.FailedPrecondition,
			Balance:    insufficient.Balance.Int64(),
			Required:   insufficient.Required.Int64(),
		}
	case errors.As(err, &rateLimited):
		return Problem{
			Code:       CodeRateLimited,
			Message:    "too many requests",
			HTTPStatus: http.StatusTooManyRequests,
			GRPCCode:   codes.ResourceExhausted,
			RetryAfter: rateLimited.RetryAfter,
		}
	case errors.Is(err, gacha.ErrUnauthorized):
		return Problem{Code: CodeUnauthorized, Message: "missing session", HTTPStatus: http.StatusUnauthorized, GRPCCode: codes.Unauthenticated}
	case errors.Is(err, gacha.ErrNotCircleMember):
		return Problem{Code: CodeNotCircleMember, Message: "not a member of this circle", HTTPStatus: http.StatusForbidden, GRPCCode: codes.PermissionDenied}
	case errors.Is(err, draw.ErrPoolUnavailable):
		return Problem{Code: CodePoolUnavailable, Message: "pool is not available", HTTPStatus: http.StatusServiceUnavailable, GRPCCode: codes.Unavailable}
	case errors.Is(err, ledger.ErrDuplicateOperation):
		return Problem{Code: CodeDuplicateOperation, Message: "operation already applied", HTTPStatus: http.StatusConflict, GRPCCode: codes.AlreadyExists}
	case isInvalidInput(err):
		return Problem{Code: CodeInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, GRPCCode: codes.InvalidArgument}
	case errors.Is(err, context.DeadlineExceeded):
		return Problem{Code: CodeTimeout, Message: "request timed out", HTTPStatus: http.StatusGatewayTimeout, GRPCCode: codes.DeadlineExceeded}
	default:
		return Problem{Code: CodeInternal, Message: "internal error", HTTPStatus: http.StatusInternalServerError, GRPCCode: codes.Internal}
	}
}

var invalidInputErrors = []error{
	gacha.ErrInvalidRequest,
	gacha.ErrInvalidReason,
	ledger.ErrInvalidUserID,
	ledger.ErrInvalidCircleID,
	ledger.ErrInvalidRequestID,
	ledger.ErrInvalidIdempotencyKey,
	ledger.ErrInvalidPoints,
	ledger.ErrInvalidDelta,
	ledger.ErrInvalidReason,
	ledger.ErrInvalidMetadataJSON,
	inventory.ErrInvalidItem,
}

func isInvalidInput(err error) bool {
	for _, candidate := range invalidInputErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
