package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/labstack/echo/v4"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	RetryAt   string `json:"retry_at,omitempty"`
}

// statusFor traduce la categoría del error del dominio a un código HTTP.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindResource:
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			return http.StatusTooManyRequests
		case errors.Is(err, domain.ErrInsufficientFunds):
			return http.StatusPaymentRequired
		default:
			return http.StatusConflict
		}
	default:
		return http.StatusInternalServerError
	}
}

// writeError responde con el error y los importes exactos cuando los hay.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: string(domain.KindOf(err))}

	var funds *domain.InsufficientFundsError
	var price *domain.PriceMismatchError
	var rl *domain.RateLimitError
	var target *domain.TargetNotReachedError
	switch {
	case errors.As(err, &funds):
		body.Required = funds.Required.String()
		body.Available = funds.Available.String()
	case errors.As(err, &price):
		body.Required = price.Required.String()
	case errors.As(err, &rl):
		body.RetryAt = rl.RetryAt.UTC().Format(time.RFC3339Nano)
		secs := int(time.Until(rl.RetryAt).Seconds()) + 1
		c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	case errors.As(err, &target):
		body.Remaining = target.Remaining.String()
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "error", err)
		body.Error = "internal error"
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg, Kind: string(domain.KindValidation)})
}
