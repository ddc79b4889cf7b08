package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/service"
)

// Validate checks request bodies against their `validate` tags.
var Validate = validator.New()

// getUserID extracts the authenticated user's ID from the Echo context.
// JWTAuth stores it under "user_id".
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// bindAndValidate decodes the JSON body into dst and runs the validator.
// The returned error message is safe to show to the client.
func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := Validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// writeError maps service errors to HTTP responses.  Unexpected errors are
// logged and reported as 500.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	var ge *payment.GatewayError
	switch {
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "members only"})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "already reserved this week"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": strings.TrimSuffix(err.Error(), ": "+service.ErrValidation.Error())})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid state"})
	case errors.As(err, &ge):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway error", "code": ge.Code})
	}
	logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("route", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
