package api

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/georgeshao/api-relay/internal/apperr"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/pkg/types"
)

const identityKey = "identity"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in validation messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ResolveIdentity resolves the caller once per request and stores the result
// for the handlers, which pass it explicitly to the core.
func (h *Handler) ResolveIdentity(c *fiber.Ctx) error {
	id := h.resolver.Resolve(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	c.Locals(identityKey, id)
	return c.Next()
}

func identityFrom(c *fiber.Ctx) *identity.Identity {
	id, _ := c.Locals(identityKey).(*identity.Identity)
	return id
}

// bindAndValidate parses the request body into dst and validates it.
func bindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.Validation("Invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, len(ve))
			for i, fe := range ve {
				fields[i] = fe.Field()
			}
			return apperr.Validation("Missing required fields: " + strings.Join(fields, ", "))
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}

// ErrorHandler maps errors returned by handlers to JSON error responses.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(types.ErrorResponse{Error: fe.Message})
		}

		kind := apperr.KindOf(err)
		status := apperr.HTTPStatus(kind)

		if kind == apperr.KindUnknown {
			logger.Error().Err(err).Str("path", c.Path()).Msg("internal error")
			return c.Status(status).JSON(types.ErrorResponse{Error: "Internal server error"})
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Str("kind", kind.String()).Msg("request failed")
		}

		return c.Status(status).JSON(types.ErrorResponse{Error: err.Error()})
	}
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			// Write the error response now so the logged status is final.
			if hErr := c.App().ErrorHandler(c, err); hErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		event := logger.Info()
		if status >= fiber.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")

		return nil
	}
}
