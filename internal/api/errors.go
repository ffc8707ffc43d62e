package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/sirupsen/logrus"
)

// Global validator instance. Field errors report JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorResponse represents a sanitized error response for API clients
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusByCode maps APIError codes to HTTP statuses
var statusByCode = map[string]int{
	models.ErrCodeIdentityRequired: fiber.StatusBadRequest,
	models.ErrCodeValidationFailed: fiber.StatusBadRequest,
	models.ErrCodeNotFound:         fiber.StatusNotFound,
	models.ErrCodeUpstreamFailed:   fiber.StatusBadGateway,
	models.ErrCodeStorageFailed:    fiber.StatusInternalServerError,
	models.ErrCodeInternalError:    fiber.StatusInternalServerError,
}

// StatusFor returns the HTTP status for err
func StatusFor(err error) int {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		if status, ok := statusByCode[apiErr.Code]; ok {
			return status
		}
	}
	return fiber.StatusInternalServerError
}

// HandleError writes err as a JSON error response. Structured errors keep
// their message and code; anything else is logged and replaced by
// defaultMessage.
func HandleError(c *fiber.Ctx, err error, defaultMessage string) error {
	status := StatusFor(err)

	entry := logs.Component("api").WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
		"status": status,
	})
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		entry = entry.WithField("request_id", rid)
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		if status >= 500 {
			entry.WithError(err).Error(defaultMessage)
			return c.Status(status).JSON(ErrorResponse{
				Error: defaultMessage,
				Code:  apiErr.Code,
			})
		}
		entry.WithError(err).Debug("request rejected")
		return c.Status(status).JSON(ErrorResponse{
			Error:   apiErr.Message,
			Code:    apiErr.Code,
			Details: apiErr.Details,
		})
	}

	entry.WithError(err).Error(defaultMessage)
	return c.Status(status).JSON(ErrorResponse{
		Error: defaultMessage,
		Code:  models.ErrCodeInternalError,
	})
}

// invalidBody is returned when a request body cannot be decoded
func invalidBody(c *fiber.Ctx, err error) error {
	return HandleError(c, models.WrapError(
		models.ErrCodeValidationFailed,
		"Invalid request body",
		err,
		nil,
	), "Invalid request body")
}

// ValidateRequest validates a request struct and returns a validation error
// naming the offending fields
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return models.NewValidationError("Invalid request - please check your input and try again", nil)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return models.NewValidationError("Invalid request - please check your input and try again", fields)
	}
	return nil
}
