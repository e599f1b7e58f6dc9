package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	apperrors "github.com/uniedit/paygate/internal/shared/errors"
	"github.com/uniedit/paygate/internal/shared/logger"
	"github.com/uniedit/paygate/internal/shared/response"
	"go.uber.org/zap"
)

// errorMappings cover sentinels whose message is fixed.
var errorMappings = []response.ErrorMapping{
	{Err: domain.ErrTransactionNotFound, Status: http.StatusNotFound, Code: "TRANSACTION_NOT_FOUND", Message: "transaction not found"},
	{Err: domain.ErrUnauthorizedWebhook, Status: http.StatusUnauthorized, Code: "INVALID_SIGNATURE", Message: "invalid signature"},
}

// toAppError converts payment errors whose message depends on the error value.
// It returns nil for anything else.
func toAppError(err error) *apperrors.AppError {
	var (
		validationErr *domain.ValidationError
		stateErr      *domain.StateError
		gatewayErr    *domain.UnsupportedGatewayError
		providerErr   *domain.ProviderError
		bindingErrs   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validationErr):
		return apperrors.ValidationError(validationErr.Error())
	case errors.As(err, &bindingErrs):
		return apperrors.ValidationError(describeBindingErrors(bindingErrs))
	case errors.As(err, &stateErr):
		return apperrors.Conflict(stateErr.Error()).WithCode("INVALID_STATE")
	case errors.As(err, &gatewayErr):
		return apperrors.BadRequest(gatewayErr.Error()).WithCode("UNSUPPORTED_GATEWAY")
	case errors.As(err, &providerErr):
		return apperrors.BadGateway(providerErr.PublicMessage(), providerErr)
	}
	return nil
}

func describeBindingErrors(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	return errs[0].Field() + ": " + describeFieldError(errs[0])
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// bindingDetails lists every failing field, keyed by field name.
func bindingDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = describeFieldError(fe)
	}
	return details
}

// handlePaymentError writes err as a JSON error response. Unexpected errors are
// logged and hidden behind a generic 500.
func handlePaymentError(c *gin.Context, err error) {
	if appErr := toAppError(err); appErr != nil {
		if appErr.StatusCode >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Warn("payment provider call failed", zap.Error(err))
		}
		response.AppError(c, appErr)
		return
	}
	if !mapped(err) {
		logger.FromContext(c.Request.Context()).Error("payment request failed", zap.Error(err))
	}
	response.HandleErrorWithDefault(c, err, errorMappings)
}

func mapped(err error) bool {
	for _, m := range errorMappings {
		if errors.Is(err, m.Err) {
			return true
		}
	}
	return false
}

// handleBindError reports a malformed request body or query.
func handleBindError(c *gin.Context, err error) {
	var bindingErrs validator.ValidationErrors
	if errors.As(err, &bindingErrs) {
		appErr := apperrors.ValidationError(describeBindingErrors(bindingErrs))
		response.ErrorWithDetails(c, appErr.StatusCode, appErr.Code, appErr.Message, bindingDetails(bindingErrs))
		return
	}
	if appErr := toAppError(err); appErr != nil {
		response.AppError(c, appErr)
		return
	}
	response.AppError(c, apperrors.BadRequest("malformed request"))
}
