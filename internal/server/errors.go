package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/authorization"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	organizationdomain "github.com/tenantry/tenantry/internal/organization/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   []ValidationError `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		payload.RequestID = strings.TrimSpace(c.GetString("request_id"))
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Details: vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Details: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	// Authorization denials surface as 401, not 403. Existing clients
	// depend on this, so it stays.
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrPermissionDenied):
		return http.StatusUnauthorized, errorPayload{
			Code:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, identitydomain.ErrUserExists),
		errors.Is(err, membershipdomain.ErrMemberExists),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, errorPayload{
			Code:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Code:    "not_found",
			Message: "not found",
		}
	case isBusinessRuleError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Code:    "business_rule_violation",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrInvalidUsername),
		errors.Is(err, identitydomain.ErrInvalidExternalID),
		errors.Is(err, identitydomain.ErrUserNotFound),
		errors.Is(err, identitydomain.ErrUserDeleted),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	case isOrganizationValidationError(err), isMembershipValidationError(err):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, organizationdomain.ErrInvalidNewOwner),
		errors.Is(err, organizationdomain.ErrNewOwnerDeleted),
		errors.Is(err, organizationdomain.ErrNewOwnerNotActiveMember),
		errors.Is(err, organizationdomain.ErrSameOwner):
		return true
	default:
		return false
	}
}

func isMembershipValidationError(err error) bool {
	switch {
	case errors.Is(err, membershipdomain.ErrInvalidOrganization),
		errors.Is(err, membershipdomain.ErrInvalidUsername),
		errors.Is(err, membershipdomain.ErrInvalidRole),
		errors.Is(err, membershipdomain.ErrInvalidMember):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationDeleted),
		errors.Is(err, membershipdomain.ErrMembershipNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isBusinessRuleError(err error) bool {
	switch {
	case errors.Is(err, membershipdomain.ErrNoPendingInvitation),
		errors.Is(err, membershipdomain.ErrOwnerCannotLeave),
		errors.Is(err, membershipdomain.ErrMembershipNotActive),
		errors.Is(err, membershipdomain.ErrMembershipAlreadyRemoved),
		errors.Is(err, membershipdomain.ErrOwnerRoleImmutable),
		errors.Is(err, membershipdomain.ErrCannotRemoveOwner),
		errors.Is(err, organizationdomain.ErrOrganizationArchived),
		errors.Is(err, organizationdomain.ErrOrganizationNotArchived),
		errors.Is(err, organizationdomain.ErrNotCurrentOwner),
		errors.Is(err, organizationdomain.ErrOwnerNotActiveMember),
		errors.Is(err, organizationdomain.ErrOwnerDeleted):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "new_owner_not_active_member":
		return "new owner does not have an active membership"
	case "user_not_found":
		return "unknown principal"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code
// fields without committing to the HTTP mapping.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Code
	case status == http.StatusUnauthorized:
		return "unauthorized", payload.Code
	default:
		return "client", payload.Code
	}
}
