// Package errors defines the error taxonomy shared by the delegation relay
// and the notification dispatch engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/marketplace-relay/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuthorization represents admission failures, never retried (401)
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryValidation represents malformed input (400)
	CategoryValidation ErrorCategory = "validation"
	// CategoryConflict represents uniqueness violations (409)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents missing entities (404)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryInfrastructure represents RPC/store/provider failures (5xx)
	CategoryInfrastructure ErrorCategory = "infrastructure"
	// CategoryEmpty represents an empty result at a dispatch filter stage;
	// expected, non-error termination
	CategoryEmpty ErrorCategory = "empty"
)

// Stable error codes surfaced to callers.
const (
	CodeFeatureDisabled      = "FEATURE_DISABLED"
	CodeDelegationNotAllowed = "DELEGATION_NOT_ALLOWED"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeRPCUnavailable       = "RPC_UNAVAILABLE"
	CodeContractRevert       = "CONTRACT_REVERT"
	CodeInsufficientRole     = "INSUFFICIENT_ROLE"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeSubgraphError        = "SUBGRAPH_ERROR"
	CodeProviderError        = "PROVIDER_ERROR"
	CodeProfileConflict      = "PROFILE_CONFLICT"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Authorization errors. Admission failures all map to 401 so that callers can
// render a specific message from the code without learning which internal
// check tripped from the status alone.

// NewFeatureDisabledError signals the delegation feature flag is off for an action
func NewFeatureDisabledError(action string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeFeatureDisabled,
		Message:    "delegation is not activated",
		Details:    map[string]interface{}{"action": action},
	}
}

// NewDelegationNotAllowedError signals the address is not on the platform allow-list
func NewDelegationNotAllowedError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeDelegationNotAllowed,
		Message:    "delegation is not activated for this address",
		Details:    map[string]interface{}{"address": address},
	}
}

// NewInvalidSignatureError signals signature recovery mismatch or identity mismatch
func NewInvalidSignatureError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeInvalidSignature,
		Message:    "invalid signature",
	}
}

// NewEmailNotVerifiedError signals the acting user has no verified email
func NewEmailNotVerifiedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeEmailNotVerified,
		Message:    "email not verified",
	}
}

// NewQuotaExceededError signals the weekly delegated transaction ceiling was hit
func NewQuotaExceededError(count, ceiling int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeQuotaExceeded,
		Message:    "weekly transaction quota exceeded",
		Details: map[string]interface{}{
			"count":   count,
			"ceiling": ceiling,
		},
	}
}

// NewUnauthorizedError creates a generic unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// Validation / lookup errors

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidInput,
		Message:    reason,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewProfileConflictError translates a uniqueness violation on profile
// claiming into a domain message.
func NewProfileConflictError(field string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeProfileConflict,
		Message:    fmt.Sprintf("a profile already exists with this %s", field),
		Details:    map[string]interface{}{"field": field},
	}
}

// Infrastructure errors (5xx). The relay path surfaces these without retry;
// the dispatch path relies on the next scheduled run.

// NewRPCUnavailableError signals the blockchain RPC endpoint could not be reached
func NewRPCUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeRPCUnavailable,
		Message:    "blockchain RPC unavailable",
		Cause:      cause,
	}
}

// NewContractRevertError surfaces a reverted contract call with the decoded
// reason when available.
func NewContractRevertError(reason string, cause error) *CategorizedError {
	msg := "contract call reverted"
	details := map[string]interface{}{}
	if reason != "" {
		details["reason"] = reason
	}
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeContractRevert,
		Message:    msg,
		Details:    details,
		Cause:      cause,
	}
}

// NewInsufficientRoleError signals the relay credential lacks a required
// contract role. Fatal misconfiguration, not per-request.
func NewInsufficientRoleError(action string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInsufficientRole,
		Message:    fmt.Sprintf("relay credential lacks the role required for %s", action),
		Details:    map[string]interface{}{"action": action},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewSubgraphError creates an indexing service error
func NewSubgraphError(query string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusBadGateway,
		Code:       CodeSubgraphError,
		Message:    fmt.Sprintf("subgraph query failed: %s", query),
		Cause:      cause,
		Details:    map[string]interface{}{"query": query},
	}
}

// NewProviderError creates a mail provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("mail provider error: %s", provider),
		Cause:      cause,
		Details:    map[string]interface{}{"provider": provider},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInfrastructure,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// EmptyError marks an expected empty result at a dispatch filter stage. The
// run terminates successfully when one is raised.
type EmptyError struct {
	Stage   string
	Message string
}

func (e *EmptyError) Error() string {
	return e.Message
}

// NewEmptyError creates an empty-stage marker
func NewEmptyError(stage, message string) *EmptyError {
	return &EmptyError{Stage: stage, Message: message}
}

// IsEmpty reports whether err marks an empty dispatch stage
func IsEmpty(err error) bool {
	var empty *EmptyError
	return errors.As(err, &empty)
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsAuthorization reports whether err is an admission failure
func IsAuthorization(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryAuthorization
}
