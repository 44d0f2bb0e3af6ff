package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "once/pkg/domain-errors"
)

// ErrorResponse is the OAuth 2.0 shaped error body (RFC 6749 §5.2).
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, an encoding failure cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses.
// Only the domain error's own message is exposed; wrapped causes never are.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		if domainErr.Code == dErrors.CodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		}
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorResponse{
			Error:       DomainCodeToHTTPCode(domainErr.Code),
			Description: domainErr.Message,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: DomainCodeToHTTPCode(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeCertificateMalformed:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeCertificateRejected:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeAccessDenied:
		return http.StatusForbidden
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeInternal, dErrors.CodeInvariantViolation:
		return http.StatusInternalServerError
	case dErrors.CodeInvalidClient:
		return http.StatusUnauthorized
	case dErrors.CodeInvalidGrant, dErrors.CodeUnsupportedGrantType, dErrors.CodeInvalidRequest, dErrors.CodeInvalidScope:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the "error" member of the JSON body.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "bad_request"
	case dErrors.CodeValidation:
		return "validation_error"
	case dErrors.CodeUnauthorized:
		return "unauthorized"
	case dErrors.CodeForbidden:
		return "forbidden"
	case dErrors.CodeUnavailable:
		return "temporarily_unavailable"
	case dErrors.CodeRateLimited:
		return "rate_limit_exceeded"
	case dErrors.CodeCertificateRejected:
		return "certificate_rejected"
	case dErrors.CodeCertificateMalformed:
		return "certificate_malformed"
	case dErrors.CodeInvalidGrant:
		return "invalid_grant"
	case dErrors.CodeInvalidClient:
		return "invalid_client"
	case dErrors.CodeUnsupportedGrantType:
		return "unsupported_grant_type"
	case dErrors.CodeInvalidRequest:
		return "invalid_request"
	case dErrors.CodeInvalidScope:
		return "invalid_scope"
	case dErrors.CodeAccessDenied:
		return "access_denied"
	default:
		return "server_error"
	}
}
