package apperr

import "net/http"

// StatusCode maps a taxonomy Kind to the HTTP status code surfaced
// at the user-visible boundary.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthN:
		return http.StatusUnauthorized
	case KindAuthZ:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnexpectedConflict:
		return http.StatusConflict
	case KindTransient, KindTerminal, KindInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
