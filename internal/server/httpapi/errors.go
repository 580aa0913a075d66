package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	status int
	body   errorResponse
}

// errorTable maps service sentinels onto the wire. Order matters only for
// errors that wrap more than one sentinel.
var errorTable = []struct {
	target error
	apiError
}{
	{common.ErrDuplicateEmail, apiError{http.StatusConflict, errorResponse{"EMAIL_TAKEN", "email already in use"}}},
	{common.ErrAlreadyVerified, apiError{http.StatusConflict, errorResponse{"ALREADY_VERIFIED", "account already verified"}}},
	{common.ErrInvalidCredentials, apiError{http.StatusUnauthorized, errorResponse{"INVALID_CREDENTIALS", "invalid credentials"}}},
	{common.ErrUnverified, apiError{http.StatusForbidden, errorResponse{"UNVERIFIED", "email address not verified"}}},
	{common.ErrInvalidOrExpiredToken, apiError{http.StatusUnauthorized, errorResponse{"INVALID_TOKEN", "invalid or expired token"}}},
	{common.ErrMissingToken, apiError{http.StatusUnauthorized, errorResponse{"MISSING_TOKEN", "missing token"}}},
	{common.ErrForbidden, apiError{http.StatusForbidden, errorResponse{"FORBIDDEN", "forbidden"}}},
	{common.ErrorNotFound, apiError{http.StatusNotFound, errorResponse{"NOT_FOUND", "not found"}}},
	{common.ErrRateLimited, apiError{http.StatusTooManyRequests, errorResponse{"RATE_LIMITED", "too many requests"}}},
	{context.DeadlineExceeded, apiError{http.StatusServiceUnavailable, errorResponse{"UNAVAILABLE", "request timed out"}}},
	{context.Canceled, apiError{http.StatusServiceUnavailable, errorResponse{"UNAVAILABLE", "request cancelled"}}},
}

var internalError = apiError{http.StatusInternalServerError, errorResponse{"INTERNAL_ERROR", "internal error"}}

var invalidRequest = errorResponse{"INVALID_REQUEST", "invalid payload"}

func toAPIError(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return internalError
}

// abortWithError writes the mapped response for err. Unmapped errors
// become a bare 500; their text never reaches the client.
func abortWithError(c *gin.Context, err error) {
	e := toAPIError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.status, e.body)
}

func abortInvalid(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, invalidRequest)
}
