// Package chaterr defines the family:context error codes returned by the chat API.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Family is the part of a code before the colon.
type Family string

const (
	BadRequest   Family = "bad_request"
	Unauthorized Family = "unauthorized"
	Forbidden    Family = "forbidden"
	NotFound     Family = "not_found"
	RateLimit    Family = "rate_limit"
	Offline      Family = "offline"
)

// Code is a full "family:context" error code.
type Code string

const (
	CodeBadRequestAPI      Code = "bad_request:api"
	CodeActivateGateway    Code = "bad_request:activate_gateway"
	CodeUnauthorizedChat   Code = "unauthorized:chat"
	CodeForbiddenChat      Code = "forbidden:chat"
	CodeForbiddenRoute     Code = "forbidden:route"
	CodeNotFoundChat       Code = "not_found:chat"
	CodeRateLimitChat      Code = "rate_limit:chat"
	CodeOfflineChat        Code = "offline:chat"
	CodeOfflineStream      Code = "offline:stream"
	CodeBadRequestDatabase Code = "bad_request:database"
)

// StreamApology is the only text a client sees when a stream fails midway.
const StreamApology = "Oops, an error occurred!"

// Error is the structured error surfaced to HTTP clients.
type Error struct {
	Code  Code   `json:"code"`
	Cause string `json:"cause,omitempty"`
	err   error
}

// New builds an Error with a human readable cause.
func New(code Code, cause string) *Error {
	return &Error{Code: code, Cause: cause}
}

// Wrap builds an Error that keeps err for errors.Is/As but never exposes it to the client.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	}
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.err }

// Family returns the code family; unknown codes fall into offline.
func (e *Error) Family() Family {
	family, _, _ := strings.Cut(string(e.Code), ":")
	switch Family(family) {
	case BadRequest, Unauthorized, Forbidden, NotFound, RateLimit, Offline:
		return Family(family)
	default:
		return Offline
	}
}

// Status maps the family to an HTTP status.
func (e *Error) Status() int {
	switch e.Family() {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// As extracts an *Error from err. Anything else becomes offline:chat so internals never leak.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if IsBillingNotActivated(err) {
		return Wrap(CodeActivateGateway, err)
	}
	return Wrap(CodeOfflineChat, err)
}

// IsBillingNotActivated recognises the upstream gateway's "activate billing" failure.
func IsBillingNotActivated(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "customer verification") ||
		strings.Contains(msg, "billing not activated") ||
		strings.Contains(msg, "accountoverdue")
}
