package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
)

// ErrorClass buckets provider API failures for retry and control mapping.
type ErrorClass string

const (
	ClassNotFound     ErrorClass = "notFound"
	ClassAccessDenied ErrorClass = "accessDenied"
	ClassThrottled    ErrorClass = "throttled"
	ClassTransient    ErrorClass = "transient"
	ClassPermanent    ErrorClass = "permanent"
)

// AdapterError wraps a provider API failure with its classification.
type AdapterError struct {
	Class ErrorClass
	Op    string
	Cause error
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Cause)
}

// Unwrap returns the cause
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure should be retried
func (e *AdapterError) Retryable() bool {
	return e.Class == ClassThrottled || e.Class == ClassTransient
}

// ClassOf extracts the classification of an error; nil errors have no class.
func ClassOf(err error) (ErrorClass, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Class, true
	}
	return "", false
}

func isAccessDeniedCode(code string) bool {
	switch code {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation",
		"AuthFailure", "InvalidClientTokenId", "ExpiredToken":
		return true
	}
	return false
}

func isThrottledCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "TooManyRequestsException",
		"RequestLimitExceeded", "RequestThrottled", "SlowDown",
		"ProvisionedThroughputExceededException":
		return true
	}
	return false
}

func isNotFoundCode(code string) bool {
	switch code {
	case "NoSuchEntity", "NotFound", "NotFoundException", "NoSuchBucket",
		"NoSuchKey", "ResourceNotFoundException", "TrailNotFoundException",
		"DBInstanceNotFound", "NoSuchPublicAccessBlockConfiguration",
		"ServerSideEncryptionConfigurationNotFoundError":
		return true
	}
	return false
}

func isTransientCode(code string) bool {
	switch code {
	case "RequestTimeout", "ServiceUnavailable", "InternalError",
		"InternalFailure", "ServiceFailure", "IDPCommunicationError":
		return true
	}
	return false
}

// Classify wraps a raw provider error into an AdapterError. Context
// cancellation and network failures classify as transient so the retry
// layer and the engines can treat them uniformly.
func Classify(op string, err error) *AdapterError {
	if err == nil {
		return nil
	}

	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}

	class := ClassPermanent

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case isAccessDeniedCode(code):
			class = ClassAccessDenied
		case isThrottledCode(code):
			class = ClassThrottled
		case isNotFoundCode(code):
			class = ClassNotFound
		case isTransientCode(code):
			class = ClassTransient
		}
	} else {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			class = ClassTransient
		case errors.As(err, &netErr):
			class = ClassTransient
		}
	}

	return &AdapterError{Class: class, Op: op, Cause: err}
}
