package cloud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "boom"}
}

func TestClassifyAPICodes(t *testing.T) {
	cases := []struct {
		code string
		want ErrorClass
	}{
		{"AccessDenied", ClassAccessDenied},
		{"UnauthorizedOperation", ClassAccessDenied},
		{"ExpiredToken", ClassAccessDenied},
		{"Throttling", ClassThrottled},
		{"SlowDown", ClassThrottled},
		{"RequestLimitExceeded", ClassThrottled},
		{"NoSuchBucket", ClassNotFound},
		{"NoSuchEntity", ClassNotFound},
		{"NoSuchPublicAccessBlockConfiguration", ClassNotFound},
		{"ServerSideEncryptionConfigurationNotFoundError", ClassNotFound},
		{"ServiceUnavailable", ClassTransient},
		{"InternalError", ClassTransient},
		{"SomethingNovel", ClassPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			classified := Classify("op", apiError(tc.code))
			assert.Equal(t, tc.want, classified.Class)
		})
	}
}

func TestClassifyContextAndPlainErrors(t *testing.T) {
	deadline := Classify("op", context.DeadlineExceeded)
	assert.Equal(t, ClassTransient, deadline.Class)

	plain := Classify("op", fmt.Errorf("something broke"))
	assert.Equal(t, ClassPermanent, plain.Class)

	assert.Nil(t, Classify("op", nil))
}

func TestClassifyPreservesExistingClassification(t *testing.T) {
	original := &AdapterError{Class: ClassNotFound, Op: "s3:get-public-access-block"}
	wrapped := fmt.Errorf("while enriching: %w", original)

	classified := Classify("other-op", wrapped)
	assert.Equal(t, ClassNotFound, classified.Class)
	assert.Equal(t, "s3:get-public-access-block", classified.Op)
}

func TestRetryableClasses(t *testing.T) {
	assert.True(t, (&AdapterError{Class: ClassThrottled}).Retryable())
	assert.True(t, (&AdapterError{Class: ClassTransient}).Retryable())
	assert.False(t, (&AdapterError{Class: ClassNotFound}).Retryable())
	assert.False(t, (&AdapterError{Class: ClassAccessDenied}).Retryable())
	assert.False(t, (&AdapterError{Class: ClassPermanent}).Retryable())
}

func TestClassOf(t *testing.T) {
	class, ok := ClassOf(&AdapterError{Class: ClassThrottled})
	assert.True(t, ok)
	assert.Equal(t, ClassThrottled, class)

	_, ok = ClassOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestAdapterErrorUnwrap(t *testing.T) {
	cause := apiError("AccessDenied")
	classified := Classify("iam:list-users", cause)

	var apiErr smithy.APIError
	require.True(t, errors.As(classified, &apiErr))
	assert.Equal(t, "AccessDenied", apiErr.ErrorCode())
}
