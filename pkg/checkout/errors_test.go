package checkout

import (
	"errors"
	"testing"
)

func TestWrapErrorExposesSegments(test *testing.T) {
	test.Parallel()
	base := errors.New("boom")
	wrapped := WrapError(operationBegin, "payment", "create", base)
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != operationBegin || operationError.Subject() != "payment" || operationError.Code() != "create" {
		test.Fatalf("unexpected segments %+v", operationError)
	}
	if !errors.Is(wrapped, base) {
		test.Fatalf("expected wrapped error to unwrap to base")
	}
	if wrapped.Error() != "begin.payment.create: boom" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationPoll, "payment", "status", nil) != nil {
		test.Fatalf("expected nil")
	}
}
