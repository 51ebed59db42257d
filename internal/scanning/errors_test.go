package scanning

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ = Describe("classifyCallError", func() {
	DescribeTable("tags the failure",
		func(in error, expected error) {
			Expect(errors.Is(classifyCallError(in), expected)).To(BeTrue())
		},
		Entry("deadline exceeded", fmt.Errorf("calling: %w", context.DeadlineExceeded), ErrTimeout),
		Entry("net timeout", timeoutError{}, ErrTimeout),
		Entry("gRPC deadline", status.Error(codes.DeadlineExceeded, "deadline"), ErrTimeout),
		Entry("gRPC unavailable", status.Error(codes.Unavailable, "down"), ErrNetwork),
		Entry("connection refused", errors.New("connection refused"), ErrNetwork),
		Entry("already invalid", fmt.Errorf("%w: empty", ErrInvalidResponse), ErrInvalidResponse),
	)

	It("passes cancellation through untagged", func() {
		err := classifyCallError(context.Canceled)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(errors.Is(err, ErrNetwork)).To(BeFalse())
	})

	It("returns nil for nil", func() {
		Expect(classifyCallError(nil)).To(BeNil())
	})
})

var _ = Describe("classifyDecodeError", func() {
	It("treats a malformed body as an invalid response", func() {
		Expect(errors.Is(classifyDecodeError(errors.New("unexpected EOF")), ErrInvalidResponse)).To(BeTrue())
	})

	It("treats a body cut off by the deadline as a timeout", func() {
		Expect(errors.Is(classifyDecodeError(context.DeadlineExceeded), ErrTimeout)).To(BeTrue())
	})
})
