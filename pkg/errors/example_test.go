package errors_test

import (
	"fmt"
	"io"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to reach ClickHouse").
		WithDetail("url", "http://clickhouse:8123")

	fmt.Println(err.Error())

	// Output:
	// connection: failed to reach ClickHouse
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeData, "failed to read summary header")

	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("data error")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// data error
	// caused by EOF
}

// ExampleIsRetryable shows which errors are worth another attempt.
func ExampleIsRetryable() {
	timeout := errors.New(errors.ErrorTypeTimeout, "request timed out")
	invalid := errors.New(errors.ErrorTypeValidation, "'limit' must be greater than 0!")

	fmt.Println(errors.IsRetryable(timeout))
	fmt.Println(errors.IsRetryable(invalid))

	// Output:
	// true
	// false
}
