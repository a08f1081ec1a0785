package suncloud

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCrypto reports bad key material, bad padding or a malformed body.
	ErrCrypto = errors.New("crypto failure")
	// ErrTransport reports a connection error or a non-2xx status.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol reports an unsuccessful envelope or a missing field.
	ErrProtocol = errors.New("protocol failure")
	// ErrBootstrap reports a bootstrap step that could not complete.
	ErrBootstrap = errors.New("bootstrap failure")
	// ErrNoTelemetry reports a realtime answer without any point value.
	ErrNoTelemetry = errors.New("no telemetry returned")
)

// ProtocolError describes an envelope the gateway did not answer successfully.
type ProtocolError struct {
	Endpoint string
	Code     string
	Message  string
	Field    string
}

func (e *ProtocolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: missing %s in result_data", e.Endpoint, e.Field)
	}
	return fmt.Sprintf("%s: result_code %q: %s", e.Endpoint, e.Code, e.Message)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func missingField(endpoint, field string) error {
	return &ProtocolError{Endpoint: endpoint, Code: successCode, Field: field}
}

// BootstrapError names the bootstrap step that failed.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap step %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

func (e *BootstrapError) Is(target error) bool {
	return target == ErrBootstrap
}
