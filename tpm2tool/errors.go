package tpm2tool

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// Process exit statuses, matching the classic tool convention: anything the
// user got wrong on the command line is distinguishable from a runtime or TPM
// failure.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitOptionError  = 2
)

// OptionError reports malformed or missing user input (bad auth spec, bad
// handle string, missing required flag value).
type OptionError struct {
	Msg string
}

func (e *OptionError) Error() string {
	return e.Msg
}

func OptionErrorf(format string, args ...interface{}) error {
	return &OptionError{Msg: fmt.Sprintf(format, args...)}
}

// ProtocolError wraps a TPM response status. The status is authoritative and
// final for the invocation: callers never retry.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ResourceExhaustedError reports that the TPM is out of session or object
// slots. The user must flush something before retrying.
type ResourceExhaustedError struct {
	Op  string
	Err error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s: out of TPM resources: %v", e.Op, e.Err)
}

func (e *ResourceExhaustedError) Unwrap() error {
	return e.Err
}

// FormatError reports a malformed persisted file (context, credential or
// policy file).
type FormatError struct {
	Path string
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// UnsupportedKeyTypeError reports a signing key whose public type has no
// signature scheme mapping.
type UnsupportedKeyTypeError struct {
	Type tpm2.Algorithm
}

func (e *UnsupportedKeyTypeError) Error() string {
	return fmt.Sprintf("unsupported signing key type 0x%x", uint16(e.Type))
}

// wrapTPMErr classifies an error returned by a TPM command. Slot-exhaustion
// warnings become ResourceExhaustedError; every other TPM status becomes a
// ProtocolError carrying the decoded response code. Transport and I/O errors
// pass through unclassified.
func wrapTPMErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var warn tpm2.Warning
	if errors.As(err, &warn) {
		switch warn.Code {
		case tpm2.RCSessionHandles, tpm2.RCObjectHandles,
			tpm2.RCSessionMemory, tpm2.RCObjectMemory, tpm2.RCMemory:
			return &ResourceExhaustedError{Op: op, Err: err}
		}
		return &ProtocolError{Op: op, Err: err}
	}
	var (
		tpmErr  tpm2.Error
		vendor  tpm2.VendorError
		param   tpm2.ParameterError
		handle  tpm2.HandleError
		session tpm2.SessionError
	)
	if errors.As(err, &tpmErr) || errors.As(err, &vendor) ||
		errors.As(err, &param) || errors.As(err, &handle) || errors.As(err, &session) {
		return &ProtocolError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ExitCode maps an error to the process exit status taxonomy.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var oe *OptionError
	if errors.As(err, &oe) {
		return ExitOptionError
	}
	return ExitGeneralError
}
