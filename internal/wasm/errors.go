package wasm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosureDropped is returned when an inert closure is invoked.
var ErrClosureDropped = errors.New("closure invoked recursively or after being dropped")

// ErrBridgeClosed is returned by calls on a closed bridge.
var ErrBridgeClosed = errors.New("bridge is closed")

// FetchError occurs when module bytes cannot be obtained from a source.
type FetchError struct {
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to fetch Wasm module '%s' (status %d): %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("failed to fetch Wasm module '%s': %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// UnknownImportError occurs when a module declares an import the catalogue
// cannot satisfy.
type UnknownImportError struct {
	Module    string
	Name      string
	Signature string
}

func (e *UnknownImportError) Error() string {
	return fmt.Sprintf("unknown import '%s.%s' with signature %s", e.Module, e.Name, e.Signature)
}

// FunctionNotFoundError occurs when an exported function is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// DecodeError occurs when guest bytes are not valid UTF-8.
type DecodeError struct {
	Address uint32
	Length  uint32
	// Offset is the position of the first invalid byte.
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8 at offset %d of string (addr=%d, len=%d)",
		e.Offset, e.Address, e.Length)
}

// HostFunctionError occurs when host function execution fails
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// ThrownError is raised by the module through __wbindgen_throw.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string {
	return e.Message
}

// GuestCallError occurs when a call into an export fails. It unwraps to the
// host-side cause when one is known, so errors.As finds a ThrownError or
// HostFunctionError raised inside the guest.
type GuestCallError struct {
	Export string
	Err    error
}

func (e *GuestCallError) Error() string {
	return fmt.Sprintf("call to export '%s' failed: %v", e.Export, e.Err)
}

func (e *GuestCallError) Unwrap() error {
	return e.Err
}

func formatSignature(params, results []string) string {
	return "(" + strings.Join(params, ",") + ")->(" + strings.Join(results, ",") + ")"
}
