package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wbg "github.com/woxQAQ/wasm-host-bridge/api/wasm"
	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
)

// toHostError converts a Go error into the exception object the guest sees.
// Errors that already wrap a *dom.Error keep their name and message.
func toHostError(importName string, err error) *HostError {
	var domErr *dom.Error
	if errors.As(err, &domErr) {
		out := *domErr
		if out.Stack == "" {
			out.Stack = fmt.Sprintf("%s\n    at %s", out.Error(), importName)
		}
		return &out
	}
	e := &HostError{Name: "Error", Message: err.Error()}
	e.Stack = fmt.Sprintf("%s\n    at %s", e.Error(), importName)
	return e
}

// storeException hands err to the guest through the exn_store export. The
// guest reads it back as the Err of the fallible call that just returned.
func (b *Bridge) storeException(ctx context.Context, importName string, err error) error {
	if b.exports.exnStore == nil {
		return &FunctionNotFoundError{ModuleName: b.ID, FunctionName: wbg.ExportExnStore}
	}
	hostErr := toHostError(importName, err)
	h := b.heap.Add(hostErr)

	b.logger.Debug("Host exception stored",
		zap.String("import", importName),
		zap.Uint32("handle", h),
		zap.Error(err),
	)

	if _, cerr := b.exports.exnStore.Call(ctx, api.EncodeU32(h)); cerr != nil {
		b.heap.Drop(h)
		return cerr
	}
	return nil
}

// raise aborts the current guest call with err. wazero recovers the panic
// and returns it, wrapped, from the outermost api.Function.Call.
func raise(importName string, err error) {
	var thrown *ThrownError
	if errors.As(err, &thrown) {
		panic(thrown)
	}
	var hostErr *HostFunctionError
	if errors.As(err, &hostErr) {
		panic(hostErr)
	}
	panic(&HostFunctionError{FunctionName: importName, Err: err})
}
