//go:build js && wasm

// internal/transport/open_js.go
package transport

import (
	"context"
	"fmt"
)

func openSerial(_ context.Context, sel Selector, _ Settings) (Transport, error) {
	return nil, &ConnectionError{Selector: sel, Op: "open", Err: fmt.Errorf("native serial ports are not available in the browser, use webserial://")}
}

func openWebSerial(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	return OpenWebSerial(ctx, sel, settings)
}
