//go:build !js

// internal/transport/open_native.go
package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func openSerial(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	if sel.Address == AutoPort {
		name, err := AutoSelectPort()
		if err != nil {
			return nil, &ConnectionError{Selector: sel, Op: "not found", Err: err}
		}
		settings.Logger.Info("Auto-selected serial port", zap.String("port", name))
		sel.Address = name
	}

	switch settings.Driver {
	case "", "bugst":
		return OpenBugstSerial(ctx, sel, settings)
	case "tarm":
		return OpenTarmSerial(ctx, sel, settings)
	default:
		return nil, &ConnectionError{Selector: sel, Op: "configure", Err: fmt.Errorf("unknown serial driver %q", settings.Driver)}
	}
}

func openWebSerial(_ context.Context, sel Selector, _ Settings) (Transport, error) {
	return nil, &ConnectionError{Selector: sel, Op: "open", Err: fmt.Errorf("web serial is only available in the browser build")}
}
