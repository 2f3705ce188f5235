//go:build js && wasm

// internal/transport/webserial_js.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"syscall/js"
	"time"

	"go.uber.org/zap"
)

// jsResult is the settled value of a JavaScript promise
type jsResult struct {
	value js.Value
	err   error
}

// await settles p on a channel. The callbacks are released once it settles.
func await(p js.Value) <-chan jsResult {
	ch := make(chan jsResult, 1)

	var then, catch js.Func
	release := func() {
		then.Release()
		catch.Release()
	}
	then = js.FuncOf(func(_ js.Value, args []js.Value) any {
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		ch <- jsResult{value: v}
		release()
		return nil
	})
	catch = js.FuncOf(func(_ js.Value, args []js.Value) any {
		msg := "promise rejected"
		if len(args) > 0 {
			msg = args[0].Call("toString").String()
		}
		ch <- jsResult{err: errors.New(msg)}
		release()
		return nil
	})

	p.Call("then", then).Call("catch", catch)
	return ch
}

// awaitCtx waits for p or ctx, whichever comes first
func awaitCtx(ctx context.Context, p js.Value) (js.Value, error) {
	select {
	case r := <-await(p):
		return r.value, r.err
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

// webSerial reads a port granted to the page through navigator.serial
type webSerial struct {
	sel      Selector
	settings Settings
	port     js.Value
	reader   js.Value
	logger   *zap.Logger

	// pending holds a read whose promise outlived the read timeout. The next
	// ReadChunk continues waiting on it so no bytes are dropped.
	pending <-chan jsResult

	done chan struct{}
	once sync.Once
}

// OpenWebSerial opens a port the user already granted to the page.
// sel.Address is the index into navigator.serial.getPorts(), 0 when empty.
func OpenWebSerial(ctx context.Context, sel Selector, settings Settings) (Transport, error) {
	settings = settings.withDefaults()
	logger := settings.Logger.With(
		zap.String("transport", "webserial"),
		zap.String("port", sel.Address),
	)

	serial := js.Global().Get("navigator").Get("serial")
	if serial.IsUndefined() {
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: errors.New("web serial is not supported by this browser")}
	}

	index := 0
	if sel.Address != "" {
		i, err := strconv.Atoi(sel.Address)
		if err != nil || i < 0 {
			return nil, &ConnectionError{Selector: sel, Op: "configure", Err: fmt.Errorf("invalid port index %q", sel.Address)}
		}
		index = i
	}

	ports, err := awaitCtx(ctx, serial.Call("getPorts"))
	if err != nil {
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: err}
	}
	if index >= ports.Length() {
		return nil, &ConnectionError{Selector: sel, Op: "not found", Err: fmt.Errorf("no granted serial port at index %d", index)}
	}
	port := ports.Index(index)

	options := map[string]any{
		"baudRate":   settings.BaudRate,
		"dataBits":   settings.DataBits,
		"parity":     settings.Parity,
		"bufferSize": settings.ReadBufferSize,
	}
	switch settings.StopBits {
	case "1":
		options["stopBits"] = 1
	case "2":
		options["stopBits"] = 2
	default:
		return nil, &ConnectionError{Selector: sel, Op: "invalid settings", Err: fmt.Errorf("unsupported stop bits: %q", settings.StopBits)}
	}
	if settings.Parity != "none" && settings.Parity != "even" && settings.Parity != "odd" {
		return nil, &ConnectionError{Selector: sel, Op: "invalid settings", Err: fmt.Errorf("unsupported parity: %q", settings.Parity)}
	}
	switch settings.FlowControl {
	case FlowControlNone, FlowControlHardware:
		options["flowControl"] = settings.FlowControl
	default:
		return nil, &ConnectionError{Selector: sel, Op: "invalid settings", Err: fmt.Errorf("unsupported flow control: %q", settings.FlowControl)}
	}

	logger.Info("Opening web serial port", zap.Int("baud_rate", settings.BaudRate))

	// open() rejects when the port is already open or the device is gone
	if _, err := awaitCtx(ctx, port.Call("open", js.ValueOf(options))); err != nil {
		logger.Error("Failed to open web serial port", zap.Error(err))
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: err}
	}

	readable := port.Get("readable")
	if readable.IsNull() || readable.IsUndefined() {
		port.Call("close")
		return nil, &ConnectionError{Selector: sel, Op: "open", Err: errors.New("port has no readable stream")}
	}

	logger.Info("Web serial port opened successfully")
	return &webSerial{
		sel:      sel,
		settings: settings,
		port:     port,
		reader:   readable.Call("getReader"),
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// ReadChunk awaits reader.read(), giving up after the read timeout with ErrEmpty
func (w *webSerial) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-w.done:
		return nil, &IoError{Selector: w.sel, Op: "read", Err: ErrClosed}
	default:
	}

	if w.pending == nil {
		w.pending = await(w.reader.Call("read"))
	}

	timer := time.NewTimer(w.settings.ReadTimeout)
	defer timer.Stop()

	select {
	case r := <-w.pending:
		w.pending = nil
		if r.err != nil {
			return nil, &IoError{Selector: w.sel, Op: "read", Err: r.err}
		}
		if r.value.Get("done").Bool() {
			select {
			case <-w.done:
				return nil, &IoError{Selector: w.sel, Op: "read", Err: ErrClosed}
			default:
				return nil, &IoError{Selector: w.sel, Op: "read", Err: errors.New("stream ended")}
			}
		}
		value := r.value.Get("value")
		if value.IsUndefined() || value.Length() == 0 {
			return nil, ErrEmpty
		}
		data := make([]byte, value.Length())
		js.CopyBytesToGo(data, value)
		return data, nil

	case <-timer.C:
		return nil, ErrEmpty
	case <-w.done:
		return nil, &IoError{Selector: w.sel, Op: "read", Err: ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the reader so a pending read resolves, then closes the port
func (w *webSerial) Close() error {
	var closeErr error
	w.once.Do(func() {
		close(w.done)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if _, err := awaitCtx(ctx, w.reader.Call("cancel")); err != nil {
			w.logger.Warn("Failed to cancel web serial reader", zap.Error(err))
		}
		w.reader.Call("releaseLock")

		if _, err := awaitCtx(ctx, w.port.Call("close")); err != nil {
			closeErr = fmt.Errorf("failed to close web serial port: %w", err)
			w.logger.Error("Failed to close web serial port", zap.Error(err))
			return
		}
		w.logger.Info("Web serial port closed successfully")
	})
	return closeErr
}

func (w *webSerial) Info() Info {
	return Info{
		Kind:     KindWebSerial,
		Address:  w.sel.Address,
		BaudRate: w.settings.BaudRate,
	}
}
