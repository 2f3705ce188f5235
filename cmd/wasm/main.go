//go:build js && wasm

// cmd/wasm/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/model"
	"acquisition-service/internal/service"
	"acquisition-service/internal/transport"
	"acquisition-service/internal/utils"
)

// jsSink forwards acquisition events to a page callback as JSON
type jsSink struct {
	mutex    sync.RWMutex
	callback js.Value
	logger   *zap.Logger
}

func (s *jsSink) setCallback(cb js.Value) {
	s.mutex.Lock()
	s.callback = cb
	s.mutex.Unlock()
}

// Publish implements service.EventSink
func (s *jsSink) Publish(event model.AcquisitionEvent) {
	s.mutex.RLock()
	cb := s.callback
	s.mutex.RUnlock()

	if cb.Type() != js.TypeFunction {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("Failed to marshal event", zap.Error(err))
		return
	}
	cb.Invoke(string(raw))
}

func main() {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("logging.output", "stdout")
	v.Set("logging.format", "console")

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to decode config: %v", err))
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	sink := &jsSink{callback: js.Undefined(), logger: logger}
	svc := service.NewAcquisitionService(&cfg, transport.Open, nil, sink, logger)

	exports := map[string]js.Func{
		"acquisitionConnect": js.FuncOf(func(_ js.Value, args []js.Value) any {
			var req model.ConnectRequest
			if len(args) > 0 && args[0].Type() == js.TypeString {
				if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
					return rejected(fmt.Errorf("invalid connect request: %w", err))
				}
			} else {
				req.Selector = "webserial://0"
			}
			return promise(func() (any, error) {
				return svc.Connect(context.Background(), &req)
			})
		}),
		"acquisitionDisconnect": js.FuncOf(func(_ js.Value, _ []js.Value) any {
			return promise(func() (any, error) {
				return svc.Disconnect(), nil
			})
		}),
		"acquisitionReset": js.FuncOf(func(_ js.Value, _ []js.Value) any {
			return promise(func() (any, error) {
				return svc.Reset(), nil
			})
		}),
		"acquisitionStatus": js.FuncOf(func(_ js.Value, _ []js.Value) any {
			return promise(func() (any, error) {
				return svc.Status(), nil
			})
		}),
		"acquisitionSnapshot": js.FuncOf(func(_ js.Value, args []js.Value) any {
			last := 0 // whole history
			if len(args) > 0 && args[0].Type() == js.TypeNumber {
				last = args[0].Int()
			}
			return promise(func() (any, error) {
				return map[string]any{
					"version":  svc.DataVersion(),
					"channels": svc.SeriesTail(last),
				}, nil
			})
		}),
		"acquisitionMonitor": js.FuncOf(func(_ js.Value, _ []js.Value) any {
			return promise(func() (any, error) {
				return svc.MonitorLines(), nil
			})
		}),
		"acquisitionOnEvent": js.FuncOf(func(_ js.Value, args []js.Value) any {
			if len(args) > 0 {
				sink.setCallback(args[0])
			}
			return nil
		}),
	}
	for name, fn := range exports {
		js.Global().Set(name, fn)
	}

	logger.Info("Acquisition host ready", zap.Int("functions", len(exports)))
	select {}
}

// promise runs fn on its own goroutine and settles a JavaScript Promise with
// its JSON encoded result. js.Func callbacks must not block.
func promise(fn func() (any, error)) js.Value {
	executor := js.FuncOf(func(_ js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			result, err := fn()
			if err != nil {
				reject.Invoke(jsError(err))
				return
			}
			raw, err := json.Marshal(result)
			if err != nil {
				reject.Invoke(jsError(err))
				return
			}
			resolve.Invoke(string(raw))
		}()
		return nil
	})
	defer executor.Release()

	// The executor runs synchronously inside the constructor
	return js.Global().Get("Promise").New(executor)
}

func rejected(err error) js.Value {
	return js.Global().Get("Promise").Call("reject", jsError(err))
}

func jsError(err error) js.Value {
	var connErr *transport.ConnectionError
	msg := err.Error()
	if errors.As(err, &connErr) {
		msg = "connection failed: " + msg
	}
	return js.Global().Get("Error").New(msg)
}
