// internal/service/connect_request.go
package service

import (
	"fmt"
	"time"

	"acquisition-service/internal/decoder"
	"acquisition-service/internal/model"
	"acquisition-service/internal/transport"
)

const (
	// MaxCapacity bounds the per-channel history a connect command may ask for
	MaxCapacity = 1 << 20
	// MaxChannels bounds the channel limit a connect command may ask for
	MaxChannels = 1024
)

// connectPlan is a validated connect command with defaults applied
type connectPlan struct {
	selector    transport.Selector
	settings    transport.Settings
	decoder     decoder.Config
	capacity    int
	maxChannels int
}

// resolveRequest merges req with the configured defaults and validates the result
func (s *AcquisitionService) resolveRequest(req *model.ConnectRequest) (connectPlan, error) {
	var plan connectPlan

	if req == nil {
		return plan, fmt.Errorf("connect request is required")
	}

	for name, value := range map[string]int{
		"baud_rate":       req.BaudRate,
		"data_bits":       req.DataBits,
		"max_pending":     req.MaxPending,
		"capacity":        req.Capacity,
		"max_channels":    req.MaxChannels,
		"read_timeout_ms": req.ReadTimeoutMs,
	} {
		if value < 0 {
			return plan, fmt.Errorf("%s must not be negative", name)
		}
	}

	sel, err := transport.ParseSelector(req.Selector)
	if err != nil {
		return plan, err
	}
	plan.selector = sel

	serialCfg := s.config.Serial
	plan.settings = transport.Settings{
		Driver:         pick(req.Driver, serialCfg.Driver),
		BaudRate:       pickInt(req.BaudRate, serialCfg.BaudRate),
		DataBits:       pickInt(req.DataBits, serialCfg.DataBits),
		Parity:         pick(req.Parity, serialCfg.Parity),
		StopBits:       pick(req.StopBits, serialCfg.StopBits),
		FlowControl:    pick(req.FlowControl, serialCfg.FlowControl),
		ReadTimeout:    serialCfg.ReadTimeout,
		ReadBufferSize: serialCfg.ReadBufferSize,
		ConnectTimeout: serialCfg.ConnectTimeout,
	}
	if req.ReadTimeoutMs > 0 {
		plan.settings.ReadTimeout = time.Duration(req.ReadTimeoutMs) * time.Millisecond
	}
	if plan.settings.ConnectTimeout <= 0 {
		plan.settings.ConnectTimeout = 5 * time.Second
	}
	if plan.settings.BaudRate <= 0 {
		return plan, fmt.Errorf("baud_rate must be positive")
	}
	if err := plan.settings.Validate(sel.Kind); err != nil {
		return plan, err
	}

	decoderCfg := s.config.Decoder
	plan.decoder = decoder.Config{
		Framing:         model.FramingMode(pick(string(req.Framing), decoderCfg.Framing)),
		FieldSeparators: pick(req.FieldSeparators, decoderCfg.FieldSeparators),
		Delimiter:       pick(req.Delimiter, decoderCfg.Delimiter),
		ChannelNaming:   model.ChannelNaming(pick(string(req.ChannelNaming), decoderCfg.ChannelNaming)),
		MaxPending:      pickInt(req.MaxPending, decoderCfg.MaxPending),
	}
	// Building a decoder validates framing, naming and delimiter
	if _, err := decoder.New(plan.decoder); err != nil {
		return plan, err
	}

	plan.capacity = pickInt(req.Capacity, s.config.Store.Capacity)
	if plan.capacity <= 0 {
		return plan, fmt.Errorf("capacity must be positive")
	}
	if plan.capacity > MaxCapacity {
		return plan, fmt.Errorf("capacity must not exceed %d", MaxCapacity)
	}

	plan.maxChannels = pickInt(req.MaxChannels, s.config.Store.MaxChannels)
	if plan.maxChannels <= 0 {
		return plan, fmt.Errorf("max_channels must be positive")
	}
	if plan.maxChannels > MaxChannels {
		return plan, fmt.Errorf("max_channels must not exceed %d", MaxChannels)
	}

	return plan, nil
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func pickInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
