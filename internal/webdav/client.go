package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Client presents one transport-agnostic API over the mode selected by
// the connectivity config. Mode detection builds both transports from
// the same config without touching the bound one.
type Client struct {
	cfg       *ConnectivityConfig
	opts      Options
	transport Transport
	logger    *slog.Logger
}

// NewClient binds the transport selected by cfg.UseRelay.
func NewClient(cfg *ConnectivityConfig, opts Options) (*Client, error) {
	transport, err := NewTransport(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		opts:      opts,
		transport: transport,
		logger:    transportLogger(opts),
	}, nil
}

// ConnectionType reports the active mode from config alone.
func (c *Client) ConnectionType() Mode {
	return c.transport.Kind()
}

func (c *Client) Upload(ctx context.Context, name, content string) OperationResult {
	return c.transport.Upload(ctx, name, content)
}

func (c *Client) Download(ctx context.Context, name string) OperationResult {
	return c.transport.Download(ctx, name)
}

func (c *Client) List(ctx context.Context) OperationResult {
	return c.transport.List(ctx)
}

func (c *Client) Delete(ctx context.Context, name string) OperationResult {
	return c.transport.Delete(ctx, name)
}

// TestConnection delegates to the bound transport and augments the result
// with mode-specific advisory text.
func (c *Client) TestConnection(ctx context.Context) OperationResult {
	result := c.transport.TestConnection(ctx)

	switch c.transport.Kind() {
	case ModeDirect:
		if result.Success {
			result.Details = appendDetail(result.Details, "Direct mode works: the server accepts cross-origin requests from this client.")
		} else if result.IsWarning {
			result.Details = appendDetail(result.Details, "This is often normal for direct mode. Enabling relay mode usually resolves it.")
		}
	case ModeProxy:
		if result.Success {
			result.Details = appendDetail(result.Details, "Relay mode works: requests are routed through the server.")
		} else {
			result.Details = appendDetail(result.Details, "The relay could not complete the request against the configured server.")
		}
	}

	return result
}

func appendDetail(details, extra string) string {
	if details == "" {
		return extra
	}
	return details + " " + extra
}

// DetectBestMode probes both transports concurrently against the same
// config and recommends a mode. Direct wins when both work. The bound
// transport is not changed; callers decide whether to apply the
// recommendation.
func (c *Client) DetectBestMode(ctx context.Context) DetectionResult {
	var (
		wg        sync.WaitGroup
		directRes OperationResult
		proxyRes  OperationResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		directRes = c.probeMode(ctx, ModeDirect)
	}()
	go func() {
		defer wg.Done()
		proxyRes = c.probeMode(ctx, ModeProxy)
	}()
	wg.Wait()

	return decide(directRes, proxyRes)
}

// probeMode runs a connection test on a fresh transport of the given mode.
// A transport construction failure counts as a probe failure, not an error.
func (c *Client) probeMode(ctx context.Context, mode Mode) OperationResult {
	transport, err := NewTransportForMode(mode, c.cfg, c.opts)
	if err != nil {
		return OperationResult{
			Success: false,
			Message: fmt.Sprintf("Could not build %s transport", mode),
			Details: err.Error(),
		}
	}
	return transport.TestConnection(ctx)
}

// decide applies the mode recommendation table to the two probe outcomes.
func decide(direct, proxy OperationResult) DetectionResult {
	res := DetectionResult{
		Direct: &direct,
		Proxy:  &proxy,
	}

	switch {
	case direct.Success && proxy.Success:
		res.RecommendedMode = ModeDirect
		res.Success = true
		res.Recommendation = "Both modes work. Direct mode is recommended for lower latency."
	case direct.Success:
		res.RecommendedMode = ModeDirect
		res.Success = true
		res.Recommendation = "Direct mode works. The relay is unavailable or disabled."
	case proxy.Success:
		res.RecommendedMode = ModeProxy
		res.Success = true
		res.Recommendation = "Relay mode works. Direct access is blocked, likely by a cross-origin policy."
	default:
		res.RecommendedMode = ModeProxy
		res.Success = false
		res.Recommendation = "Neither mode could connect. Check the server URL and credentials. Relay mode is the safer default once connectivity is fixed."
	}

	return res
}
