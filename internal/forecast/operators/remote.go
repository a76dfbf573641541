package operators

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// RemoteOperator implements forecast.StepOperator by posting tensor frames to
// an inference server that hosts the pretrained weights.
type RemoteOperator struct {
	name    string
	url     string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewRemoteOperator returns an operator served at <baseURL>/v1/operators/<name>:apply.
func NewRemoteOperator(client *http.Client, baseURL, name string, backoff BackoffConfig) (*RemoteOperator, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid operator base url %q", baseURL)
	}
	if backoff.InitialInterval <= 0 {
		backoff.InitialInterval = 500 * time.Millisecond
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &RemoteOperator{
		name: name,
		url:  strings.TrimRight(baseURL, "/") + "/v1/operators/" + url.PathEscape(name) + ":apply",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: cb,
	}, nil
}

// Name returns the operator name on the inference server.
func (p *RemoteOperator) Name() string {
	return p.name
}

// Apply sends the input tensors and returns the server's prediction.
func (p *RemoteOperator) Apply(ctx context.Context, in forecast.Tensors) (forecast.Tensors, error) {
	body, err := EncodeFrame(in)
	if err != nil {
		return forecast.Tensors{}, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", ContentType)
		req.Header.Set("Content-Encoding", "zstd")
		req.Header.Set("Accept", ContentType)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	out, err := DecodeFrame(payload)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("%s: %w", p.name, err)
	}
	return out, nil
}
