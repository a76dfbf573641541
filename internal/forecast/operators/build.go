package operators

import (
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// Backend selects the operator implementation.
type Backend string

const (
	BackendRemote      Backend = "remote"
	BackendPersistence Backend = "persistence"
)

// Options configure NewRegistry.
type Options struct {
	Backend Backend
	BaseURL string
	Steps   []time.Duration
	Client  *http.Client
	Backoff BackoffConfig
}

// OperatorName is the conventional name of the operator for a step, e.g.
// pangu_weather_6 for the six-hour model.
func OperatorName(step time.Duration) string {
	if step%time.Hour == 0 {
		return fmt.Sprintf("pangu_weather_%d", int(step/time.Hour))
	}
	return fmt.Sprintf("pangu_weather_%s", step)
}

// NewRegistry builds a registry with one operator per configured step.
func NewRegistry(opts Options, codec *forecast.Codec) (*forecast.Registry, error) {
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("no operator steps configured")
	}

	reg := forecast.NewRegistry()
	for _, step := range opts.Steps {
		d := forecast.Descriptor{Step: step}
		switch opts.Backend {
		case BackendRemote:
			d.Name = OperatorName(step)
			op, err := NewRemoteOperator(opts.Client, opts.BaseURL, d.Name, opts.Backoff)
			if err != nil {
				return nil, err
			}
			d.Operator = op
		case BackendPersistence:
			d.Name = fmt.Sprintf("persistence_%s", step)
			d.Operator = Persistence{}
		default:
			return nil, fmt.Errorf("unknown operator backend %q (allowed: remote, persistence)", opts.Backend)
		}
		if err := reg.Register(d, codec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
