package operators

import (
	"context"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// Persistence is the baseline forecast: the state after the step equals the
// state before it. It needs no weights and is used for dry runs.
type Persistence struct{}

// Apply returns a copy of the input.
func (Persistence) Apply(ctx context.Context, in forecast.Tensors) (forecast.Tensors, error) {
	if err := ctx.Err(); err != nil {
		return forecast.Tensors{}, err
	}
	return forecast.Tensors{
		Surface: forecast.Tensor{
			Shape: append(forecast.Shape(nil), in.Surface.Shape...),
			Data:  append([]float32(nil), in.Surface.Data...),
		},
		Upper: forecast.Tensor{
			Shape: append(forecast.Shape(nil), in.Upper.Shape...),
			Data:  append([]float32(nil), in.Upper.Data...),
		},
	}, nil
}
