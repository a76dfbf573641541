package forecast

import "time"

// Codec converts between AtmosphericState and the bare tensors operators use.
// A codec is bound to one grid and layout for the lifetime of a pipeline.
type Codec struct {
	grid     Grid
	layout   Layout
	contract Contract
}

// NewCodec returns a codec for the given grid and layout.
func NewCodec(g Grid, l Layout) *Codec {
	return &Codec{grid: g, layout: l, contract: ContractFor(g, l)}
}

// Grid returns the grid contract.
func (c *Codec) Grid() Grid { return c.grid }

// Layout returns the field layout.
func (c *Codec) Layout() Layout { return c.layout }

// Contract returns the tensor shapes every state must have.
func (c *Codec) Contract() Contract { return c.contract }

// Decode attaches coordinates and the valid time to bare tensors. The tensors
// are taken over by the returned state; callers must not modify them afterwards.
func (c *Codec) Decode(t Tensors, valid time.Time) (*AtmosphericState, error) {
	if err := c.check("codec", t, valid); err != nil {
		return nil, err
	}
	return &AtmosphericState{
		time:    valid.UTC(),
		grid:    c.grid,
		layout:  c.layout,
		tensors: t,
	}, nil
}

// Encode strips metadata and returns a copy of the packed tensors in layout
// order. The copy keeps operators from aliasing state owned by snapshots.
func (c *Codec) Encode(s *AtmosphericState) (Tensors, error) {
	if !s.grid.Equal(c.grid) {
		return Tensors{}, &ShapeMismatchError{
			Where: "codec", Tensor: "grid", Time: s.time,
			Want: c.grid.UpperShape(), Got: s.grid.UpperShape(),
		}
	}
	if !sameLayout(s.layout, c.layout) {
		return Tensors{}, &ShapeMismatchError{
			Where: "codec", Tensor: "layout", Time: s.time,
			Want: Shape{len(c.layout.Surface), len(c.layout.Upper)},
			Got:  Shape{len(s.layout.Surface), len(s.layout.Upper)},
		}
	}
	if err := c.check("codec", s.tensors, s.time); err != nil {
		return Tensors{}, err
	}
	return Tensors{Surface: s.tensors.Surface.clone(), Upper: s.tensors.Upper.clone()}, nil
}

func (c *Codec) check(where string, t Tensors, valid time.Time) error {
	return checkContract(where, "", c.contract, t, valid)
}

func checkContract(where, operator string, want Contract, t Tensors, valid time.Time) error {
	if err := checkTensor(where, operator, "surface", want.Surface, t.Surface, valid); err != nil {
		return err
	}
	return checkTensor(where, operator, "upper", want.Upper, t.Upper, valid)
}

func checkTensor(where, operator, name string, want Shape, t Tensor, valid time.Time) error {
	if !t.Shape.Equal(want) || len(t.Data) != want.Size() {
		got := t.Shape
		if t.Shape.Equal(want) {
			// Declared shape matches but the backing data does not.
			got = Shape{len(t.Data)}
		}
		return &ShapeMismatchError{
			Where: where, Tensor: name, Operator: operator, Time: valid,
			Want: want, Got: got,
		}
	}
	return nil
}

func sameLayout(a, b Layout) bool {
	if len(a.Surface) != len(b.Surface) || len(a.Upper) != len(b.Upper) {
		return false
	}
	for i := range a.Surface {
		if a.Surface[i] != b.Surface[i] {
			return false
		}
	}
	for i := range a.Upper {
		if a.Upper[i] != b.Upper[i] {
			return false
		}
	}
	return true
}

// Pack builds a state from per-field arrays, packing them in layout order.
// Surface fields are (lat, lon) and upper fields (level, lat, lon).
func (c *Codec) Pack(fields map[Field][]float32, valid time.Time) (*AtmosphericState, error) {
	surfaceSize := c.grid.SurfaceShape().Size()
	upperSize := c.grid.UpperShape().Size()

	t := Tensors{
		Surface: Tensor{Shape: append(Shape(nil), c.contract.Surface...), Data: make([]float32, c.contract.Surface.Size())},
		Upper:   Tensor{Shape: append(Shape(nil), c.contract.Upper...), Data: make([]float32, c.contract.Upper.Size())},
	}
	for i, f := range c.layout.Surface {
		v := fields[f]
		if len(v) != surfaceSize {
			return nil, &ShapeMismatchError{Where: "codec", Tensor: string(f), Time: valid, Want: c.grid.SurfaceShape(), Got: Shape{len(v)}}
		}
		copy(t.Surface.Data[i*surfaceSize:], v)
	}
	for i, f := range c.layout.Upper {
		v := fields[f]
		if len(v) != upperSize {
			return nil, &ShapeMismatchError{Where: "codec", Tensor: string(f), Time: valid, Want: c.grid.UpperShape(), Got: Shape{len(v)}}
		}
		copy(t.Upper.Data[i*upperSize:], v)
	}
	return c.Decode(t, valid)
}
