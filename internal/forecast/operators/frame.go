package operators

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// Wire format of a tensor pair, before zstd compression:
//
//	magic "WXTF" | version u8 | 2 × (rank u32 | dims u32... | float32 LE data)
const (
	frameMagic   = "WXTF"
	frameVersion = 1
	maxRank      = 8

	// ContentType is the media type of a tensor frame body.
	ContentType = "application/x-weather-tensors"
)

var errBadFrame = errors.New("malformed tensor frame")

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// EncodeFrame serializes and compresses a tensor pair.
func EncodeFrame(t forecast.Tensors) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 4*(len(t.Surface.Data)+len(t.Upper.Data)) + 64)
	buf.WriteString(frameMagic)
	buf.WriteByte(frameVersion)
	for _, tensor := range []forecast.Tensor{t.Surface, t.Upper} {
		if err := writeTensor(&buf, tensor); err != nil {
			return nil, err
		}
	}
	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeFrame decompresses and parses a tensor pair.
func DecodeFrame(b []byte) (forecast.Tensors, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("decompress frame: %w", err)
	}
	r := bytes.NewReader(raw)

	head := make([]byte, len(frameMagic)+1)
	if _, err := io.ReadFull(r, head); err != nil || string(head[:4]) != frameMagic {
		return forecast.Tensors{}, fmt.Errorf("%w: bad header", errBadFrame)
	}
	if head[4] != frameVersion {
		return forecast.Tensors{}, fmt.Errorf("%w: unsupported version %d", errBadFrame, head[4])
	}

	surface, err := readTensor(r)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("surface: %w", err)
	}
	upper, err := readTensor(r)
	if err != nil {
		return forecast.Tensors{}, fmt.Errorf("upper: %w", err)
	}
	if r.Len() != 0 {
		return forecast.Tensors{}, fmt.Errorf("%w: %d trailing bytes", errBadFrame, r.Len())
	}
	return forecast.Tensors{Surface: surface, Upper: upper}, nil
}

func writeTensor(w *bytes.Buffer, t forecast.Tensor) error {
	if len(t.Shape) > maxRank {
		return fmt.Errorf("%w: rank %d exceeds %d", errBadFrame, len(t.Shape), maxRank)
	}
	if t.Shape.Size() != len(t.Data) {
		return fmt.Errorf("%w: shape %s holds %d values, have %d", errBadFrame, t.Shape, t.Shape.Size(), len(t.Data))
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], uint32(len(t.Shape)))
	w.Write(word[:])
	for _, d := range t.Shape {
		binary.LittleEndian.PutUint32(word[:], uint32(d))
		w.Write(word[:])
	}
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
		w.Write(word[:])
	}
	return nil
}

func readTensor(r *bytes.Reader) (forecast.Tensor, error) {
	var rank uint32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return forecast.Tensor{}, fmt.Errorf("%w: rank: %v", errBadFrame, err)
	}
	if rank > maxRank {
		return forecast.Tensor{}, fmt.Errorf("%w: rank %d exceeds %d", errBadFrame, rank, maxRank)
	}
	dims := make([]uint32, rank)
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return forecast.Tensor{}, fmt.Errorf("%w: dims: %v", errBadFrame, err)
	}
	// Each dim is checked against the remaining payload before it is multiplied in.
	avail := r.Len() / 4
	shape := make(forecast.Shape, rank)
	n := 1
	for i, d := range dims {
		if d == 0 || int64(d) > int64(avail/n) {
			return forecast.Tensor{}, fmt.Errorf("%w: dims %v invalid for the %d bytes left", errBadFrame, dims, r.Len())
		}
		shape[i] = int(d)
		n *= int(d)
	}
	data := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return forecast.Tensor{}, fmt.Errorf("%w: data: %v", errBadFrame, err)
	}
	return forecast.Tensor{Shape: shape, Data: data}, nil
}
