package runner

import (
	"fmt"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"gonum.org/v1/gonum/mat"
)

// NewTextureFromMatrix uploads m as a single channel texture, one texel per
// entry, rows along the texture height. dt selects Float32 or Float64 texels.
func NewTextureFromMatrix(kr *Runner, m mat.Matrix, dt builder.DataType) (device.Texture, error) {
	rows, cols := m.Dims()
	desc := device.TextureDescriptor{Width: cols, Height: rows, Channels: 1, DataType: dt}

	var raw []byte
	switch dt {
	case builder.Float32:
		data := make([]float32, 0, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				data = append(data, float32(m.At(i, j)))
			}
		}
		raw = encodeElements(data)
	case builder.Float64:
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				data = append(data, m.At(i, j))
			}
		}
		raw = encodeElements(data)
	default:
		return nil, fmt.Errorf("%w: matrix texture of %v", ErrConfiguration, dt)
	}

	tex, err := kr.Device.NewTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: texture %dx%d: %w", ErrResourceCreation, cols, rows, err)
	}
	if err := tex.Write(raw); err != nil {
		tex.Release()
		return nil, fmt.Errorf("upload texture: %w", err)
	}
	return tex, nil
}

// TextureToMatrix reads a single channel float texture back as a matrix
func TextureToMatrix(tex device.Texture) (*mat.Dense, error) {
	desc := tex.Descriptor()
	if desc.Channels != 1 {
		return nil, fmt.Errorf("%w: texture has %d channels, want 1", ErrConfiguration, desc.Channels)
	}
	raw := make([]byte, desc.Width*desc.Height*desc.TexelBytes())
	if err := tex.Read(raw); err != nil {
		return nil, fmt.Errorf("read texture: %w", err)
	}

	values := make([]float64, desc.Width*desc.Height)
	switch desc.DataType {
	case builder.Float32:
		f := make([]float32, len(values))
		if err := decodeElements(raw, f); err != nil {
			return nil, err
		}
		for i, v := range f {
			values[i] = float64(v)
		}
	case builder.Float64:
		if err := decodeElements(raw, values); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: texture of %v is not a float matrix", ErrConfiguration, desc.DataType)
	}
	return mat.NewDense(desc.Height, desc.Width, values), nil
}
