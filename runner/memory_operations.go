package runner

import (
	"fmt"

	"github.com/notargets/ComputeKernel/device"
)

// TypedBuffer is device memory holding count elements of T
type TypedBuffer[T Element] struct {
	device.Buffer
	count int
}

// NewTypedBuffer allocates zero-filled device memory for count elements
func NewTypedBuffer[T Element](kr *Runner, count int) (*TypedBuffer[T], error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: buffer of %d elements", ErrConfiguration, count)
	}
	buf, err := kr.Device.NewBuffer(count * SizeOf[T]())
	if err != nil {
		return nil, fmt.Errorf("%w: buffer of %d %v: %w", ErrResourceCreation, count, DataTypeOf[T](), err)
	}
	return &TypedBuffer[T]{Buffer: buf, count: count}, nil
}

// NewTypedBufferFrom allocates device memory and copies data into it
func NewTypedBufferFrom[T Element](kr *Runner, data []T) (*TypedBuffer[T], error) {
	b, err := NewTypedBuffer[T](kr, len(data))
	if err != nil {
		return nil, err
	}
	if err := b.Upload(data); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Len returns the element count
func (b *TypedBuffer[T]) Len() int { return b.count }

// DeviceBuffer returns the underlying device buffer
func (b *TypedBuffer[T]) DeviceBuffer() device.Buffer { return b.Buffer }

// Upload copies data to the start of the buffer
func (b *TypedBuffer[T]) Upload(data []T) error {
	if len(data) > b.count {
		return fmt.Errorf("upload of %d elements into buffer of %d", len(data), b.count)
	}
	if len(data) == 0 {
		return nil
	}
	return b.Buffer.Write(0, encodeElements(data))
}

// ToSlice copies the buffer contents back to the host
func (b *TypedBuffer[T]) ToSlice() ([]T, error) {
	out := make([]T, b.count)
	if b.count == 0 {
		return out, nil
	}
	raw := make([]byte, b.count*SizeOf[T]())
	if err := b.Buffer.Read(0, raw); err != nil {
		return nil, fmt.Errorf("read back %d %v: %w", b.count, DataTypeOf[T](), err)
	}
	if err := decodeElements(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Arg binds the buffer from element index start
func (b *TypedBuffer[T]) Arg(start int) Argument {
	return Buffer(b.Buffer, start*SizeOf[T]())
}
