package cpu

import (
	"fmt"

	"github.com/notargets/ComputeKernel/device"
)

type buffer struct {
	data []byte
}

func (b *buffer) Length() int { return len(b.data) }

func (b *buffer) Read(offset int, dst []byte) error {
	if offset < 0 || offset+len(dst) > len(b.data) {
		return fmt.Errorf("read of %d bytes at %d exceeds buffer length %d", len(dst), offset, len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

func (b *buffer) Write(offset int, src []byte) error {
	if offset < 0 || offset+len(src) > len(b.data) {
		return fmt.Errorf("write of %d bytes at %d exceeds buffer length %d", len(src), offset, len(b.data))
	}
	copy(b.data[offset:], src)
	return nil
}

func (b *buffer) Release() {
	b.data = nil
}

type texture struct {
	desc device.TextureDescriptor
	data []byte
}

func (t *texture) Descriptor() device.TextureDescriptor { return t.desc }

func (t *texture) Read(dst []byte) error {
	if len(dst) != len(t.data) {
		return fmt.Errorf("texture read needs %d bytes, got %d", len(t.data), len(dst))
	}
	copy(dst, t.data)
	return nil
}

func (t *texture) Write(src []byte) error {
	if len(src) != len(t.data) {
		return fmt.Errorf("texture write needs %d bytes, got %d", len(t.data), len(src))
	}
	copy(t.data, src)
	return nil
}

func (t *texture) Release() {
	t.data = nil
}
