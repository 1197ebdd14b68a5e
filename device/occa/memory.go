package occa

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

type buffer struct {
	mem    *gocca.OCCAMemory
	length int
}

func (b *buffer) Length() int { return b.length }

func (b *buffer) Read(offset int, dst []byte) error {
	if offset < 0 || offset+len(dst) > b.length {
		return fmt.Errorf("read of %d bytes at %d exceeds buffer length %d", len(dst), offset, b.length)
	}
	if len(dst) == 0 {
		return nil
	}
	b.mem.CopyToWithOffset(unsafe.Pointer(&dst[0]), int64(len(dst)), int64(offset))
	return nil
}

func (b *buffer) Write(offset int, src []byte) error {
	if offset < 0 || offset+len(src) > b.length {
		return fmt.Errorf("write of %d bytes at %d exceeds buffer length %d", len(src), offset, b.length)
	}
	if len(src) == 0 {
		return nil
	}
	b.mem.CopyFromWithOffset(unsafe.Pointer(&src[0]), int64(len(src)), int64(offset))
	return nil
}

func (b *buffer) Release() {
	if b.mem != nil {
		b.mem.Free()
		b.mem = nil
	}
}
