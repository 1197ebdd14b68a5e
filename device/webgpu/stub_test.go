//go:build !webgpu

package webgpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithoutTag(t *testing.T) {
	dev, err := New(Options{})
	assert.Nil(t, dev)
	assert.ErrorContains(t, err, "-tags webgpu")
}
