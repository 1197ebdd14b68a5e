package utils

import (
	"testing"

	"github.com/notargets/ComputeKernel/device/cpu"
	"github.com/notargets/ComputeKernel/runner"
	"github.com/notargets/ComputeKernel/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTestDevice(t *testing.T) {
	dev := CreateTestDevice(cpu.Options{MaxThreadsPerGroup: 64})
	defer dev.Release()
	assert.Equal(t, 64, dev.Limits().MaxThreadsPerGroup)

	kr := runner.NewRunner(dev)
	defer kr.Free()
	e, err := scan.New(kr, scan.Config{ThreadsPerGroup: 32})
	require.NoError(t, err)
	defer e.Free()

	got, err := e.ScanSlice([]uint32{1, 1, 1, 1, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, got)
}

func TestNewDevice(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"cpu", false},
		{"", false},
		{"metal", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			dev, err := NewDevice(tt.kind)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown backend")
				return
			}
			require.NoError(t, err)
			defer dev.Release()
			assert.Contains(t, dev.Name(), "cpu")
		})
	}
}
