package scan

import (
	_ "embed"
	"fmt"

	"github.com/notargets/ComputeKernel/device/cpu"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Bundle is the name the native scan kernels are registered under
const Bundle = "scan"

const (
	scanKernel = "scan_within_group"
	addKernel  = "add_block_offsets"
)

var (
	//go:embed kernels/scan.okl
	oklSource string
	//go:embed kernels/scan.cl
	openclSource string
	//go:embed kernels/scan.wgsl
	wgslSource string
)

// SourceFor returns the scan kernels for a device accepting lang
func SourceFor(lang builder.Language) (builder.Source, error) {
	switch lang {
	case builder.Native:
		return builder.FromBundle(Bundle), nil
	case builder.OKL:
		return builder.FromText(lang, oklSource), nil
	case builder.OpenCL:
		return builder.FromText(lang, openclSource), nil
	case builder.WGSL:
		return builder.FromText(lang, wgslSource), nil
	default:
		return builder.Source{}, fmt.Errorf("no scan kernels for %v", lang)
	}
}

func init() {
	cpu.Register(Bundle,
		&cpu.Kernel{
			Name: scanKernel,
			Params: []*builder.ParamBuilder{
				builder.Input("input").Type(builder.UINT32),
				builder.Output("output").Type(builder.UINT32),
				builder.Output("block_sums").Type(builder.UINT32),
				builder.Temp("temp").Type(builder.UINT32),
				builder.Scalar("count").Type(builder.UINT32),
				builder.Scalar("inclusive").Type(builder.UINT32),
			},
			Func: scanWithinGroup,
		},
		&cpu.Kernel{
			Name: addKernel,
			Params: []*builder.ParamBuilder{
				builder.InOut("output").Type(builder.UINT32),
				builder.Input("block_offsets").Type(builder.UINT32),
				builder.Scalar("count").Type(builder.UINT32),
			},
			Func: addBlockOffsets,
		},
	)
}

// scanWithinGroup is the work-efficient Blelloch scan of one block of
// 2*threads elements. The block total goes to block_sums before the
// down-sweep clears it.
func scanWithinGroup(g *cpu.Group) error {
	in := cpu.Slice[uint32](g, "input")
	out := cpu.Slice[uint32](g, "output")
	sums := cpu.Slice[uint32](g, "block_sums")
	temp := cpu.Scratch[uint32](g, "temp")
	count := int(cpu.Value[uint32](g, "count"))
	inclusive := cpu.Value[uint32](g, "inclusive") != 0

	threads := g.Size.X
	items := 2 * threads
	if len(temp) < items {
		return fmt.Errorf("scratch holds %d elements, block needs %d", len(temp), items)
	}
	block := g.Linear()
	base := block * items
	if base >= count {
		return nil
	}

	g.Threads(func(t cpu.Thread) {
		for _, i := range [2]int{t.Index, t.Index + threads} {
			if base+i < count {
				temp[i] = in[base+i]
			} else {
				temp[i] = 0
			}
		}
	})

	offset := 1
	for d := threads; d > 0; d >>= 1 {
		g.Threads(func(t cpu.Thread) {
			if t.Index < d {
				ai := offset*(2*t.Index+1) - 1
				bi := offset*(2*t.Index+2) - 1
				temp[bi] += temp[ai]
			}
		})
		offset <<= 1
	}

	g.Threads(func(t cpu.Thread) {
		if t.Index == 0 {
			sums[block] = temp[items-1]
			temp[items-1] = 0
		}
	})

	for d := 1; d < items; d <<= 1 {
		offset >>= 1
		g.Threads(func(t cpu.Thread) {
			if t.Index < d {
				ai := offset*(2*t.Index+1) - 1
				bi := offset*(2*t.Index+2) - 1
				v := temp[ai]
				temp[ai] = temp[bi]
				temp[bi] += v
			}
		})
	}

	g.Threads(func(t cpu.Thread) {
		for _, i := range [2]int{t.Index, t.Index + threads} {
			if base+i < count {
				v := temp[i]
				if inclusive {
					v += in[base+i]
				}
				out[base+i] = v
			}
		}
	})
	return nil
}

func addBlockOffsets(g *cpu.Group) error {
	out := cpu.Slice[uint32](g, "output")
	offsets := cpu.Slice[uint32](g, "block_offsets")
	count := int(cpu.Value[uint32](g, "count"))

	threads := g.Size.X
	block := g.Linear()
	base := block * 2 * threads
	if base >= count {
		return nil
	}
	add := offsets[block]
	g.Threads(func(t cpu.Thread) {
		for _, i := range [2]int{t.Index, t.Index + threads} {
			if base+i < count {
				out[base+i] += add
			}
		}
	})
	return nil
}
