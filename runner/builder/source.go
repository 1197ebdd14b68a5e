package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Language identifies the kernel language a source text is written in
type Language int

const (
	// Native kernels are Go functions registered with the host device
	Native Language = iota + 1
	OKL
	OpenCL
	WGSL
)

func (l Language) String() string {
	switch l {
	case Native:
		return "native"
	case OKL:
		return "okl"
	case OpenCL:
		return "opencl"
	case WGSL:
		return "wgsl"
	default:
		return fmt.Sprintf("Language(%d)", int(l))
	}
}

// Extension returns the file extension bundles of this language use on disk
func (l Language) Extension() string {
	switch l {
	case OKL:
		return ".okl"
	case OpenCL:
		return ".cl"
	case WGSL:
		return ".wgsl"
	default:
		return ""
	}
}

// Source names a kernel program. It is either inline source text in one of
// the kernel languages, or a precompiled bundle the device resolves by name.
type Source struct {
	Language Language
	Text     string
	Bundle   string
}

// FromText creates a source from kernel text written in lang
func FromText(lang Language, text string) Source {
	return Source{Language: lang, Text: text}
}

// FromBundle creates a source that refers to a precompiled bundle
func FromBundle(name string) Source {
	return Source{Bundle: name}
}

// IsBundle reports whether the source refers to a precompiled bundle
func (s Source) IsBundle() bool {
	return s.Bundle != ""
}

// ID returns the identity of the compiled library built from this source.
// Two sources with the same ID produce the same library.
func (s Source) ID() string {
	if s.IsBundle() {
		return "bundle:" + s.Bundle
	}
	sum := sha256.Sum256([]byte(s.Text))
	return s.Language.String() + ":" + hex.EncodeToString(sum[:8])
}

// Validate checks the source names exactly one program
func (s Source) Validate() error {
	switch {
	case s.IsBundle() && s.Text != "":
		return fmt.Errorf("source cannot be both bundle %q and text", s.Bundle)
	case !s.IsBundle() && s.Text == "":
		return fmt.Errorf("source has neither bundle name nor text")
	case !s.IsBundle() && s.Language == 0:
		return fmt.Errorf("source text needs a language")
	}
	return nil
}
