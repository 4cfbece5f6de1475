// Package scenario defines the benchmark configuration matrix and the
// identifiers and payload constants derived from each configuration.
package scenario

import (
	"fmt"
	"hash/fnv"
	"io"
)

// Linker selects the linker the generated build config points the
// toolchain at. The zero value keeps the toolchain default.
type Linker int

const (
	LinkerDefault Linker = iota
	LinkerRustLLD
)

// Cache selects the compilation caching strategy. The zero value keeps
// the toolchain's incremental compilation enabled.
type Cache int

const (
	CacheIncremental Cache = iota
	CacheNoIncremental
	CacheSccache
)

// Codegen selects the code generation strategy written into the
// generated manifest and build config.
type Codegen int

const (
	CodegenDefault Codegen = iota
	CodegenDynamicLinking
	CodegenShareGenerics
)

// Hotpatch selects whether the scenario runs a live hot-patch session
// after its two timed builds.
type Hotpatch int

const (
	HotpatchNone Hotpatch = iota
	HotpatchDx
)

// Scenario is one point in the configuration matrix. It is comparable;
// equality over all four fields is the identity used by the matrix.
type Scenario struct {
	Linker   Linker
	Cache    Cache
	Codegen  Codegen
	Hotpatch Hotpatch
}

func (l Linker) token() string {
	if l == LinkerRustLLD {
		return "rust-lld"
	}
	return "default-linker"
}

func (c Cache) token() string {
	switch c {
	case CacheNoIncremental:
		return "no-incremental"
	case CacheSccache:
		// Historical spelling, kept so slugs stay comparable across runs.
		return "sscache"
	default:
		return "incremental"
	}
}

func (c Codegen) token() string {
	switch c {
	case CodegenDynamicLinking:
		return "dynamic-linking"
	case CodegenShareGenerics:
		return "share-generics"
	default:
		return "default-dynamic"
	}
}

func (h Hotpatch) token() string {
	if h == HotpatchDx {
		return "dx-hotpatch"
	}
	return "no-hotpatch"
}

// Slug renders the scenario as a deterministic dash-joined identifier,
// field order linker, cache, codegen, hotpatch.
func (s Scenario) Slug() string {
	return s.Linker.token() + "-" + s.Cache.token() + "-" + s.Codegen.token() + "-" + s.Hotpatch.token()
}

// Seed returns a stable 64-bit hash of the whole tuple. FNV-1a over the
// field tokens keeps it reproducible across process runs.
func (s Scenario) Seed() uint64 {
	h := fnv.New64a()
	for _, token := range []string{s.Linker.token(), s.Cache.token(), s.Codegen.token(), s.Hotpatch.token()} {
		_, _ = io.WriteString(h, token)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Describe renders the human-readable per-dimension summary printed
// under each scenario header.
func (s Scenario) Describe() string {
	linker := "default"
	if s.Linker == LinkerRustLLD {
		linker = "rust-lld"
	}

	cache := "incremental"
	switch s.Cache {
	case CacheNoIncremental:
		cache = "no-incremental"
	case CacheSccache:
		cache = "sscache"
	}

	codegen := "default"
	switch s.Codegen {
	case CodegenDynamicLinking:
		codegen = "dynamic-linking"
	case CodegenShareGenerics:
		codegen = "share-generics"
	}

	hotpatch := "none"
	if s.Hotpatch == HotpatchDx {
		hotpatch = "dx"
	}

	return fmt.Sprintf("linker=%s, cache=%s, dynamic=%s, hotpatch=%s", linker, cache, codegen, hotpatch)
}

// WantsHotpatch reports whether the scenario requests a hot-patch
// session after its builds.
func (s Scenario) WantsHotpatch() bool {
	return s.Hotpatch == HotpatchDx
}
