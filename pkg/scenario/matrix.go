package scenario

// Prepared carries a scenario plus everything derived from it before
// execution. Immutable once built; the workspace materializes Code and
// later rewrites only the source artifact.
type Prepared struct {
	Scenario     Scenario
	Slug         string
	ReadyMarker  string
	PayloadValue uint64
	Code         CodeBundle
}

// Prepare derives slug, marker, payload value, and the generated
// artifacts for one scenario.
func Prepare(s Scenario) Prepared {
	slug := s.Slug()
	seed := s.Seed()
	marker := ReadyMarker(slug, seed)
	value := PayloadValue(seed)

	return Prepared{
		Scenario:     s,
		Slug:         slug,
		ReadyMarker:  marker,
		PayloadValue: value,
		Code:         BundleFor(s, slug, marker, value),
	}
}

// Matrix enumerates the full configuration matrix in deterministic
// order. Each linker/cache/codegen combination is emitted once without
// hot-patching and immediately again with it.
func Matrix() []Scenario {
	linkers := []Linker{LinkerDefault, LinkerRustLLD}
	caches := []Cache{CacheIncremental, CacheNoIncremental, CacheSccache}
	codegens := []Codegen{CodegenDefault, CodegenDynamicLinking, CodegenShareGenerics}

	var scenarios []Scenario
	for _, linker := range linkers {
		for _, cache := range caches {
			for _, codegen := range codegens {
				base := Scenario{Linker: linker, Cache: cache, Codegen: codegen}
				scenarios = append(scenarios, base)

				patched := base
				patched.Hotpatch = HotpatchDx
				scenarios = append(scenarios, patched)
			}
		}
	}
	return scenarios
}

// PrepareAll derives a Prepared for every scenario in the matrix.
func PrepareAll(scenarios []Scenario) []Prepared {
	prepared := make([]Prepared, 0, len(scenarios))
	for _, s := range scenarios {
		prepared = append(prepared, Prepare(s))
	}
	return prepared
}
