package scenario

import (
	"fmt"
	"math/bits"
)

const (
	// readyMarkerPrefix starts every readiness line the generated app
	// prints once its startup systems have run.
	readyMarkerPrefix = "PAYLOAD_SYSTEM_IS_READY__"

	// confirmPrefix starts the line that carries the payload constant,
	// both at startup and after a hot-patch lands.
	confirmPrefix = "PAYLOAD_RANDOM_VALUE="

	goldenGamma uint64 = 0x9e3779b97f4a7c15
	payloadMix  uint64 = 0xa0761d6478bd642f
	payloadStep uint64 = 0x9e37
)

// ReadyMarker builds the startup marker for one scenario. Embedding both
// slug and seed keeps markers unique across the matrix and across runs
// that share an output stream.
func ReadyMarker(slug string, seed uint64) string {
	return fmt.Sprintf("%s%s__%016x", readyMarkerPrefix, slug, seed)
}

// PayloadValue derives the payload constant embedded in the generated
// source. Pure in the seed, so a scenario always starts from the same
// value.
func PayloadValue(seed uint64) uint64 {
	return bits.RotateLeft64(seed, 17) ^ goldenGamma
}

// NextPayloadValue produces the mutated payload constant. The result is
// always observably different from previous.
func NextPayloadValue(previous uint64) uint64 {
	return nextValue(previous, payloadMix)
}

func nextValue(previous, mix uint64) uint64 {
	candidate := previous ^ mix
	if candidate != previous {
		return candidate
	}
	return previous + payloadStep
}

// ConfirmLine renders the exact line the generated app prints for a
// payload value; the monitor matches it as a substring.
func ConfirmLine(value uint64) string {
	return fmt.Sprintf("%s%d", confirmPrefix, value)
}
