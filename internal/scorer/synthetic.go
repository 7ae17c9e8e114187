package scorer

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
)

// Synthetic source names accepted by NewSyntheticSource.
const (
	SyntheticHashed = "hashed"
	SyntheticRandom = "random"
)

// SyntheticSource supplies the uniform draw behind indicators that have no
// stored field. Draw returns a value in [0, 1).
type SyntheticSource interface {
	Draw(code, countyCode string, year int) float64
}

// Pinner is implemented by sources that fix an indicator's value outright,
// bypassing its formula.
type Pinner interface {
	Pin(code, countyCode string, year int) (float64, bool)
}

// NewSyntheticSource returns the source registered under name.
func NewSyntheticSource(name string) (SyntheticSource, error) {
	switch name {
	case SyntheticHashed, "":
		return HashedSource{}, nil
	case SyntheticRandom:
		return RandomSource{}, nil
	}
	return nil, eris.Errorf("scorer: unknown synthetic source %q", name)
}

// RandomSource draws from math/rand, so repeated runs differ.
type RandomSource struct{}

// Draw implements SyntheticSource.
func (RandomSource) Draw(string, string, int) float64 { return rand.Float64() }

// HashedSource derives the draw from the indicator code and county-year, so
// repeated runs over the same inputs are identical.
type HashedSource struct{}

// Draw implements SyntheticSource.
func (HashedSource) Draw(code, countyCode string, year int) float64 {
	return unitHash(code + "|" + countyCode + "|" + strconv.Itoa(year))
}

// FixedSource returns a pinned draw per code, or Default for unknown codes.
// Codes in Exact skip the draw and take that value directly.
type FixedSource struct {
	Values  map[string]float64
	Default float64
	Exact   map[string]float64
}

// Draw implements SyntheticSource.
func (f FixedSource) Draw(code, _ string, _ int) float64 {
	if v, ok := f.Values[code]; ok {
		return v
	}
	return f.Default
}

// Pin implements Pinner.
func (f FixedSource) Pin(code, _ string, _ int) (float64, bool) {
	v, ok := f.Exact[code]
	return v, ok
}

// unitHash maps key onto [0, 1) using the top 53 bits of its xxhash.
func unitHash(key string) float64 {
	return float64(xxhash.Sum64String(key)>>11) / (1 << 53)
}

// clampUnit keeps a draw inside [0, 1].
func clampUnit(u float64) float64 {
	if math.IsNaN(u) {
		return 0.5
	}
	return math.Max(0, math.Min(1, u))
}
