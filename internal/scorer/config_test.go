package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/county-risk/risk-engine/internal/config"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.RiskConfig)
		wantErr string
	}{
		{"defaults", func(*config.RiskConfig) {}, ""},
		{"random source", func(c *config.RiskConfig) { c.Synthetic = SyntheticRandom }, ""},
		{"unknown source", func(c *config.RiskConfig) { c.Synthetic = "dice" }, "synthetic must be"},
		{"negative fallback", func(c *config.RiskConfig) { c.Fallback.NoData = -1 }, "fallback.no_data"},
		{"fallback above 100", func(c *config.RiskConfig) { c.Fallback.EconomicNoData = 120 }, "fallback.economic_no_data"},
		{"zero damping", func(c *config.RiskConfig) { c.Composite.DampingFactor = 0 }, "damping_factor"},
		{"damping above one", func(c *config.RiskConfig) { c.Composite.DampingFactor = 1.2 }, "damping_factor"},
		{"negative amplitude", func(c *config.RiskConfig) { c.Composite.PerturbationAmplitude = -1 }, "perturbation_amplitude"},
		{"levels not descending", func(c *config.RiskConfig) { c.Levels.Medium = c.Levels.MediumHigh }, "levels must strictly descend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRiskConfig()
			tt.modify(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewSyntheticSource(t *testing.T) {
	s, err := NewSyntheticSource("hashed")
	require.NoError(t, err)
	assert.IsType(t, HashedSource{}, s)

	s, err = NewSyntheticSource("random")
	require.NoError(t, err)
	assert.IsType(t, RandomSource{}, s)

	_, err = NewSyntheticSource("dice")
	assert.Error(t, err)
}

func TestHashedSource(t *testing.T) {
	h := HashedSource{}
	a := h.Draw("EMPLOYMENT_RATE", "110101", 2020)
	assert.Equal(t, a, h.Draw("EMPLOYMENT_RATE", "110101", 2020))
	assert.NotEqual(t, a, h.Draw("EMPLOYMENT_RATE", "110101", 2021))
	assert.NotEqual(t, a, h.Draw("INCOME_GAP", "110101", 2020))

	for year := 2000; year < 2100; year++ {
		u := h.Draw("INCOME_GAP", "330102", year)
		assert.GreaterOrEqual(t, u, 0.0)
		assert.Less(t, u, 1.0)
	}
}

func TestRandomSourceInRange(t *testing.T) {
	r := RandomSource{}
	for i := 0; i < 100; i++ {
		u := r.Draw("EMPLOYMENT_RATE", "110101", 2020)
		assert.GreaterOrEqual(t, u, 0.0)
		assert.Less(t, u, 1.0)
	}
}

func TestFixedSource(t *testing.T) {
	f := FixedSource{Values: map[string]float64{"A": 0.25}, Default: 0.75}
	assert.Equal(t, 0.25, f.Draw("A", "x", 1))
	assert.Equal(t, 0.75, f.Draw("B", "x", 1))

	f.Exact = map[string]float64{"C": 12}
	v, ok := f.Pin("C", "x", 1)
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)
	_, ok = f.Pin("A", "x", 1)
	assert.False(t, ok)
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, 1.0, clampUnit(1.5))
	assert.Equal(t, 0.0, clampUnit(-0.5))
	assert.Equal(t, 0.3, clampUnit(0.3))
}
