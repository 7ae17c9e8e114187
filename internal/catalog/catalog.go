// Package catalog manages the risk indicator configuration: the active set
// used by a scoring run, the built-in seed definitions, and restore-defaults.
package catalog

import (
	"context"
	_ "embed"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/store"
)

//go:embed indicators.yaml
var builtinYAML []byte

// ErrUnknownIndicator is returned by Update when no indicator has the code.
var ErrUnknownIndicator = eris.New("catalog: unknown indicator")

// DefaultValues are the restorable parameters of one indicator.
type DefaultValues struct {
	Weight float64 `yaml:"weight"`
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// DefaultTable maps indicator codes to their restorable defaults.
type DefaultTable map[string]DefaultValues

type builtinFile struct {
	Seed     []model.Indicator `yaml:"seed"`
	Defaults DefaultTable      `yaml:"defaults"`
}

func parseBuiltin(data []byte) (*builtinFile, error) {
	var f builtinFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse builtin indicators")
	}
	seen := make(map[string]bool, len(f.Seed))
	for i := range f.Seed {
		ind := &f.Seed[i]
		if seen[ind.Code] {
			return nil, eris.Errorf("catalog: duplicate builtin indicator %s", ind.Code)
		}
		seen[ind.Code] = true

		cat, err := model.ParseCategory(string(ind.Category))
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: builtin indicator %s", ind.Code)
		}
		dir, err := model.ParseDirection(string(ind.Direction))
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: builtin indicator %s", ind.Code)
		}
		ind.Category, ind.Direction = cat, dir
	}
	return &f, nil
}

// BuiltinSeed returns the built-in indicator definitions.
func BuiltinSeed() ([]model.Indicator, error) {
	f, err := parseBuiltin(builtinYAML)
	if err != nil {
		return nil, err
	}
	return f.Seed, nil
}

// BuiltinDefaults returns the built-in restore-defaults table.
func BuiltinDefaults() (DefaultTable, error) {
	f, err := parseBuiltin(builtinYAML)
	if err != nil {
		return nil, err
	}
	return f.Defaults, nil
}

// ActiveSet is a read-only snapshot of the enabled indicators grouped by
// category. A scoring run takes one snapshot and uses it for every county.
type ActiveSet struct {
	byCategory map[model.Category][]model.Indicator
}

// NewActiveSet groups the enabled indicators by category, ordered by weight
// descending and then code ascending.
func NewActiveSet(indicators []model.Indicator) ActiveSet {
	by := make(map[model.Category][]model.Indicator)
	for _, ind := range indicators {
		if !ind.Enabled {
			continue
		}
		by[ind.Category] = append(by[ind.Category], ind)
	}
	for _, list := range by {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Weight != list[j].Weight {
				return list[i].Weight > list[j].Weight
			}
			return list[i].Code < list[j].Code
		})
	}
	return ActiveSet{byCategory: by}
}

// For returns a copy of the indicators for category c.
func (a ActiveSet) For(c model.Category) []model.Indicator {
	list := a.byCategory[c]
	if len(list) == 0 {
		return nil
	}
	out := make([]model.Indicator, len(list))
	copy(out, list)
	return out
}

// Len returns the number of indicators across all categories.
func (a ActiveSet) Len() int {
	n := 0
	for _, list := range a.byCategory {
		n += len(list)
	}
	return n
}

// RestoreResult reports what RestoreDefaults changed.
type RestoreResult struct {
	Restored  []string `json:"restored"`
	Unmatched []string `json:"unmatched"`
}

// IndicatorPatch is a partial edit of one indicator. Nil fields are left as is.
type IndicatorPatch struct {
	Weight          *float64
	ThresholdHigh   *float64
	ThresholdMedium *float64
	ThresholdLow    *float64
	Unit            *string
	Direction       *model.Direction
	Enabled         *bool
}

// Catalog reads and edits the persisted indicator configuration.
type Catalog struct {
	store    store.IndicatorStore
	defaults DefaultTable
	log      *zap.Logger
}

// New creates a Catalog backed by s. defaults drives RestoreDefaults.
func New(s store.IndicatorStore, defaults DefaultTable) *Catalog {
	return &Catalog{
		store:    s,
		defaults: defaults,
		log:      zap.L().With(zap.String("component", "catalog")),
	}
}

// Active snapshots the enabled indicators.
func (c *Catalog) Active(ctx context.Context) (ActiveSet, error) {
	inds, err := c.store.ListEnabledIndicators(ctx)
	if err != nil {
		return ActiveSet{}, eris.Wrap(err, "catalog: list enabled indicators")
	}
	for _, ind := range inds {
		if !ind.ThresholdsOrdered() {
			c.log.Warn("indicator thresholds are not ordered for its direction",
				zap.String("code", ind.Code),
				zap.String("direction", string(ind.Direction)),
				zap.Float64("high", ind.ThresholdHigh),
				zap.Float64("medium", ind.ThresholdMedium),
				zap.Float64("low", ind.ThresholdLow),
			)
		}
	}
	return NewActiveSet(inds), nil
}

// List returns every indicator, enabled or not.
func (c *Catalog) List(ctx context.Context) ([]model.Indicator, error) {
	inds, err := c.store.ListIndicators(ctx)
	return inds, eris.Wrap(err, "catalog: list indicators")
}

// RestoreDefaults overwrites weight and thresholds of every indicator that
// has an entry in the defaults table. Direction and enabled are untouched.
// The write is all-or-nothing.
func (c *Catalog) RestoreDefaults(ctx context.Context) (*RestoreResult, error) {
	inds, err := c.store.ListIndicators(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list indicators for restore")
	}

	res := &RestoreResult{}
	present := make(map[string]bool, len(inds))
	var changed []model.Indicator
	for _, ind := range inds {
		present[ind.Code] = true
		d, ok := c.defaults[ind.Code]
		if !ok {
			continue
		}
		ind.Weight = d.Weight
		ind.ThresholdHigh = d.High
		ind.ThresholdMedium = d.Medium
		ind.ThresholdLow = d.Low
		changed = append(changed, ind)
		res.Restored = append(res.Restored, ind.Code)
	}

	for code := range c.defaults {
		if !present[code] {
			res.Unmatched = append(res.Unmatched, code)
		}
	}
	sort.Strings(res.Unmatched)
	for _, code := range res.Unmatched {
		c.log.Info("default has no matching indicator, skipped", zap.String("code", code))
	}

	if len(changed) > 0 {
		if err := c.store.SaveIndicators(ctx, changed); err != nil {
			return nil, eris.Wrap(err, "catalog: save restored indicators")
		}
	}

	c.log.Info("indicator defaults restored",
		zap.Int("restored", len(res.Restored)),
		zap.Int("unmatched", len(res.Unmatched)),
	)
	return res, nil
}

// Update applies a partial edit to the indicator with the given code.
func (c *Catalog) Update(ctx context.Context, code string, p IndicatorPatch) (*model.Indicator, error) {
	inds, err := c.store.ListIndicators(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list indicators for update")
	}

	var ind *model.Indicator
	for i := range inds {
		if inds[i].Code == code {
			ind = &inds[i]
			break
		}
	}
	if ind == nil {
		return nil, eris.Wrapf(ErrUnknownIndicator, "catalog: update %s", code)
	}

	if p.Weight != nil {
		if *p.Weight < 0 {
			return nil, eris.Errorf("catalog: weight for %s must be non-negative, got %v", code, *p.Weight)
		}
		ind.Weight = *p.Weight
	}
	if p.ThresholdHigh != nil {
		ind.ThresholdHigh = *p.ThresholdHigh
	}
	if p.ThresholdMedium != nil {
		ind.ThresholdMedium = *p.ThresholdMedium
	}
	if p.ThresholdLow != nil {
		ind.ThresholdLow = *p.ThresholdLow
	}
	if p.Unit != nil {
		ind.Unit = *p.Unit
	}
	if p.Direction != nil {
		ind.Direction = *p.Direction
	}
	if p.Enabled != nil {
		ind.Enabled = *p.Enabled
	}

	if !ind.ThresholdsOrdered() {
		c.log.Warn("indicator thresholds are not ordered for its direction", zap.String("code", code))
	}
	if err := c.store.SaveIndicators(ctx, []model.Indicator{*ind}); err != nil {
		return nil, eris.Wrapf(err, "catalog: save indicator %s", code)
	}
	return ind, nil
}

// Seed inserts every definition in seed whose code is not yet stored.
// Existing indicators keep their edited values. Returns the number inserted.
func (c *Catalog) Seed(ctx context.Context, seed []model.Indicator) (int, error) {
	inds, err := c.store.ListIndicators(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: list indicators for seed")
	}
	have := make(map[string]bool, len(inds))
	for _, ind := range inds {
		have[ind.Code] = true
	}

	var missing []model.Indicator
	for _, ind := range seed {
		if !have[ind.Code] {
			missing = append(missing, ind)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := c.store.SaveIndicators(ctx, missing); err != nil {
		return 0, eris.Wrap(err, "catalog: save seed indicators")
	}
	c.log.Info("seeded indicators", zap.Int("inserted", len(missing)))
	return len(missing), nil
}
