// Package deviation ranks general-ledger accounts for audit review from a
// precomputed year-over-year metrics table.
package deviation

import (
	"fmt"
	"sort"
	"strings"
)

// Thresholds are the global cutoffs shared by every metric. Percentile values
// are on a 0-100 scale.
type Thresholds struct {
	HighCV                 float64 `mapstructure:"high_cv" yaml:"high_cv" json:"high_cv"`
	ModerateCV             float64 `mapstructure:"moderate_cv" yaml:"moderate_cv" json:"moderate_cv"`
	MeanMedianGapRatio     float64 `mapstructure:"mean_median_gap_ratio" yaml:"mean_median_gap_ratio" json:"mean_median_gap_ratio"`
	PearsonSkewAbs         float64 `mapstructure:"pearson_skew_abs" yaml:"pearson_skew_abs" json:"pearson_skew_abs"`
	RelMeanShift           float64 `mapstructure:"rel_mean_shift" yaml:"rel_mean_shift" json:"rel_mean_shift"`
	RelStdJump             float64 `mapstructure:"rel_std_jump" yaml:"rel_std_jump" json:"rel_std_jump"`
	CohensDLarge           float64 `mapstructure:"cohens_d_large" yaml:"cohens_d_large" json:"cohens_d_large"`
	CohensDMedium          float64 `mapstructure:"cohens_d_medium" yaml:"cohens_d_medium" json:"cohens_d_medium"`
	SignReversalMinMeanPct float64 `mapstructure:"sign_reversal_min_mean_pct" yaml:"sign_reversal_min_mean_pct" json:"sign_reversal_min_mean_pct"`
	NewActivityFactor      float64 `mapstructure:"new_activity_factor" yaml:"new_activity_factor" json:"new_activity_factor"`
	Epsilon                float64 `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`

	// MinPercentileSample is the fewest non-missing values a metric needs
	// before its materiality percentiles are trusted.
	MinPercentileSample int `mapstructure:"min_percentile_sample" yaml:"min_percentile_sample" json:"min_percentile_sample"`

	// Multipliers applied to change signals that lack materiality or
	// corroborating test evidence.
	UnsupportedChangeMult float64 `mapstructure:"unsupported_change_mult" yaml:"unsupported_change_mult" json:"unsupported_change_mult"`
	UnsupportedShiftMult  float64 `mapstructure:"unsupported_shift_mult" yaml:"unsupported_shift_mult" json:"unsupported_shift_mult"`
}

// Weights are the base (pre-multiplier) weights per check outcome.
type Weights struct {
	DistributionChange  float64 `mapstructure:"distribution_change" yaml:"distribution_change" json:"distribution_change"`
	MeanShift           float64 `mapstructure:"mean_shift" yaml:"mean_shift" json:"mean_shift"`
	EffectLarge         float64 `mapstructure:"effect_large" yaml:"effect_large" json:"effect_large"`
	EffectMedium        float64 `mapstructure:"effect_medium" yaml:"effect_medium" json:"effect_medium"`
	HighCV              float64 `mapstructure:"high_cv" yaml:"high_cv" json:"high_cv"`
	ModerateCV          float64 `mapstructure:"moderate_cv" yaml:"moderate_cv" json:"moderate_cv"`
	MeanMedianGap       float64 `mapstructure:"mean_median_gap" yaml:"mean_median_gap" json:"mean_median_gap"`
	PearsonSkew         float64 `mapstructure:"pearson_skew" yaml:"pearson_skew" json:"pearson_skew"`
	VolatilityJump      float64 `mapstructure:"volatility_jump" yaml:"volatility_jump" json:"volatility_jump"`
	LowMeanHighVariance float64 `mapstructure:"low_mean_high_variance" yaml:"low_mean_high_variance" json:"low_mean_high_variance"`
	NewActivity         float64 `mapstructure:"new_activity" yaml:"new_activity" json:"new_activity"`
	SignReversal        float64 `mapstructure:"sign_reversal" yaml:"sign_reversal" json:"sign_reversal"`
}

// MetricProfile overrides materiality floors and weight multipliers for one
// metric. Running_Balance, for example, swings on repayments and clearing
// and so is gated harder.
type MetricProfile struct {
	MinMeanPctForCV     float64 `mapstructure:"min_mean_pct_for_cv" yaml:"min_mean_pct_for_cv" json:"min_mean_pct_for_cv"`
	MinMeanPctForEffect float64 `mapstructure:"min_mean_pct_for_effect" yaml:"min_mean_pct_for_effect" json:"min_mean_pct_for_effect"`
	EffectWeightMult    float64 `mapstructure:"effect_weight_mult" yaml:"effect_weight_mult" json:"effect_weight_mult"`
	CVWeightMult        float64 `mapstructure:"cv_weight_mult" yaml:"cv_weight_mult" json:"cv_weight_mult"`
	LowMeanPct          float64 `mapstructure:"low_mean_pct" yaml:"low_mean_pct" json:"low_mean_pct"`
	HighStdPct          float64 `mapstructure:"high_std_pct" yaml:"high_std_pct" json:"high_std_pct"`
}

// Tiering controls how scores become tiers.
type Tiering struct {
	Tier1MinScore                  float64 `mapstructure:"tier1_min_score" yaml:"tier1_min_score" json:"tier1_min_score"`
	Tier2MinScore                  float64 `mapstructure:"tier2_min_score" yaml:"tier2_min_score" json:"tier2_min_score"`
	Tier3MinScore                  float64 `mapstructure:"tier3_min_score" yaml:"tier3_min_score" json:"tier3_min_score"`
	IncludeTier3                   bool    `mapstructure:"include_tier3" yaml:"include_tier3" json:"include_tier3"`
	MaxTier1                       int     `mapstructure:"max_tier1" yaml:"max_tier1" json:"max_tier1"`
	Tier1MaterialityPct            float64 `mapstructure:"tier1_materiality_pct" yaml:"tier1_materiality_pct" json:"tier1_materiality_pct"`
	Tier1OverrideScore             float64 `mapstructure:"tier1_override_score" yaml:"tier1_override_score" json:"tier1_override_score"`
	DropPureVolatilityBelowMeanPct float64 `mapstructure:"drop_pure_volatility_below_mean_pct" yaml:"drop_pure_volatility_below_mean_pct" json:"drop_pure_volatility_below_mean_pct"`

	// RequireAnyOf leaves an account unflagged unless at least one of these
	// kinds fired. Empty disables the gate.
	RequireAnyOf []Kind `mapstructure:"require_any_of" yaml:"require_any_of" json:"require_any_of"`
}

// ReportOptions shape the rendered rows.
type ReportOptions struct {
	MaxReasons         int  `mapstructure:"max_reasons" yaml:"max_reasons" json:"max_reasons"`
	MaxEvidenceMetrics int  `mapstructure:"max_evidence_metrics" yaml:"max_evidence_metrics" json:"max_evidence_metrics"`
	IncludeEvidence    bool `mapstructure:"include_evidence" yaml:"include_evidence" json:"include_evidence"`
}

// Config is the full engine configuration. It is validated once by NewEngine
// and never mutated afterwards.
type Config struct {
	Thresholds    Thresholds               `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	Weights       Weights                  `mapstructure:"weights" yaml:"weights" json:"weights"`
	Tiers         Tiering                  `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
	Profiles      map[string]MetricProfile `mapstructure:"profiles" yaml:"profiles" json:"profiles"`
	EnabledChecks map[Kind]bool            `mapstructure:"enabled_checks" yaml:"enabled_checks" json:"enabled_checks"`
	Language      Language                 `mapstructure:"language" yaml:"language" json:"language"`
	Report        ReportOptions            `mapstructure:"report" yaml:"report" json:"report"`
}

// DefaultProfile is used for metrics without an entry in Config.Profiles.
func DefaultProfile() MetricProfile {
	return MetricProfile{
		MinMeanPctForCV:     60,
		MinMeanPctForEffect: 30,
		EffectWeightMult:    1.0,
		CVWeightMult:        1.0,
		LowMeanPct:          30,
		HighStdPct:          70,
	}
}

// DefaultProfiles returns the built-in per-metric profiles.
func DefaultProfiles() map[string]MetricProfile {
	credit := DefaultProfile()
	credit.MinMeanPctForCV = 60
	credit.MinMeanPctForEffect = 60

	debit := DefaultProfile()
	debit.MinMeanPctForCV = 30
	debit.MinMeanPctForEffect = 30

	balance := DefaultProfile()
	balance.MinMeanPctForCV = 75
	balance.MinMeanPctForEffect = 78
	balance.EffectWeightMult = 0.7
	balance.CVWeightMult = 0.8

	gst := DefaultProfile()
	gst.MinMeanPctForCV = 40
	gst.MinMeanPctForEffect = 45
	gst.EffectWeightMult = 0.9
	gst.CVWeightMult = 0.9

	return map[string]MetricProfile{
		"Credit":          credit,
		"Debit":           debit,
		"Running_Balance": balance,
		"GST":             gst,
	}
}

// DefaultConfig returns a Config with the stock thresholds, weights and
// wording.
func DefaultConfig() Config {
	enabled := make(map[Kind]bool, len(AllKinds()))
	for _, k := range AllKinds() {
		enabled[k] = true
	}

	return Config{
		Thresholds: Thresholds{
			HighCV:                 1.0,
			ModerateCV:             0.7,
			MeanMedianGapRatio:     0.38,
			PearsonSkewAbs:         1.2,
			RelMeanShift:           0.75,
			RelStdJump:             0.80,
			CohensDLarge:           0.8,
			CohensDMedium:          0.5,
			SignReversalMinMeanPct: 60,
			NewActivityFactor:      10,
			Epsilon:                1e-9,
			MinPercentileSample:    3,
			UnsupportedChangeMult:  0.4,
			UnsupportedShiftMult:   0.5,
		},
		Weights: Weights{
			DistributionChange:  5,
			MeanShift:           5,
			EffectLarge:         4,
			EffectMedium:        2,
			HighCV:              2,
			ModerateCV:          1,
			MeanMedianGap:       2,
			PearsonSkew:         1,
			VolatilityJump:      2,
			LowMeanHighVariance: 2,
			NewActivity:         2,
			SignReversal:        3,
		},
		Tiers: Tiering{
			Tier1MinScore:                  14,
			Tier2MinScore:                  7,
			Tier3MinScore:                  5,
			IncludeTier3:                   false,
			MaxTier1:                       10,
			Tier1MaterialityPct:            75,
			Tier1OverrideScore:             28,
			DropPureVolatilityBelowMeanPct: 80,
			RequireAnyOf: []Kind{
				KindDistributionChange,
				KindMeanShift,
				KindEffectSize,
				KindLowMeanHighVariance,
				KindNewActivity,
				KindSignReversal,
				KindHighCV,
				KindMeanMedianGap,
			},
		},
		Profiles:      DefaultProfiles(),
		EnabledChecks: enabled,
		Language:      DefaultLanguage(),
		Report: ReportOptions{
			MaxReasons:         6,
			MaxEvidenceMetrics: 3,
			IncludeEvidence:    true,
		},
	}
}

// Profile returns the profile for metric. Lookup falls back to a
// case-insensitive match because config loaders may lowercase map keys.
func (c Config) Profile(metric string) MetricProfile {
	if p, ok := c.Profiles[metric]; ok {
		return p
	}
	for name, p := range c.Profiles {
		if strings.EqualFold(name, metric) {
			return p
		}
	}
	return DefaultProfile()
}

// Enabled reports whether the check kind may fire. Kinds absent from
// EnabledChecks are enabled.
func (c Config) Enabled(k Kind) bool {
	on, ok := c.EnabledChecks[k]
	if !ok {
		return true
	}
	return on
}

// Clone returns a deep copy so the engine never shares maps or slices with
// the caller.
func (c Config) Clone() Config {
	out := c

	out.Profiles = make(map[string]MetricProfile, len(c.Profiles))
	for k, v := range c.Profiles {
		out.Profiles[k] = v
	}

	out.EnabledChecks = make(map[Kind]bool, len(c.EnabledChecks))
	for k, v := range c.EnabledChecks {
		out.EnabledChecks[k] = v
	}

	out.Tiers.RequireAnyOf = append([]Kind(nil), c.Tiers.RequireAnyOf...)
	out.Language = c.Language.clone()
	return out
}

// ConfigError reports every inconsistency found in a Config.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "deviation: config validation failed: " + strings.Join(e.Problems, "; ")
}

// Validate checks that a Config is internally consistent. The returned error
// is a *ConfigError.
func (c Config) Validate() error {
	var errs []string

	t := c.Thresholds
	positive := map[string]float64{
		"thresholds.high_cv":               t.HighCV,
		"thresholds.moderate_cv":           t.ModerateCV,
		"thresholds.mean_median_gap_ratio": t.MeanMedianGapRatio,
		"thresholds.pearson_skew_abs":      t.PearsonSkewAbs,
		"thresholds.rel_mean_shift":        t.RelMeanShift,
		"thresholds.rel_std_jump":          t.RelStdJump,
		"thresholds.cohens_d_large":        t.CohensDLarge,
		"thresholds.cohens_d_medium":       t.CohensDMedium,
		"thresholds.epsilon":               t.Epsilon,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", name))
		}
	}
	if t.ModerateCV > t.HighCV {
		errs = append(errs, "thresholds.moderate_cv must be <= thresholds.high_cv")
	}
	if t.CohensDMedium > t.CohensDLarge {
		errs = append(errs, "thresholds.cohens_d_medium must be <= thresholds.cohens_d_large")
	}
	if t.NewActivityFactor < 0 {
		errs = append(errs, "thresholds.new_activity_factor must be >= 0")
	}
	if t.MinPercentileSample < 1 {
		errs = append(errs, "thresholds.min_percentile_sample must be >= 1")
	}
	errs = appendPct(errs, "thresholds.sign_reversal_min_mean_pct", t.SignReversalMinMeanPct)
	errs = appendUnit(errs, "thresholds.unsupported_change_mult", t.UnsupportedChangeMult)
	errs = appendUnit(errs, "thresholds.unsupported_shift_mult", t.UnsupportedShiftMult)

	w := c.Weights
	weights := map[string]float64{
		"weights.distribution_change":    w.DistributionChange,
		"weights.mean_shift":             w.MeanShift,
		"weights.effect_large":           w.EffectLarge,
		"weights.effect_medium":          w.EffectMedium,
		"weights.high_cv":                w.HighCV,
		"weights.moderate_cv":            w.ModerateCV,
		"weights.mean_median_gap":        w.MeanMedianGap,
		"weights.pearson_skew":           w.PearsonSkew,
		"weights.volatility_jump":        w.VolatilityJump,
		"weights.low_mean_high_variance": w.LowMeanHighVariance,
		"weights.new_activity":           w.NewActivity,
		"weights.sign_reversal":          w.SignReversal,
	}
	for _, name := range sortedKeys(weights) {
		if weights[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	tr := c.Tiers
	if tr.Tier2MinScore <= 0 {
		errs = append(errs, "tiers.tier2_min_score must be > 0")
	}
	if tr.Tier1MinScore < tr.Tier2MinScore {
		errs = append(errs, "tiers.tier1_min_score must be >= tiers.tier2_min_score")
	}
	if tr.IncludeTier3 && (tr.Tier3MinScore <= 0 || tr.Tier3MinScore > tr.Tier2MinScore) {
		errs = append(errs, "tiers.tier3_min_score must be in (0, tier2_min_score] when include_tier3 is set")
	}
	if tr.Tier1OverrideScore < tr.Tier1MinScore {
		errs = append(errs, "tiers.tier1_override_score must be >= tiers.tier1_min_score")
	}
	if tr.MaxTier1 < 0 {
		errs = append(errs, "tiers.max_tier1 must be >= 0")
	}
	errs = appendPct(errs, "tiers.tier1_materiality_pct", tr.Tier1MaterialityPct)
	errs = appendPct(errs, "tiers.drop_pure_volatility_below_mean_pct", tr.DropPureVolatilityBelowMeanPct)
	for _, k := range tr.RequireAnyOf {
		if !k.Valid() {
			errs = append(errs, fmt.Sprintf("tiers.require_any_of: unknown check %q", k))
		}
	}

	for _, name := range sortedKeys(c.Profiles) {
		p := c.Profiles[name]
		prefix := "profiles." + name
		errs = appendPct(errs, prefix+".min_mean_pct_for_cv", p.MinMeanPctForCV)
		errs = appendPct(errs, prefix+".min_mean_pct_for_effect", p.MinMeanPctForEffect)
		errs = appendPct(errs, prefix+".low_mean_pct", p.LowMeanPct)
		errs = appendPct(errs, prefix+".high_std_pct", p.HighStdPct)
		if p.EffectWeightMult < 0 {
			errs = append(errs, prefix+".effect_weight_mult must be >= 0")
		}
		if p.CVWeightMult < 0 {
			errs = append(errs, prefix+".cv_weight_mult must be >= 0")
		}
	}

	for k := range c.EnabledChecks {
		if !k.Valid() {
			errs = append(errs, fmt.Sprintf("enabled_checks: unknown check %q", k))
		}
	}

	errs = append(errs, c.Language.validate()...)

	if c.Report.MaxReasons < 1 {
		errs = append(errs, "report.max_reasons must be >= 1")
	}
	if c.Report.MaxEvidenceMetrics < 1 {
		errs = append(errs, "report.max_evidence_metrics must be >= 1")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return &ConfigError{Problems: errs}
	}
	return nil
}

func appendPct(errs []string, name string, v float64) []string {
	if v < 0 || v > 100 {
		return append(errs, fmt.Sprintf("%s must be between 0 and 100", name))
	}
	return errs
}

func appendUnit(errs []string, name string, v float64) []string {
	if v < 0 || v > 1 {
		return append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
