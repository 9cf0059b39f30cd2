package deviation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 14.0, cfg.Tiers.Tier1MinScore)
	assert.Equal(t, 7.0, cfg.Tiers.Tier2MinScore)
	assert.Equal(t, 10, cfg.Tiers.MaxTier1)
	assert.Len(t, cfg.Profiles, 4)
	for _, k := range AllKinds() {
		assert.True(t, cfg.Enabled(k), "kind %s should be enabled by default", k)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "tier1 below tier2",
			mutate: func(c *Config) { c.Tiers.Tier1MinScore = 5 },
			want:   "tiers.tier1_min_score must be >= tiers.tier2_min_score",
		},
		{
			name:   "negative weight",
			mutate: func(c *Config) { c.Weights.MeanShift = -1 },
			want:   "weights.mean_shift must be >= 0",
		},
		{
			name:   "percentile out of range",
			mutate: func(c *Config) { c.Tiers.Tier1MaterialityPct = 140 },
			want:   "tiers.tier1_materiality_pct must be between 0 and 100",
		},
		{
			name:   "override below tier1",
			mutate: func(c *Config) { c.Tiers.Tier1OverrideScore = 10 },
			want:   "tiers.tier1_override_score must be >= tiers.tier1_min_score",
		},
		{
			name:   "negative cap",
			mutate: func(c *Config) { c.Tiers.MaxTier1 = -1 },
			want:   "tiers.max_tier1 must be >= 0",
		},
		{
			name:   "unknown enabled check",
			mutate: func(c *Config) { c.EnabledChecks["bogus"] = true },
			want:   `enabled_checks: unknown check "bogus"`,
		},
		{
			name:   "unknown require_any_of kind",
			mutate: func(c *Config) { c.Tiers.RequireAnyOf = append(c.Tiers.RequireAnyOf, "nope") },
			want:   `tiers.require_any_of: unknown check "nope"`,
		},
		{
			name:   "negative profile multiplier",
			mutate: func(c *Config) { c.Profiles["Extra"] = MetricProfile{CVWeightMult: -1} },
			want:   "profiles.Extra.cv_weight_mult must be >= 0",
		},
		{
			name:   "missing general finish",
			mutate: func(c *Config) { delete(c.Language.BucketFinish, BucketGeneral) },
			want:   `language.bucket_finish must define "general"`,
		},
		{
			name:   "moderate above high cv",
			mutate: func(c *Config) { c.Thresholds.ModerateCV = 2 },
			want:   "thresholds.moderate_cv must be <= thresholds.high_cv",
		},
		{
			name:   "zero sample floor",
			mutate: func(c *Config) { c.Thresholds.MinPercentileSample = 0 },
			want:   "thresholds.min_percentile_sample must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Problems, tt.want)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.HighCV = -2
	cfg.Weights.SignReversal = -3
	cfg.Report.MaxReasons = 0

	err := cfg.Validate()
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Problems, 3)
	assert.Contains(t, err.Error(), "deviation: config validation failed")
}

func TestConfigProfile(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.7, cfg.Profile("Running_Balance").EffectWeightMult)
	assert.Equal(t, DefaultProfile(), cfg.Profile("Unknown_Metric"))

	cfg.Profiles = map[string]MetricProfile{"running_balance": {MinMeanPctForCV: 12}}
	assert.Equal(t, 12.0, cfg.Profile("Running_Balance").MinMeanPctForCV)
}

func TestConfigEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledChecks = map[Kind]bool{KindHighCV: false}

	assert.False(t, cfg.Enabled(KindHighCV))
	assert.True(t, cfg.Enabled(KindMeanShift))
}

func TestConfigClone_Independent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Profiles["Credit"] = MetricProfile{}
	clone.EnabledChecks[KindMeanShift] = false
	clone.Tiers.RequireAnyOf[0] = KindPearsonSkew
	clone.Language.Subjects["Credit"] = "changed"
	clone.Language.BucketRules[0].Keywords[0] = "changed"

	assert.Equal(t, 60.0, cfg.Profiles["Credit"].MinMeanPctForEffect)
	assert.True(t, cfg.EnabledChecks[KindMeanShift])
	assert.Equal(t, KindDistributionChange, cfg.Tiers.RequireAnyOf[0])
	assert.Equal(t, "Credit postings", cfg.Language.Subjects["Credit"])
	assert.Equal(t, "sales", cfg.Language.BucketRules[0].Keywords[0])
}
