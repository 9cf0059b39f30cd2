package deviation

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Template keys that do not come from a signal kind.
const (
	TemplateVolatilityImmaterial = "volatility_immaterial"
	TemplateDefault              = "default"
	BucketGeneral                = "general"
)

// BucketRule assigns an account to a bucket when its name contains any of
// the keywords. Rules are tried in order.
type BucketRule struct {
	Bucket   string   `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords" json:"keywords"`
}

// Language is the wording used for interpretations. Swapping it changes
// text only, never scores or tiers.
type Language struct {
	Subjects       map[string]string `mapstructure:"subjects" yaml:"subjects" json:"subjects"`
	Templates      map[string]string `mapstructure:"templates" yaml:"templates" json:"templates"`
	Notes          map[string]string `mapstructure:"notes" yaml:"notes" json:"notes"`
	DirectionWords map[string]string `mapstructure:"direction_words" yaml:"direction_words" json:"direction_words"`
	BucketRules    []BucketRule      `mapstructure:"bucket_rules" yaml:"bucket_rules" json:"bucket_rules"`
	BucketFinish   map[string]string `mapstructure:"bucket_finish" yaml:"bucket_finish" json:"bucket_finish"`
	MaxNotes       int               `mapstructure:"max_notes" yaml:"max_notes" json:"max_notes"`
}

// DefaultLanguage returns the stock accountant-facing wording.
func DefaultLanguage() Language {
	return Language{
		Subjects: map[string]string{
			"Credit":          "Credit postings",
			"Debit":           "Debit postings",
			"Running_Balance": "Balance movements",
			"GST":             "GST behaviour",
		},
		Templates: map[string]string{
			"distribution_change/increase": "posting pattern shifted {direction} versus last year",
			"distribution_change/decrease": "posting pattern shifted {direction} versus last year",
			"distribution_change":          "posting pattern changed versus last year",
			"mean_shift/increase":          "average level moved materially {direction}",
			"mean_shift/decrease":          "average level moved materially {direction}",
			"mean_shift":                   "average level moved materially",
			"effect_size_support":          "change looks practically large, not just noise",
			"mean_median_gap":              "skew suggests outliers or one-offs",
			"pearson_skew":                 "outliers likely dominate the movement",
			"high_cv":                      "volatility is lumpy and irregular",
			"volatility_jump":              "volatility jumped versus last year",
			"low_mean_high_variance":       "small average with outsized variability suggests batching or timing noise",
			"new_activity":                 "activity appears newly introduced or restarted",
			"sign_reversal":                "direction flipped (possible reclass/contra entries)",
			TemplateVolatilityImmaterial:   "volatility is elevated but below materiality, likely repayment or clearing activity rather than a primary driver",
			TemplateDefault:                "shows unusual movement versus last year",
		},
		Notes: map[string]string{
			"distribution_change":    "posting pattern changed",
			"mean_shift":             "average level moved",
			"effect_size_support":    "change is practically large",
			"mean_median_gap":        "outliers or one-offs present",
			"pearson_skew":           "distribution is skewed",
			"high_cv":                "volatility is irregular",
			"volatility_jump":        "spread widened versus last year",
			"low_mean_high_variance": "batching or timing noise likely",
			"new_activity":           "activity newly introduced",
			"sign_reversal":          "direction flipped",
		},
		DirectionWords: map[string]string{
			string(DirectionIncrease):   "upward",
			string(DirectionDecrease):   "downward",
			string(DirectionVolatility): "irregularly",
		},
		BucketRules: []BucketRule{
			{Bucket: "revenue", Keywords: []string{"sales", "revenue", "income"}},
			{Bucket: "cash", Keywords: []string{"bank", "merchant", "eftpos", "stripe", "fees", "interest"}},
			{Bucket: "timing", Keywords: []string{"insurance", "subscription", "subscriptions", "prepaid", "licence", "license", "annual"}},
			{Bucket: "clearing", Keywords: []string{"payable", "receivable", "deposit", "clearing", "suspense", "control", "intercompany", "loan", "hire purchase", "hp"}},
			{Bucket: "tax", Keywords: []string{"gst", "vat", "tax", "rwt"}},
			{Bucket: "rounding", Keywords: []string{"rounding", "round off", "round-off"}},
		},
		BucketFinish: map[string]string{
			"revenue":     "Check cut-off, pricing/mix changes, and recognition timing.",
			"cash":        "Often driven by batch journals, timing, bank rule changes, or missed automation.",
			"timing":      "Common causes are accruals vs prepaids, one-offs, or timing corrections.",
			"clearing":    "Usually points to reconciliation gaps, clearing discipline, or mis-postings into control accounts.",
			"tax":         "Validate coding, rate mapping, and whether supply classification changed.",
			"rounding":    "Unexpected activity can mask systemic posting issues or forced balancing journals.",
			BucketGeneral: "Often a mix of reclasses, one-offs, or process changes.",
		},
		MaxNotes: 2,
	}
}

// TemplateKey returns the most specific template key for a signal:
// "kind/direction".
func TemplateKey(s Signal) string {
	return string(s.Kind) + "/" + string(s.Direction)
}

// Bucket classifies an account by keywords in its name. Matching is
// case-insensitive substring matching; no rule matching means "general".
func (l Language) Bucket(accountName string) string {
	name := strings.ToLower(accountName)
	for _, rule := range l.BucketRules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
				return rule.Bucket
			}
		}
	}
	return BucketGeneral
}

// Subject returns the sentence subject for a metric, deriving one from the
// metric name when none is configured.
func (l Language) Subject(metric string) string {
	if s, ok := lookupFold(l.Subjects, metric); ok {
		return s
	}
	title := cases.Title(language.English).String(strings.ReplaceAll(metric, "_", " "))
	return title + " behaviour"
}

// template resolves key, then the bare kind, then the default.
func (l Language) template(keys ...string) string {
	for _, k := range keys {
		if t, ok := lookupFold(l.Templates, k); ok {
			return t
		}
	}
	if t, ok := lookupFold(l.Templates, TemplateDefault); ok {
		return t
	}
	return "shows unusual movement versus last year"
}

func (l Language) finish(bucket string) string {
	if f, ok := lookupFold(l.BucketFinish, bucket); ok {
		return f
	}
	f, _ := lookupFold(l.BucketFinish, BucketGeneral)
	return f
}

func (l Language) direction(d Direction) string {
	if w, ok := lookupFold(l.DirectionWords, string(d)); ok {
		return w
	}
	return string(d)
}

func (l Language) validate() []string {
	var errs []string
	if _, ok := lookupFold(l.BucketFinish, BucketGeneral); !ok {
		errs = append(errs, "language.bucket_finish must define \"general\"")
	}
	if l.MaxNotes < 0 {
		errs = append(errs, "language.max_notes must be >= 0")
	}
	for i, r := range l.BucketRules {
		if strings.TrimSpace(r.Bucket) == "" {
			errs = append(errs, fmt.Sprintf("language.bucket_rules[%d] has no bucket", i))
		}
	}
	return errs
}

func (l Language) clone() Language {
	out := l
	out.Subjects = cloneStrings(l.Subjects)
	out.Templates = cloneStrings(l.Templates)
	out.Notes = cloneStrings(l.Notes)
	out.DirectionWords = cloneStrings(l.DirectionWords)
	out.BucketFinish = cloneStrings(l.BucketFinish)
	out.BucketRules = make([]BucketRule, len(l.BucketRules))
	for i, r := range l.BucketRules {
		out.BucketRules[i] = BucketRule{Bucket: r.Bucket, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// lookupFold finds key exactly, then case-insensitively.
func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
