package deviation

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Tier is the review priority of an account.
type Tier int

// Tiers, from most to least urgent. Unflagged is the zero value.
const (
	Unflagged Tier = iota
	Tier1
	Tier2
	Tier3
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "Tier-1"
	case Tier2:
		return "Tier-2"
	case Tier3:
		return "Tier-3"
	default:
		return "Unflagged"
	}
}

// Flagged reports whether the tier belongs in the report.
func (t Tier) Flagged() bool {
	return t != Unflagged
}

// rank orders tiers for sorting: Tier-1 first, Unflagged last.
func (t Tier) rank() int {
	if t == Unflagged {
		return 4
	}
	return int(t)
}

// MarshalText renders the tier label.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier label.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Tier-1":
		*t = Tier1
	case "Tier-2":
		*t = Tier2
	case "Tier-3":
		*t = Tier3
	case "Unflagged", "":
		*t = Unflagged
	default:
		return eris.Errorf("deviation: unknown tier %q", string(b))
	}
	return nil
}

// assignTier maps a score to a tier. Tier-1 additionally needs overall
// materiality at or above the configured percentile unless the score clears
// the override; failing that it falls to Tier-2.
func assignTier(score float64, overall float64, overallOK bool, signals []Signal, tr Tiering) Tier {
	if len(signals) == 0 || !passesRequireAnyOf(signals, tr.RequireAnyOf) {
		return Unflagged
	}

	switch {
	case score >= tr.Tier1MinScore:
		if (overallOK && overall >= tr.Tier1MaterialityPct) || score >= tr.Tier1OverrideScore {
			return Tier1
		}
		return Tier2
	case score >= tr.Tier2MinScore:
		return Tier2
	case tr.IncludeTier3 && score >= tr.Tier3MinScore:
		return Tier3
	}
	return Unflagged
}

func passesRequireAnyOf(signals []Signal, kinds []Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, s := range signals {
		for _, k := range kinds {
			if s.Kind == k {
				return true
			}
		}
	}
	return false
}

// capTier1 demotes Tier-1 accounts beyond max to Tier-2, keeping the highest
// scores and breaking ties by account code. Zero means no cap. It returns the
// number of accounts demoted.
func capTier1(accounts []ScoredAccount, max int) int {
	if max <= 0 {
		return 0
	}

	var idx []int
	for i := range accounts {
		if accounts[i].Tier == Tier1 {
			idx = append(idx, i)
		}
	}
	if len(idx) <= max {
		return 0
	}

	sort.SliceStable(idx, func(a, b int) bool {
		x, y := accounts[idx[a]], accounts[idx[b]]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		return x.Code < y.Code
	})
	for _, i := range idx[max:] {
		accounts[i].Tier = Tier2
		accounts[i].DemotedByCap = true
	}
	return len(idx) - max
}
