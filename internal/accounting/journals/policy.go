package journals

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Tier maps an amount ceiling to the number of distinct approvals required.
type Tier struct {
	Ceiling   decimal.Decimal
	Approvals int
}

// Policy decides which entries skip the maker-checker gate and how many checkers sign.
type Policy struct {
	Tiers    []Tier
	AutoPost map[accounting.EntryType]bool
}

// DefaultPolicy auto-posts every event-generated type and gates manual entries.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Ceiling: decimal.NewFromInt(100000), Approvals: 1},
			{Ceiling: decimal.NewFromInt(1000000), Approvals: 2},
		},
		AutoPost: map[accounting.EntryType]bool{
			accounting.EntryTypeSales:    true,
			accounting.EntryTypePurchase: true,
			accounting.EntryTypeReceipt:  true,
			accounting.EntryTypePayment:  true,
			accounting.EntryTypeBank:     true,
			accounting.EntryTypeStock:    true,
		},
	}
}

// RequiresApproval reports whether entries of type t must pass approval before posting.
// Reversals always post directly.
func (p Policy) RequiresApproval(t accounting.EntryType) bool {
	if t == accounting.EntryTypeReversal {
		return false
	}
	return !p.AutoPost[t]
}

// LevelFor returns the approvals required for amount. Amounts above the last tier
// need one more approval than that tier.
func (p Policy) LevelFor(amount decimal.Decimal) int {
	if len(p.Tiers) == 0 {
		return 1
	}
	for _, tier := range p.Tiers {
		if amount.LessThanOrEqual(tier.Ceiling) {
			return tier.Approvals
		}
	}
	return p.Tiers[len(p.Tiers)-1].Approvals + 1
}

// ParseTiers reads "ceiling:approvals" pairs separated by commas.
func ParseTiers(raw string) ([]Tier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var tiers []Tier
	for _, part := range strings.Split(raw, ",") {
		ceiling, count, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("approval tier %q: want ceiling:approvals", part)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(ceiling))
		if err != nil {
			return nil, fmt.Errorf("approval tier %q: %w", part, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("approval tier %q: approvals must be a positive integer", part)
		}
		tiers = append(tiers, Tier{Ceiling: amount, Approvals: n})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Ceiling.LessThan(tiers[j].Ceiling) })
	return tiers, nil
}

// ParseAutoPost reads a comma separated list of entry types.
func ParseAutoPost(raw []string) (map[accounting.EntryType]bool, error) {
	out := make(map[accounting.EntryType]bool, len(raw))
	for _, v := range raw {
		t := accounting.EntryType(strings.ToUpper(strings.TrimSpace(v)))
		if t == "" {
			continue
		}
		if !t.Valid() {
			return nil, fmt.Errorf("unknown entry type %q", v)
		}
		out[t] = true
	}
	return out, nil
}
