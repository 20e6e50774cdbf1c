package billing

// TrialPlanCode is the reserved plan code for locally issued trials.
// A trial record never carries a provider subscription ID.
const TrialPlanCode = "trial"

// Plan describes a subscription tier: its provider price IDs per billing
// cycle, its position in the tier order, and the feature limits callers may
// enforce. Plans live in configuration, not in the database; the catalog is
// loaded once at startup.
type Plan struct {
	Code        string           `yaml:"code"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	PriceIDs    map[Cycle]string `yaml:"price_ids,omitempty"`

	// Tier is the plan's position in the fixed total order used when a
	// provider subscription's line items match more than one plan
	// (e.g. transiently during an upgrade with proration). Higher wins.
	Tier int `yaml:"tier"`

	MaxStorefronts   int `yaml:"max_storefronts"`
	MaxFeaturedCards int `yaml:"max_featured_cards"`

	Active    bool `yaml:"active"`
	SortOrder int  `yaml:"sort_order"`
}

// IsTrial reports whether this is the local-only trial plan.
func (p Plan) IsTrial() bool {
	return p.Code == TrialPlanCode
}

// IsPaid reports whether the plan is billed through the provider.
func (p Plan) IsPaid() bool {
	return !p.IsTrial()
}
