package billing

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Catalog is an immutable, queryable set of plans for one billing provider
// account. Each configured provider account carries its own catalog because
// price IDs are scoped to the provider account that created them.
type Catalog struct {
	plans   map[string]Plan
	byPrice map[string]string // price ID -> plan code
	ordered []string
}

// NewCatalog builds a catalog from the given plans. Plan codes and price IDs
// must be unique across the catalog; a price ID mapping to two plans would
// make inference ambiguous.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("at least one plan is required"))
	}

	c := &Catalog{
		plans:   make(map[string]Plan, len(plans)),
		byPrice: make(map[string]string),
	}

	for _, plan := range plans {
		if plan.Code == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("plan code is required"))
		}
		if _, exists := c.plans[plan.Code]; exists {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate plan code %q", plan.Code))
		}
		for cycle, priceID := range plan.PriceIDs {
			if priceID == "" {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q has an empty price ID for cycle %q", plan.Code, cycle))
			}
			if other, exists := c.byPrice[priceID]; exists {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("price ID %q is shared by plans %q and %q", priceID, other, plan.Code))
			}
			c.byPrice[priceID] = plan.Code
		}
		c.plans[plan.Code] = plan
		c.ordered = append(c.ordered, plan.Code)
	}

	slices.SortStableFunc(c.ordered, func(a, b string) int {
		return c.plans[a].SortOrder - c.plans[b].SortOrder
	})

	return c, nil
}

// LoadCatalog reads a YAML plan list from path and builds a catalog.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var plans []Plan
	if err := yaml.Unmarshal(raw, &plans); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	return NewCatalog(plans...)
}

// Plan returns the plan with the given code.
func (c *Catalog) Plan(code string) (Plan, bool) {
	plan, ok := c.plans[code]
	return plan, ok
}

// PlanForPrice returns the plan owning the given provider price ID.
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	code, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, false
	}
	return c.plans[code], true
}

// PriceID resolves the provider price ID for a plan and billing cycle.
// A missing entry is a configuration error surfaced to the caller that
// needs it, not silently defaulted.
func (c *Catalog) PriceID(code string, cycle Cycle) (string, error) {
	plan, ok := c.plans[code]
	if !ok {
		return "", ErrPlanNotFound
	}
	priceID, ok := plan.PriceIDs[cycle]
	if !ok || priceID == "" {
		return "", errors.Join(ErrPriceNotConfigured, fmt.Errorf("plan %q, cycle %q", code, cycle))
	}
	return priceID, nil
}

// Plans returns all plans ordered by their sort order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.ordered))
	for _, code := range c.ordered {
		out = append(out, c.plans[code])
	}
	return out
}
