package billing

// ResolvePlan infers the local plan for a provider subscription snapshot.
//
// Priority order:
//
//  1. Explicit plan-code metadata on the snapshot.
//  2. Line-item price IDs matched against the catalog; when more than one
//     plan matches (possible transiently during an upgrade with proration),
//     the highest tier wins.
//  3. The existing local record's plan, when one exists. A snapshot without
//     any usable plan signal means "no information", not "downgrade".
//
// Self-service portal changes frequently omit application metadata, so
// price-ID inference must override a stale locally stored plan; the existing
// plan is only a fallback. When nothing resolves, ErrPlanUnresolved is
// returned and the caller skips the event without writing a record.
func ResolvePlan(catalog *Catalog, snap *ProviderSubscription, existing *Subscription) (Plan, error) {
	if snap.PlanCode != "" {
		if plan, ok := catalog.Plan(snap.PlanCode); ok {
			return plan, nil
		}
		// Unknown metadata code: fall through to price inference.
	}

	var best Plan
	found := false
	for _, priceID := range snap.PriceIDs {
		plan, ok := catalog.PlanForPrice(priceID)
		if !ok {
			continue
		}
		if !found || plan.Tier > best.Tier {
			best = plan
			found = true
		}
	}
	if found {
		return best, nil
	}

	if existing != nil && existing.PlanCode != "" {
		if plan, ok := catalog.Plan(existing.PlanCode); ok {
			return plan, nil
		}
		// Plan was removed from the catalog; keep the stored code rather
		// than failing reconciliation for a record that already exists.
		return Plan{Code: existing.PlanCode}, nil
	}

	return Plan{}, ErrPlanUnresolved
}
