// Package billing provides the entitlement ledger: the single authoritative
// mapping from paid amounts to plan entitlements. It is pure domain logic
// with no I/O so both checkout initiation and webhook reconciliation price
// against exactly the same table.
package billing

import (
	"fmt"
	"time"

	"tailoredletters/internal/types"
)

// FreeLetterQuota is the number of letters granted at registration.
const FreeLetterQuota = 5

// amountTable maps a charged amount in cents to the entitlement it buys.
// Amounts are the only trusted pricing input: plan names arriving from
// clients or webhook metadata are advisory and never consulted for pricing.
var amountTable = map[int64]types.Entitlement{
	399: {
		Plan:        types.PlanBasic,
		LetterQuota: 20,
		Duration:    7 * 24 * time.Hour,
	},
	999: {
		Plan:        types.PlanPremium,
		LetterQuota: 40,
		Duration:    14 * 24 * time.Hour,
	},
}

// planToAmount is the inverse of amountTable, built once at init.
var planToAmount = func() map[types.PlanTier]int64 {
	m := make(map[types.PlanTier]int64, len(amountTable))
	for amount, ent := range amountTable {
		m[ent.Plan] = amount
	}
	return m
}()

// ResolveAmount returns the entitlement purchased by the given amount.
// An unrecognized amount is a pricing anomaly: the caller must reject the
// payment event rather than default to any plan, so a charge can never grant
// an entitlement nobody priced.
func ResolveAmount(amountCents int64) (types.Entitlement, error) {
	ent, ok := amountTable[amountCents]
	if !ok {
		return types.Entitlement{}, types.NewAppErrorWithDetails(
			types.ErrCodeReconcileUnknownAmount,
			fmt.Sprintf("no plan is priced at %d cents", amountCents),
			nil,
			map[string]any{"amount_cents": amountCents},
		)
	}
	return ent, nil
}

// AmountForPlan returns the charge amount in cents for a paid tier.
// Returns false for the free tier and unknown tiers.
func AmountForPlan(plan types.PlanTier) (int64, bool) {
	amount, ok := planToAmount[plan]
	return amount, ok
}

// EntitlementForPlan returns the entitlement for a tier without requiring a
// payment amount. Used at registration (free) and by resync display logic.
func EntitlementForPlan(plan types.PlanTier) (types.Entitlement, bool) {
	if plan == types.PlanFree {
		return FreeEntitlement(), true
	}
	amount, ok := planToAmount[plan]
	if !ok {
		return types.Entitlement{}, false
	}
	return amountTable[amount], true
}

// FreeEntitlement is what every new account starts with.
func FreeEntitlement() types.Entitlement {
	return types.Entitlement{
		Plan:        types.PlanFree,
		LetterQuota: FreeLetterQuota,
	}
}
