package inventory

import (
	"fmt"
	"strings"

	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/vision"
)

// overstockMargin is how far above target a quantity must be before an
// item counts as overstocked.
const overstockMargin = 2

// Promotion is a validated spoilage-avoidance campaign.
type Promotion struct {
	Reasoning            string
	FinancialImpact      float64
	RecommendedPromotion string
	ProductName          string
	PromotionName        string
	ImagePrompt          string
}

// DecisionKind tags the action a cycle resolved to.
type DecisionKind string

const (
	NoAction  DecisionKind = "none"
	OrderKind DecisionKind = "order"
	PromoKind DecisionKind = "promotion"
)

// Decision is the validated, normalized form of a DecideAction
// response. Exactly one branch is populated: Lines for OrderKind,
// Promotion for PromoKind, neither for NoAction.
type Decision struct {
	Kind      DecisionKind
	Reasoning string
	Lines     []StockItem
	Promotion *Promotion
}

// ContractViolationError marks a remote response that broke its data
// contract in a way that cannot be corrected locally.
type ContractViolationError struct {
	Reason string
}

func (e *ContractViolationError) Error() string {
	return "contract violation: " + e.Reason
}

// ValidateDecision turns the raw remote response into a Decision,
// enforcing the policy the remote call is asked to follow but is never
// trusted with:
//
//  1. A promotion wins: any order lines returned next to one are
//     discarded. An empty imagePrompt on a promotion is a
//     ContractViolationError, never a silent fall-through to image
//     generation.
//  2. With no promotion, lines with quantity <= 0 are filtered out. If
//     the snapshot contains an overstocked item, order lines are
//     discarded entirely: overstock must resolve to a promotion or to
//     nothing, never to a restock.
func ValidateDecision(raw vision.ActionResponse, snap Snapshot, cat *catalog.Catalog) (Decision, error) {
	reasoning := strings.TrimSpace(raw.Reasoning)
	if reasoning == "" {
		reasoning = "Analysis complete."
	}

	if raw.PromotionCampaign != nil {
		p := raw.PromotionCampaign
		if strings.TrimSpace(p.ImagePrompt) == "" {
			return Decision{}, &ContractViolationError{Reason: "promotion campaign has an empty imagePrompt"}
		}
		return Decision{
			Kind:      PromoKind,
			Reasoning: reasoning,
			Promotion: &Promotion{
				Reasoning:            p.Reasoning,
				FinancialImpact:      p.FinancialImpact,
				RecommendedPromotion: p.RecommendedPromotion,
				ProductName:          p.ProductName,
				PromotionName:        p.PromotionName,
				ImagePrompt:          p.ImagePrompt,
			},
		}, nil
	}

	if _, overstocked := MostOverstocked(snap, cat); overstocked {
		// Priority 1 without a campaign: refuse the restock branch.
		return Decision{Kind: NoAction, Reasoning: reasoning}, nil
	}

	var lines []StockItem
	for _, it := range raw.PurchaseOrderItems {
		if it.Quantity.Int() <= 0 {
			continue
		}
		lines = append(lines, StockItem{ID: it.ID, Name: it.Name, Quantity: it.Quantity.Int(), Unit: it.Unit})
	}
	if len(lines) == 0 {
		return Decision{Kind: NoAction, Reasoning: reasoning}, nil
	}
	return Decision{Kind: OrderKind, Reasoning: reasoning, Lines: lines}, nil
}

// MostOverstocked returns the item the promotion must reference: among
// items at target+2 or above, the one with the maximum quantity/target
// ratio. Ties resolve to the first in catalog order.
func MostOverstocked(snap Snapshot, cat *catalog.Catalog) (StockItem, bool) {
	var (
		best      StockItem
		bestRatio float64
		found     bool
	)
	for _, s := range snap {
		it, ok := cat.Get(s.ID)
		if !ok || it.Target <= 0 {
			continue
		}
		if s.Quantity < it.Target+overstockMargin {
			continue
		}
		ratio := float64(s.Quantity) / float64(it.Target)
		if !found || ratio > bestRatio {
			best, bestRatio, found = s, ratio, true
		}
	}
	return best, found
}

// ExpectedOrder computes the restock lines the policy demands for a
// snapshot with no overstocked items: target-quantity for each
// understocked item, in catalog order.
func ExpectedOrder(snap Snapshot, cat *catalog.Catalog) []StockItem {
	var lines []StockItem
	for _, s := range snap {
		it, ok := cat.Get(s.ID)
		if !ok {
			continue
		}
		if s.Quantity < it.Target {
			lines = append(lines, StockItem{ID: s.ID, Name: s.Name, Quantity: it.Target - s.Quantity, Unit: s.Unit})
		}
	}
	return lines
}

// Describe renders a one-line stock summary used in log lines.
func Describe(snap Snapshot) string {
	parts := make([]string, 0, len(snap))
	for _, s := range snap {
		parts = append(parts, fmt.Sprintf("%s=%d", s.ID, s.Quantity))
	}
	return strings.Join(parts, " ")
}
