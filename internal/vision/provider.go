package vision

import "context"

// Provider defines the remote analysis calls the agent depends on.
// Implementations are pure call boundaries: they never retry on their
// own, and every failure is terminal for the current cycle.
type Provider interface {
	// CountInventory maps a shelf image plus the calibrated reference
	// set to per-item counts. Returned ids not present in the reference
	// set are dropped before the result is handed back.
	CountInventory(ctx context.Context, shelf []byte, refs []Reference) ([]CountedItem, error)

	// DecideAction proposes either a purchase order or a promotion for
	// the given stock levels. The response shape is raw and untrusted;
	// callers validate it into a Decision.
	DecideAction(ctx context.Context, stock []StockLevel) (ActionResponse, error)

	// GenerateImage renders a promotional hero image from a prompt.
	// The prompt must be non-empty; callers check before invoking.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)

	// ClassifyIntent reports whether a free-text operator command asks
	// to add the standard item list to the purchase order.
	ClassifyIntent(ctx context.Context, text string) (bool, error)
}

// Reference is a calibration exemplar sent alongside the shelf image.
type Reference struct {
	ID   string
	Name string
	MIME string
	Data []byte
}

// CountedItem is one entry of a vision count result.
type CountedItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// StockLevel is the current quantity of an item next to its target.
type StockLevel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Target   int    `json:"target"`
}

// RawPromotion is the untrusted promotion payload of an action response.
type RawPromotion struct {
	Reasoning            string  `json:"reasoning"`
	FinancialImpact      float64 `json:"financialImpact"`
	RecommendedPromotion string  `json:"recommendedPromotion"`
	ProductName          string  `json:"productName"`
	PromotionName        string  `json:"promotionName"`
	ImagePrompt          string  `json:"imagePrompt"`
}

// ActionResponse is the untrusted shape returned by DecideAction.
// Order items and the promotion may both be present or both absent;
// normalizing that is the decision engine's job, not the transport's.
type ActionResponse struct {
	Reasoning          string        `json:"reasoning"`
	PurchaseOrderItems []RawOrdered  `json:"purchaseOrderItems"`
	PromotionCampaign  *RawPromotion `json:"promotionCampaign"`
}

// RawOrdered mirrors CountedItem but tolerates a quantity that arrives
// as a numeric string.
type RawOrdered struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity FlexInt `json:"quantity"`
	Unit     string  `json:"unit"`
}
