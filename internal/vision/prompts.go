package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

func countPrompt(referenceKey string) string {
	return fmt.Sprintf(`You are an advanced inventory counting system. Your task is to perform one-shot visual analysis.

You have been provided with multiple images:
- The first image is the main inventory shelf to be analyzed.
- The subsequent images are reference images for specific items.

**Reference Key:**
%s
**Instructions:**
1. Carefully examine the first image (the inventory shelf).
2. For each reference image provided, locate and count all matching items on the inventory shelf.
3. Return your findings as a JSON object that adheres to the provided schema.
4. The JSON should contain a list of all items specified in the reference key.
5. If an item from the reference key is not visible on the shelf, its quantity must be 0.
6. Ensure your response is ONLY the JSON object, with no extra text, comments, or markdown formatting.`, referenceKey)
}

func decidePrompt(stock []StockLevel) string {
	type entry struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
		Unit     string `json:"unit"`
	}
	current := make([]entry, 0, len(stock))
	var targets strings.Builder
	for _, s := range stock {
		current = append(current, entry{ID: s.ID, Name: s.Name, Quantity: s.Quantity, Unit: s.Unit})
		fmt.Fprintf(&targets, "- %s: %d %s\n", s.Name, s.Target, s.Unit)
	}
	state, _ := json.MarshalIndent(current, "", "  ")

	return fmt.Sprintf(`You are an AI inventory manager for a McDonald's franchise. Your task is to analyze the current inventory and suggest the best course of action.

**Context:**
- Your goal is to maintain a target inventory level for all items, which represents a safe 3-day supply.
- An inventory check was just performed via camera analysis.
- Overstocking leads to spoilage and financial loss.

**Current Inventory State:**
%s

**Target Inventory Levels (3-Day Supply):**
%s
**Instructions:**
1. **Analyze Inventory:** For each item, compare its current quantity to its target inventory level.
2. **Check for Overstocking (Priority 1):**
   - An item is overstocked if it has 2 or more units above its target level.
   - If one or more items are overstocked, identify the single MOST overstocked item: the one with the highest ratio of (current quantity / target quantity).
   - Your response MUST then be a promotion campaign and the purchaseOrderItems field must be empty or absent.
   - Populate the promotionCampaign object fully:
     - reasoning: state the spoilage risk and the potential financial impact of ~480 HKD.
     - recommendedPromotion: suggest a promotion based on the most overstocked item. If Ketchup: "Recommend selling Fries (L) with a 'Buy 1 Get 1 Free' promotion." If 'Thai & Hot Spicy Sauce': "Recommend selling Crispy Chicken Thighs with a 'Buy 1 Get 1 Free' promotion." If Straws: "Recommend selling Drinks like Coca-Cola with a 'Buy 1 Get 1 Free' promotion."
     - productName: the product being promoted (e.g. "Fries (L)").
     - promotionName: the name of the deal itself (e.g. "Buy 1 Get 1 Free").
     - imagePrompt: MANDATORY and non-empty. A detailed English prompt for an image generation model describing an appetizing promotional photo of the recommended product. Do NOT include any text in the prompt. If the promotion is 'Buy 1 Get 1 Free' the prompt MUST describe TWO of the product, otherwise a single hero shot.
3. **Check for Understocking (Priority 2):**
   - Only if no items are overstocked, check for understocking (current below target).
   - Generate a purchase order; the promotionCampaign field must be empty or absent.
   - Order quantity for each understocked item is exactly (target - current), and purchaseOrderItems must only contain items with order quantity > 0.
4. **Optimal Stock (Priority 3):** If stock is neither overstocked nor understocked, state that inventory is optimal in the reasoning and leave both fields empty.
5. **Response Format:** respond with JSON matching the provided schema only.`, state, targets.String())
}

func intentPrompt(text string) string {
	return fmt.Sprintf(`You are an AI that determines user intent from a brief command. The user is managing a restaurant's purchase order. Your task is to analyze the user's request and decide if they want to add a standard list of new items to their order. Requests that mean YES (should return true): "add the standard items", "add new items", "stock up on the usuals", "add beef, chicken, and fries", "we need more inventory". Requests that mean NO (should return false): "remove the straws", "this looks good", "who is the supplier?", "change ketchup quantity to 10". You must respond with ONLY a single JSON object in the format: {"addItems": boolean}.

User Request: %q`, text)
}

func inventorySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"inventory": {
				Type:        genai.TypeArray,
				Description: "A list of all identified inventory items based on the reference images.",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id":       {Type: genai.TypeString, Description: "The unique ID of the item, matching the reference key."},
						"name":     {Type: genai.TypeString},
						"quantity": {Type: genai.TypeInteger, Description: "The counted quantity. Use 0 if not found."},
						"unit":     {Type: genai.TypeString},
					},
					Required: []string{"id", "name", "quantity", "unit"},
				},
			},
		},
		Required: []string{"inventory"},
	}
}

func actionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reasoning": {
				Type:        genai.TypeString,
				Description: "A brief, professional analysis of the inventory levels and the justification for the suggested action.",
			},
			"purchaseOrderItems": {
				Type:        genai.TypeArray,
				Description: "Items to be ordered. Only for understocking; empty if a promotion is suggested.",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id":       {Type: genai.TypeString},
						"name":     {Type: genai.TypeString},
						"quantity": {Type: genai.TypeInteger},
						"unit":     {Type: genai.TypeString},
					},
					Required: []string{"id", "name", "quantity", "unit"},
				},
			},
			"promotionCampaign": {
				Type:        genai.TypeObject,
				Description: "Promotional campaign for overstocked items. Only for overstocking scenarios.",
				Properties: map[string]*genai.Schema{
					"reasoning":            {Type: genai.TypeString},
					"financialImpact":      {Type: genai.TypeNumber, Description: "Estimated financial impact in HKD."},
					"recommendedPromotion": {Type: genai.TypeString},
					"productName":          {Type: genai.TypeString},
					"promotionName":        {Type: genai.TypeString},
					"imagePrompt":          {Type: genai.TypeString, Description: "Mandatory, non-empty prompt for the marketing visual. Must not contain text."},
				},
				Required: []string{"reasoning", "financialImpact", "recommendedPromotion", "productName", "promotionName", "imagePrompt"},
			},
		},
		Required: []string{"reasoning"},
	}
}

func intentSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"addItems": {Type: genai.TypeBoolean, Description: "True if the user wants to add items to the purchase order."},
		},
		Required: []string{"addItems"},
	}
}
