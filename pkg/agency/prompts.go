package agency

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

const (
	systemPersona = "You are the persona described below. React authentically to the product/brand " +
		"as if you were this person. Express your genuine thoughts, concerns, interests, " +
		"and buying motivations. Keep your reaction concise but insightful (2-3 sentences)."

	systemSupervisor = "You are Creative-Agency-Supervisor, master planner. You receive JSON: {branding, marketing, product, online}. " +
		"Analyse consensus and conflict. Produce a markdown report with: ➊ Executive summary (≤120 words) ➋ Persona-wise SWOT " +
		"➌ Unified GTM & pricing tweaks ➍ Next-step action items."

	systemBranding = "You are BrandingExpert. Evaluate brand positioning, logo aesthetics, colour, tone-of-voice versus persona psychology. " +
		"Suggest improvements (≤5). Return JSON {branding_advice:list}."

	systemMarketing = "You are MarketingStrategist. Propose distribution channels, launch campaigns, bundle offers and price-points tailored to persona. " +
		"Output JSON {marketing_plan:list, pricing_tips:list}."

	systemProduct = "You are ProductManager. Match product features to persona pain-points. Highlight gaps and quick-win enhancements. " +
		"Return JSON {feature_gaps:list, quick_wins:list}."

	systemTrends = "You are TrendScout. Use WebSearchTool to fetch recent (<90 days) viral formats, hashtags, competitor moves. " +
		"Summarise in bullet list JSON {trends:list}."
)

const (
	brandingBrief = "As a senior brand strategist from McKinsey & Company with an MBA from Harvard Business School, " +
		"analyze the brand positioning, visual identity, and tone-of-voice alignment with these personas. " +
		"Provide strategic insights that would be expected from a top-tier consulting firm."

	marketingBrief = "As a senior marketing strategist from Google with an MBA from Wharton School of Business, " +
		"analyze the go-to-market strategy, distribution channels, and pricing model. " +
		"Provide strategic insights that would be expected from a top-tier tech company's marketing team."

	productBrief = "As a senior product manager from Apple with an MBA from Stanford Graduate School of Business, " +
		"analyze feature alignment with persona needs and identify gaps and quick wins. " +
		"Provide strategic insights that would be expected from a top-tier tech company's product team."
)

const supervisorTemplate = `Based on the following agent analyses, create a comprehensive markdown report:

BRANDING ANALYSIS:
%s

MARKETING ANALYSIS:
%s

PRODUCT ANALYSIS:
%s

TRENDS ANALYSIS:
%s

PERSONA REACTIONS:
%s

PRODUCT CONTEXT:
%s

Create a report with:
1. Executive Summary (≤120 words)
2. Persona-wise SWOT Analysis
3. Unified Go-to-Market & Pricing Strategy
4. Next-step Action Items (prioritized)

Format as clean markdown with clear sections and bullet points.`

func reactionPrompt(persona, product string) string {
	return fmt.Sprintf("I am: %s\n\nAbout this product/brand: %s\n\nMy reaction:", persona, product)
}

func bulletList(items []string) string {
	return strings.Join(lo.Map(items, func(s string, _ int) string { return "- " + s }), "\n")
}

// rolePrompt is the user message shared by the branding, marketing and product roles.
func rolePrompt(product string, reactions []string, brief string) string {
	return fmt.Sprintf("Product/Brand: %s\n\nPersona Reactions:\n%s\n\n%s", product, bulletList(reactions), brief)
}

func trendsPrompt(product string, trends []string) string {
	return fmt.Sprintf("Product/Brand: %s\n\nRecent Trends Found:\n%s\n\nAnalyze how these trends relate to the product and personas.",
		product, bulletList(trends))
}
