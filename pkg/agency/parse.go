package agency

import (
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// RoleOutput is the JSON object a role answers with.
type RoleOutput map[string]any

// parseObject reads a JSON object out of a model reply. The reply may wrap it in a markdown
// code fence or surround it with prose.
func parseObject(text string) (RoleOutput, bool) {
	text = strings.TrimSpace(text)
	candidates := []string{text, unfence(text)}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	for _, c := range candidates {
		if !gjson.Valid(c) {
			continue
		}
		if obj, ok := gjson.Parse(c).Value().(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}

func unfence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func nonEmptyLines(text string) []string {
	return lo.Compact(lo.Map(strings.Split(text, "\n"), func(l string, _ int) string {
		return strings.TrimSpace(l)
	}))
}

// splitLines puts the first half of the reply's lines under firstKey and the rest under
// secondKey, or the given defaults when the reply is empty.
func splitLines(text, firstKey, firstDefault, secondKey, secondDefault string) RoleOutput {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return RoleOutput{firstKey: []string{firstDefault}, secondKey: []string{secondDefault}}
	}
	half := len(lines) / 2
	return RoleOutput{firstKey: lines[:half], secondKey: lines[half:]}
}

func brandingFallback(text string, _ *State) RoleOutput {
	lines := lo.Filter(nonEmptyLines(text), func(l string, _ int) bool { return !strings.HasPrefix(l, "{") })
	return RoleOutput{"branding_advice": lo.Slice(lines, 0, 5)}
}

func marketingFallback(text string, _ *State) RoleOutput {
	return splitLines(text, "marketing_plan", "No marketing plan generated", "pricing_tips", "No pricing tips generated")
}

func productFallback(text string, _ *State) RoleOutput {
	return splitLines(text, "feature_gaps", "No feature gaps identified", "quick_wins", "No quick wins identified")
}

func trendsFallback(_ string, s *State) RoleOutput {
	if len(s.Trends) == 0 {
		return RoleOutput{"trends": []string{"No recent trends found"}}
	}
	return RoleOutput{"trends": s.Trends}
}

func brandingPlaceholder(err error) RoleOutput {
	return RoleOutput{"branding_advice": []string{"Error in branding analysis", err.Error()}}
}

func marketingPlaceholder(err error) RoleOutput {
	return RoleOutput{"marketing_plan": []string{"Error in marketing analysis"}, "pricing_tips": []string{err.Error()}}
}

func productPlaceholder(err error) RoleOutput {
	return RoleOutput{"feature_gaps": []string{"Error in product analysis"}, "quick_wins": []string{err.Error()}}
}

func trendsPlaceholder(err error) RoleOutput {
	return RoleOutput{"trends": []string{"Error in trends analysis", err.Error()}}
}
