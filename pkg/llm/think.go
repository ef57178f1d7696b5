package llm

import (
	"strings"

	"github.com/samber/lo"
)

const (
	thinkStart = "<think>"
	thinkEnd   = "</think>"
)

// thinkingModels emit their reasoning inside <think>...</think> before the answer.
var thinkingModels = []string{"deepseek-r1"}

func IsThinkingModel(model string) bool {
	model = strings.ToLower(model)
	return lo.ContainsBy(thinkingModels, func(m string) bool {
		return strings.Contains(model, m)
	})
}

// ExtractFinalResponse drops the reasoning sections of a thinking model's reply and returns the
// text after the last </think>. When nothing follows it, the reasoning itself is returned with
// the tags removed. Replies of other models, and replies without a closing tag, are only trimmed.
func ExtractFinalResponse(content, model string) string {
	if !IsThinkingModel(model) || !strings.Contains(content, thinkEnd) {
		return strings.TrimSpace(content)
	}
	sections := strings.Split(content, thinkEnd)
	if final := strings.TrimSpace(sections[len(sections)-1]); final != "" {
		return final
	}
	stripped := strings.NewReplacer(thinkStart, "", thinkEnd, "").Replace(content)
	return strings.TrimSpace(stripped)
}
