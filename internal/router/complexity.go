package router

import (
	"regexp"
	"strings"

	"github.com/relayagent/relay/pkg/models"
)

var (
	codeRegex      = regexp.MustCompile("(?i)\\b(func|class|def|package|import|SELECT|INSERT|UPDATE|DELETE)\\b")
	reasonRegex    = regexp.MustCompile("(?i)\\b(analyze|reason|think through|derive|prove|why|tradeoff|compare|evaluate|design)\\b")
	quickRegex     = regexp.MustCompile("(?i)\\b(what is|define|quick|brief|summary)\\b")
	multiStepRegex = regexp.MustCompile("(?i)\\b(then|after that|first|second|finally|step by step)\\b")
	markdownCode   = regexp.MustCompile("```")
)

// Complexity estimates how much reasoning and tool use a request
// needs. Score ranges 0-10.
type Complexity struct {
	Score             float64
	RequiresReasoning bool
	RequiresTools     bool
}

// Analyze scores the latest user message against the discovered tools.
func Analyze(messages []models.Message, tools []models.ToolDescriptor) Complexity {
	content := strings.TrimSpace(lastUserContent(messages))
	if content == "" {
		return Complexity{}
	}
	lower := strings.ToLower(content)

	var c Complexity
	score := 1.0

	if len(lower) > 200 {
		score += 1
	}
	if len(lower) > 600 {
		score += 1
	}
	if markdownCode.MatchString(content) || codeRegex.MatchString(content) {
		score += 2
	}
	if reasonRegex.MatchString(lower) {
		score += 2
		c.RequiresReasoning = true
	}
	if multiStepRegex.MatchString(lower) {
		score += 1.5
		c.RequiresReasoning = true
	}
	if len(tools) > 0 {
		score += 1
		c.RequiresTools = true
	}
	if len(tools) > 5 {
		score += 1
	}
	if quickRegex.MatchString(lower) && len(lower) < 80 {
		score -= 2
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	c.Score = score
	return c
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
