package discovery

import (
	"regexp"
	"sort"
	"strings"
)

// conversationalPatterns match queries that need no tools at all:
// greetings, small talk, simple arithmetic, and "explain X" style
// questions the model can answer from its own knowledge.
var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|yo|howdy|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`(?i)^(thanks|thank you|bye|goodbye|see you)\b`),
	regexp.MustCompile(`(?i)^(how are you|what'?s up|who are you)\b`),
	regexp.MustCompile(`^\s*[\d\s+\-*/().^%]+\s*=?\s*\??\s*$`),
	regexp.MustCompile(`(?i)^(what is|what are|explain|define|describe|tell me about)\b`),
}

// domainKeywords override the conversational short-circuit: a query
// mentioning infrastructure or workflow terms gets tools even when it
// is phrased like a simple question.
var domainKeywords = []string{
	"azure", "aws", "gcp", "cloud", "subscription", "resource group",
	"kubernetes", "k8s", "cluster", "deployment", "pod", "container",
	"vm", "virtual machine", "storage account", "database", "server",
	"pipeline", "workflow", "diagram", "repo", "repository", "ticket",
	"issue", "pull request", "incident", "alert", "log", "metric",
}

// essentialCapabilities maps capability tags to the query keywords
// that force-include tools carrying that tag. Live-information tools
// are the main case: their descriptions rarely match queries like
// "what happened today" lexically.
var essentialCapabilities = map[string][]string{
	"web_fetch": {
		"latest", "current", "today", "now", "recent", "news",
		"weather", "price", "stock", "score", "live",
	},
	"web_search": {
		"search", "find", "look up", "lookup", "google",
	},
}

// isConversational reports whether the query looks like small talk or
// a pure-knowledge question with no tool relevance.
func isConversational(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return true
	}
	for _, p := range conversationalPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// hasDomainKeyword reports whether the query mentions a term that
// always warrants tool planning.
func hasDomainKeyword(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range domainKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// essentialTags returns the capability tags the query triggers, in a
// stable order so backfill never reorders between runs.
func essentialTags(query string) []string {
	q := strings.ToLower(query)
	var tags []string
	for tag, keywords := range essentialCapabilities {
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}
