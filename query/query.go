// Package query analyzes, rewrites, decomposes, and merges search queries
// before they reach ragengine.SearchComprehensive. It is the one place
// conversational shorthand ("what about her salary?") gets turned into
// something a vector/lexical search can actually answer.
package query

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Message is one turn of conversation, enough for coreference resolution.
type Message struct {
	Role    string
	Content string
}

// ConversationContext carries what the rewriter needs to resolve pronouns,
// demonstratives, and bare commands against prior turns.
type ConversationContext struct {
	Topic             string
	RecentMessages    []Message
	ConceptsMentioned []string
	FilesDiscussed    []string
	Entities          []string
}

// Intent is the analyzer's taxonomy (spec.md §4.8).
type Intent string

const (
	IntentGreeting             Intent = "Greeting"
	IntentSimpleAcknowledgment Intent = "SimpleAcknowledgment"
	IntentMetaQuestion         Intent = "MetaQuestion"
	IntentClarification        Intent = "Clarification"
	IntentCreativeGeneration   Intent = "CreativeGeneration"
	IntentExampleCreation      Intent = "ExampleCreation"
	IntentDocumentQuery        Intent = "DocumentQuery"
	IntentCodeAnalysis         Intent = "CodeAnalysis"
	IntentSystemQuery          Intent = "SystemQuery"
	IntentSimpleQuestion       Intent = "SimpleQuestion"
)

// Decision is the analyzer's go/no-go verdict plus routing detail.
type Decision struct {
	ShouldRetrieve bool
	Reason         string
	Intent         Intent
	RewrittenQuery string
	SearchQueries  []string
	Reasoning      string
	RouterTokens   int
}

// Chat is the narrow LLM surface the Analyzer needs for its router fast
// path — a local interface rather than an llmprovider import, the same
// seam embedding.Provider and reranker.Chat use.
type Chat interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// routerResponse is the structured shape the LLM router call returns.
type routerResponse struct {
	Intent         string   `json:"intent"`
	RewrittenQuery string   `json:"rewritten_query"`
	SearchQueries  []string `json:"search_queries"`
	Reasoning      string   `json:"reasoning"`
	TokenUsage     int      `json:"token_usage"`
}

// Analyzer decides whether a query warrants retrieval and, when it does,
// classifies its intent — via an LLM router call when available, falling
// back to rules on error, mirroring retrieval.Translator's try-then-degrade
// shape.
type Analyzer struct {
	chat Chat
}

// NewAnalyzer returns an Analyzer. chat may be nil, in which case every
// call uses the rule-based path.
func NewAnalyzer(chat Chat) *Analyzer {
	return &Analyzer{chat: chat}
}

var metaQuestionPatterns = []string{
	"who are you", "what are you", "what can you do", "how do you work",
	"are you an ai", "are you a bot",
}

// Analyze runs the go/no-go check and, for retrievable queries, the LLM
// router with rule fallback.
func (a *Analyzer) Analyze(ctx context.Context, q string, convCtx ConversationContext) Decision {
	trimmed := strings.TrimSpace(q)
	words := strings.Fields(trimmed)

	if len(words) <= 2 && isGreeting(trimmed) {
		return Decision{ShouldRetrieve: false, Reason: "greeting", Intent: IntentGreeting}
	}
	if len(words) <= 6 && containsAny(strings.ToLower(trimmed), metaQuestionPatterns) {
		return Decision{ShouldRetrieve: false, Reason: "meta question about the assistant", Intent: IntentMetaQuestion}
	}

	if a.chat != nil {
		if d, ok := a.routerAnalyze(ctx, trimmed, convCtx); ok {
			return d
		}
	}
	return a.ruleAnalyze(trimmed, convCtx)
}

func (a *Analyzer) routerAnalyze(ctx context.Context, q string, convCtx ConversationContext) (Decision, bool) {
	var hist strings.Builder
	for _, m := range lastN(convCtx.RecentMessages, 4) {
		hist.WriteString(m.Role)
		hist.WriteString(": ")
		hist.WriteString(m.Content)
		hist.WriteString("\n")
	}

	prompt := "Conversation so far:\n" + hist.String() + "\nUser query: " + q + "\n\n" +
		`Classify the query and return ONLY JSON: {"intent": one of Greeting|SimpleAcknowledgment|MetaQuestion|Clarification|CreativeGeneration|ExampleCreation|DocumentQuery|CodeAnalysis|SystemQuery|SimpleQuestion, "rewritten_query": the query with pronouns/ellipsis resolved, "search_queries": up to 3 search variants, "reasoning": one sentence, "token_usage": 0}`

	resp, err := a.chat.Chat(ctx, "You are a query routing assistant. Respond with JSON only, no markdown fences.", prompt)
	if err != nil {
		return Decision{}, false
	}

	content := strings.TrimSpace(resp)
	if idx := strings.Index(content, "{"); idx >= 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "}"); idx >= 0 {
		content = content[:idx+1]
	}

	var rr routerResponse
	if err := json.Unmarshal([]byte(content), &rr); err != nil || rr.Intent == "" {
		return Decision{}, false
	}

	return Decision{
		ShouldRetrieve: isRetrievableIntent(Intent(rr.Intent)),
		Intent:         Intent(rr.Intent),
		RewrittenQuery: rr.RewrittenQuery,
		SearchQueries:  rr.SearchQueries,
		Reasoning:      rr.Reasoning,
		RouterTokens:   rr.TokenUsage,
	}, true
}

func (a *Analyzer) ruleAnalyze(q string, convCtx ConversationContext) Decision {
	rewriter := NewRewriter()
	rewritten := rewriter.Rewrite(q, convCtx)

	intent := classifyRule(rewritten)
	variants := Expand(rewritten, 3)

	return Decision{
		ShouldRetrieve: isRetrievableIntent(intent),
		Intent:         intent,
		RewrittenQuery: rewritten,
		SearchQueries:  variants,
		Reasoning:      "rule-based fallback (router unavailable or errored)",
	}
}

func isRetrievableIntent(i Intent) bool {
	switch i {
	case IntentGreeting, IntentSimpleAcknowledgment, IntentMetaQuestion:
		return false
	default:
		return true
	}
}

var codeKeywords = []string{"function", "code", "bug", "compile", "class", "variable", "syntax", "refactor", "stack trace", "exception"}
var systemKeywords = []string{"config", "settings", "api key", "provider", "model path", "restart", "index size", "statistics"}

func classifyRule(q string) Intent {
	lower := strings.ToLower(q)
	switch {
	case containsAny(lower, []string{"write a", "generate a poem", "compose", "brainstorm"}):
		return IntentCreativeGeneration
	case containsAny(lower, []string{"give an example", "show me an example", "sample of"}):
		return IntentExampleCreation
	case containsAny(lower, codeKeywords):
		return IntentCodeAnalysis
	case containsAny(lower, systemKeywords):
		return IntentSystemQuery
	case containsAny(lower, []string{"what do you mean", "clarify", "i don't understand"}):
		return IntentClarification
	case len(strings.Fields(q)) <= 3:
		return IntentSimpleQuestion
	default:
		return IntentDocumentQuery
	}
}

func isGreeting(s string) bool {
	lower := strings.ToLower(strings.Trim(s, ".!? "))
	switch lower {
	case "hi", "hello", "hey", "hiya", "yo", "thanks", "thank you", "ok", "okay", "cool", "great":
		return true
	}
	return false
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lastN(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// --- Rewriter ---

// Rewriter resolves pronouns, demonstratives, ellipsis, and bare commands
// against ConversationContext, in the regex-rule-pass style of
// reasoning/validator.go.
type Rewriter struct{}

// NewRewriter returns a Rewriter.
func NewRewriter() *Rewriter { return &Rewriter{} }

var genderedPronounPattern = regexp.MustCompile(`(?i)\b(her|his|their|she|he|they)\b`)
var demonstrativePattern = regexp.MustCompile(`(?i)\b(it|this|that)\b`)
var bareCommandPattern = regexp.MustCompile(`(?i)^(search online|google|look it up|search for it)\b`)
var ellipsisPattern = regexp.MustCompile(`(?i)^(and\s+|what about\s+|tell me more\b)`)

// Rewrite resolves the query against convCtx, returning a self-contained
// string suitable for retrieval.
func (Rewriter) Rewrite(q string, convCtx ConversationContext) string {
	trimmed := strings.TrimSpace(q)
	entity := primaryEntity(convCtx)
	file := primaryFile(convCtx)

	if bareCommandPattern.MatchString(trimmed) {
		if prev := lastUserQuery(convCtx); prev != "" {
			return trimmed + " " + prev
		}
		return trimmed
	}

	if genderedPronounPattern.MatchString(trimmed) && entity != "" {
		return genderedPronounPattern.ReplaceAllString(trimmed, entity)
	}

	if demonstrativePattern.MatchString(trimmed) {
		referent := file
		if referent == "" {
			referent = entity
		}
		if referent != "" {
			return demonstrativePattern.ReplaceAllString(trimmed, referent)
		}
	}

	if ellipsisPattern.MatchString(trimmed) {
		topic := entity
		if topic == "" {
			topic = convCtx.Topic
		}
		if topic != "" {
			return topic + ": " + trimmed
		}
	}

	if len(strings.Fields(trimmed)) <= 2 {
		if entity != "" {
			return entity + " " + trimmed
		}
		if len(convCtx.ConceptsMentioned) > 0 {
			return trimmed + " " + strings.Join(top(convCtx.ConceptsMentioned, 3), " ")
		}
	}

	return trimmed
}

func primaryEntity(c ConversationContext) string {
	if len(c.Entities) > 0 {
		return c.Entities[len(c.Entities)-1]
	}
	return ""
}

func primaryFile(c ConversationContext) string {
	if len(c.FilesDiscussed) > 0 {
		return c.FilesDiscussed[len(c.FilesDiscussed)-1]
	}
	return ""
}

func lastUserQuery(c ConversationContext) string {
	for i := len(c.RecentMessages) - 1; i >= 0; i-- {
		if c.RecentMessages[i].Role == "user" {
			return c.RecentMessages[i].Content
		}
	}
	return ""
}

func top(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[:n]
}

// Expand returns up to maxVariants query forms: the original and, when it
// differs, a stopword-stripped keyword-only form. No synonym- or
// entity-prepended form is produced, so at most two variants come back.
func Expand(q string, maxVariants int) []string {
	variants := []string{q}
	if maxVariants <= 1 {
		return variants
	}

	if kw := keywordOnly(q); kw != "" && kw != q {
		variants = append(variants, kw)
	}
	if maxVariants <= len(variants) {
		return variants[:maxVariants]
	}
	return variants
}

func keywordOnly(q string) string {
	words := strings.Fields(q)
	var kept []string
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if clean != "" && !stopWords[clean] {
			kept = append(kept, clean)
		}
	}
	return strings.Join(kept, " ")
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "what": true, "which": true,
	"who": true, "whom": true, "where": true, "when": true, "how": true, "why": true,
}

// --- Decomposer ---

var connectorPattern = regexp.MustCompile(`(?i)\s+(and|also|as well as|plus)\s+`)

// Decompose splits q along multi-part connectors or multiple question
// marks, returning the sub-queries only when at least 2 substantive ones
// emerge (spec.md §4.8).
func Decompose(q string) ([]string, bool) {
	var parts []string
	if strings.Count(q, "?") >= 2 {
		for _, p := range strings.Split(q, "?") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s+"?")
			}
		}
	} else if connectorPattern.MatchString(q) {
		parts = connectorPattern.Split(q, -1)
	} else {
		return nil, false
	}

	var substantive []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(strings.Fields(p)) >= 2 {
			substantive = append(substantive, p)
		}
	}
	if len(substantive) < 2 {
		return nil, false
	}
	return substantive, true
}

// --- Merge ---

// Scored is the minimal shape Merge needs from a search result: an ID to
// dedup on and a score to keep the max of.
type Scored interface {
	ID() string
	RelevanceScore() float64
}

// Merge round-robin interleaves result sets, dedups by ID keeping the
// maximum score, then sorts by score descending — generalizing
// goreason.go's mergeResults from "append extras" to "round-robin
// interleave across N variants".
func Merge[T Scored](resultSets [][]T) []T {
	best := make(map[string]T)
	order := make([]string, 0)

	maxLen := 0
	for _, rs := range resultSets {
		if len(rs) > maxLen {
			maxLen = len(rs)
		}
	}

	for i := 0; i < maxLen; i++ {
		for _, rs := range resultSets {
			if i >= len(rs) {
				continue
			}
			r := rs[i]
			id := r.ID()
			if existing, ok := best[id]; !ok {
				best[id] = r
				order = append(order, id)
			} else if r.RelevanceScore() > existing.RelevanceScore() {
				best[id] = r
			}
		}
	}

	out := make([]T, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sortByScoreDesc(out)
	return out
}

func sortByScoreDesc[T Scored](out []T) {
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].RelevanceScore() < out[j].RelevanceScore() {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
}
