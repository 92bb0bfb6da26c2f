// Package reranker re-scores a candidate set of chunks against a query,
// either lexically (token overlap, no upstream dependency) or via an LLM
// judge call with a lexical fallback on failure. It sits downstream of
// ragengine's fused RRF pass and upstream of MMR diversification.
package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Candidate is a chunk eligible for reranking, carrying its existing fused
// score so a reranker can fall back to it when a judgment can't be made.
type Candidate struct {
	ChunkID string
	Text    string
	Score   float64
}

// Scored is a reranker's verdict on one candidate.
type Scored struct {
	ChunkID string
	Score   float64
}

// Reranker re-scores candidates against query and returns up to topK of
// them, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error)
}

// Chat is the narrow LLM surface LLMReranker needs — defined locally
// rather than importing llmprovider, mirroring embedding.Provider's
// same choice to keep this package free of the full provider surface.
type Chat interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LexicalReranker scores candidates by token overlap with the query,
// grounded on retrieval.extractSignificantTerms' stopword-filtered term
// extraction. It has no upstream dependency and never errors, which makes
// it the fallback every other Reranker degrades to.
type LexicalReranker struct{}

// NewLexical returns a LexicalReranker.
func NewLexical() *LexicalReranker { return &LexicalReranker{} }

// Rerank scores each candidate by the fraction of query terms it contains;
// how often a term repeats in the candidate does not change its score.
func (LexicalReranker) Rerank(_ context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	queryTerms := significantTerms(query)
	if len(queryTerms) == 0 {
		return truncated(passthrough(candidates), topK), nil
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{ChunkID: c.ChunkID, Score: overlapScore(queryTerms, c.Text)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncated(out, topK), nil
}

// overlapScore counts the query terms present in text (each counted once)
// and normalizes by the number of query terms — a cheap stand-in for BM25
// that rewards coverage over raw repetition.
func overlapScore(queryTerms []string, text string) float64 {
	lower := strings.ToLower(text)
	textTerms := significantTerms(lower)
	counts := make(map[string]int, len(textTerms))
	for _, t := range textTerms {
		counts[t]++
	}

	var hit float64
	for _, qt := range queryTerms {
		if counts[qt] > 0 {
			hit++
		}
	}
	return hit / float64(len(queryTerms))
}

// LLMReranker asks a chat model to score each candidate 0-1 against the
// query in a single batched call, parsing a JSON array of scores back out.
// On any failure — request error, malformed JSON, wrong-length array — it
// degrades to LexicalReranker rather than failing the search.
type LLMReranker struct {
	chat     Chat
	fallback Reranker
}

// NewLLM returns an LLMReranker backed by chat, falling back to a
// LexicalReranker when chat errors or returns something unparseable.
func NewLLM(chat Chat) *LLMReranker {
	return &LLMReranker{chat: chat, fallback: NewLexical()}
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	if r.chat == nil || len(candidates) == 0 {
		return r.fallback.Rerank(ctx, query, candidates, topK)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nRate how relevant each passage is to the query, 0.0 (irrelevant) to 1.0 (directly answers it).\n", query)
	for i, c := range candidates {
		text := c.Text
		if len(text) > 600 {
			text = text[:600]
		}
		fmt.Fprintf(&b, "\n[%d] %s", i, text)
	}
	b.WriteString("\n\nReturn ONLY a JSON array of numbers, one per passage in order, e.g. [0.9, 0.2, 0.6]. No other text.")

	resp, err := r.chat.Chat(ctx, "You are a precise relevance-judging assistant. Respond with JSON only.", b.String())
	if err != nil {
		slog.Warn("reranker: llm call failed, falling back to lexical", "error", err)
		return r.fallback.Rerank(ctx, query, candidates, topK)
	}

	scores, ok := parseScores(resp, len(candidates))
	if !ok {
		slog.Warn("reranker: llm response unparseable, falling back to lexical", "response_len", len(resp))
		return r.fallback.Rerank(ctx, query, candidates, topK)
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{ChunkID: c.ChunkID, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncated(out, topK), nil
}

func parseScores(raw string, want int) ([]float64, bool) {
	content := strings.TrimSpace(raw)
	if idx := strings.Index(content, "["); idx >= 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "]"); idx >= 0 {
		content = content[:idx+1]
	}

	var scores []float64
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		return nil, false
	}
	if len(scores) != want {
		return nil, false
	}
	for _, s := range scores {
		if s < 0 || s > 1 {
			return nil, false
		}
	}
	return scores, true
}

func significantTerms(text string) []string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "", "+", "", "-", "", "^", "", ":", "",
		"?", "", "[", "", "]", "", "{", "", "}", "", "!", "", ".", "", ",", "", ";", "",
	)
	cleaned := replacer.Replace(strings.ToLower(text))
	fields := strings.Fields(cleaned)

	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, w := range fields {
		if len(w) > 2 && !stopWords[w] && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true, "shall": true,
	"can": true, "this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "whom": true, "where": true, "when": true, "how": true,
	"why": true, "not": true, "no": true, "nor": true, "if": true, "then": true,
	"than": true, "so": true, "as": true, "about": true, "into": true, "between": true,
}

func passthrough(candidates []Candidate) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{ChunkID: c.ChunkID, Score: c.Score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func truncated(scores []Scored, topK int) []Scored {
	if topK > 0 && topK < len(scores) {
		return scores[:topK]
	}
	return scores
}
