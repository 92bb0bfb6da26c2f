package ragengine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/embedding"
	"github.com/bbiangul/ragcore/query"
	"github.com/bbiangul/ragcore/reranker"
	"github.com/bbiangul/ragcore/textindex"
	"github.com/bbiangul/ragcore/vectorstore"
)

// Search holds the read-side dependencies SearchComprehensive needs. It is
// the read-side half of the engine; like Ingest it takes no lock.
type Search struct {
	store    *vectorstore.Store
	index    *textindex.Index
	embedder *embedding.Model
	rerank   reranker.Reranker
	cfg      ragcore.RAGConfig
}

// NewSearch wires the search half of the engine. rerank may be nil, in
// which case step 8 of the pipeline is skipped.
func NewSearch(store *vectorstore.Store, index *textindex.Index, embedder *embedding.Model, rerank reranker.Reranker, cfg ragcore.RAGConfig) *Search {
	return &Search{store: store, index: index, embedder: embedder, rerank: rerank, cfg: cfg}
}

// SearchComprehensive runs the 11-step pipeline (spec.md §4.7): decompose,
// dual retrieve, score-aware RRF fuse, hydrate, threshold, Jaccard dedup,
// rerank, MMR diversify, truncate, neighbor expansion.
func (s *Search) SearchComprehensive(ctx context.Context, q string, k int, spaceID string) ([]ComprehensiveResult, error) {
	if subQueries, ok := query.Decompose(q); ok {
		return s.searchDecomposed(ctx, subQueries, k, spaceID)
	}
	return s.searchSingle(ctx, q, k, spaceID)
}

// searchDecomposed runs each sub-query through the non-decomposed path and
// round-robin merges them (step 1: "skip step 2" means each sub-query
// itself runs the remaining 10 steps independently, then results merge).
func (s *Search) searchDecomposed(ctx context.Context, subQueries []string, k int, spaceID string) ([]ComprehensiveResult, error) {
	resultSets := make([][]ComprehensiveResult, 0, len(subQueries))
	for _, sq := range subQueries {
		rs, err := s.searchSingle(ctx, sq, k, spaceID)
		if err != nil {
			slog.Warn("ragengine: sub-query search failed, skipping", "query", sq, "error", err)
			continue
		}
		resultSets = append(resultSets, rs)
	}
	merged := query.Merge(resultSets)
	if k > 0 && k < len(merged) {
		merged = merged[:k]
	}
	return merged, nil
}

func (s *Search) searchSingle(ctx context.Context, q string, k int, spaceID string) ([]ComprehensiveResult, error) {
	candidateCount := k * s.cfg.CandidateMultiplier
	if candidateCount < k {
		candidateCount = k
	}

	vecHits, textHits, err := s.dualRetrieve(ctx, q, candidateCount, spaceID)
	if err != nil {
		return nil, err
	}
	if len(vecHits) == 0 && len(textHits) == 0 {
		return nil, nil
	}

	fused := fuseScoreAwareRRF(vecHits, textHits, s.cfg.RRFK, s.cfg.ScoreWeight)

	hydrated, err := s.hydrate(ctx, fused, vecHits)
	if err != nil {
		slog.Warn("ragengine: hydrate step failed, continuing with unhydrated text", "error", err)
	}

	thresholded := applyMinScore(hydrated, s.cfg.MinScoreThreshold)
	deduped := jaccardDedup(thresholded, s.cfg.DedupJaccard)

	reranked := s.applyRerank(ctx, q, deduped)

	diversified := mmrDiversify(reranked, s.cfg.MMRLambda)
	if !sort.SliceIsSorted(diversified, func(i, j int) bool { return diversified[i].score > diversified[j].score }) {
		sort.SliceStable(diversified, func(i, j int) bool { return diversified[i].score > diversified[j].score })
	}

	if k > 0 && len(diversified) > k {
		diversified = diversified[:k]
	}

	return s.expandNeighbors(ctx, diversified)
}

// dualRetrieve fans out the vector and lexical legs concurrently via
// errgroup, replacing the teacher's raw 3-way channel fan-out since this
// architecture has no graph leg.
func (s *Search) dualRetrieve(ctx context.Context, q string, candidateCount int, spaceID string) ([]vectorstore.ScoredChunk, []textindex.Result, error) {
	var vecHits []vectorstore.ScoredChunk
	var textHits []textindex.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embeddings, err := s.embedder.Embed(gctx, []string{q})
		if err != nil {
			return nil //nolint: embedding failure degrades to lexical-only, not a hard error
		}
		if len(embeddings) == 0 {
			return nil
		}
		hits, err := s.store.VectorSearch(gctx, embeddings[0], candidateCount, spaceID)
		if err != nil {
			slog.Warn("ragengine: vector search failed, continuing lexical-only", "error", err)
			return nil
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.index.Search(gctx, q, candidateCount, spaceID)
		if err != nil {
			slog.Warn("ragengine: text search failed, continuing vector-only", "error", err)
			return nil
		}
		textHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecHits, textHits, nil
}

type fused struct {
	chunkID string
	score   float64
	origin  ResultOrigin
	vec     *vectorstore.ScoredChunk
	text    *textindex.Result
	vrank   int
	lrank   int
}

// fuseScoreAwareRRF implements spec.md §4.7 step 4 exactly:
// RRF(i) = score_weight*(v_score_i+bm25_score_i) + (1-score_weight)*(1/(rrf_k+vr_i) + 1/(rrf_k+lr_i))
// with absent ranks defaulting to +Inf (contributing 0).
func fuseScoreAwareRRF(vecHits []vectorstore.ScoredChunk, textHits []textindex.Result, rrfK int, scoreWeight float64) []fused {
	vecRank := make(map[string]int, len(vecHits))
	vecByID := make(map[string]vectorstore.ScoredChunk, len(vecHits))
	for i, h := range vecHits {
		vecRank[h.ChunkID] = i + 1
		vecByID[h.ChunkID] = h
	}
	textRank := make(map[string]int, len(textHits))
	textByID := make(map[string]textindex.Result, len(textHits))
	for i, h := range textHits {
		textRank[h.ChunkID] = i + 1
		textByID[h.ChunkID] = h
	}

	ids := make(map[string]bool, len(vecHits)+len(textHits))
	for id := range vecByID {
		ids[id] = true
	}
	for id := range textByID {
		ids[id] = true
	}

	out := make([]fused, 0, len(ids))
	for id := range ids {
		vc, hasVec := vecByID[id]
		tc, hasText := textByID[id]

		vScore, lScore := 0.0, 0.0
		rrfTerm := 0.0
		if hasVec {
			vScore = vc.Score
			rrfTerm += 1.0 / float64(rrfK+vecRank[id])
		}
		if hasText {
			lScore = tc.Score
			rrfTerm += 1.0 / float64(rrfK+textRank[id])
		}

		score := scoreWeight*(vScore+lScore) + (1-scoreWeight)*rrfTerm

		origin := OriginBoth
		if hasVec && !hasText {
			origin = OriginVector
		} else if hasText && !hasVec {
			origin = OriginTextSearch
		}

		f := fused{chunkID: id, score: score, origin: origin, vrank: vecRank[id], lrank: textRank[id]}
		if hasVec {
			vcCopy := vc
			f.vec = &vcCopy
		}
		if hasText {
			tcCopy := tc
			f.text = &tcCopy
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// hydrate fetches full chunk rows for text-only winners not already present
// from the vector leg (step 5).
func (s *Search) hydrate(ctx context.Context, fusedHits []fused, vecHits []vectorstore.ScoredChunk) ([]ComprehensiveResult, error) {
	var missingIDs []string
	for _, f := range fusedHits {
		if f.vec == nil {
			missingIDs = append(missingIDs, f.chunkID)
		}
	}

	var hydratedChunks []vectorstore.Chunk
	if len(missingIDs) > 0 {
		var err error
		hydratedChunks, err = s.store.GetByIDs(ctx, missingIDs)
		if err != nil {
			return fallbackResults(fusedHits), err
		}
	}
	byID := make(map[string]vectorstore.Chunk, len(hydratedChunks))
	for _, c := range hydratedChunks {
		byID[c.ChunkID] = c
	}

	out := make([]ComprehensiveResult, 0, len(fusedHits))
	for _, f := range fusedHits {
		r := ComprehensiveResult{ChunkID: f.chunkID, Score: f.score, Origin: f.origin}
		switch {
		case f.vec != nil:
			r.DocID = f.vec.DocID
			r.Title = f.vec.Title
			r.Source = f.vec.Source
			r.Heading = f.vec.Heading
			r.Snippet = f.vec.Text
		case byID[f.chunkID].ChunkID != "":
			c := byID[f.chunkID]
			r.DocID = c.DocID
			r.Title = c.Title
			r.Source = c.Source
			r.Heading = c.Heading
			r.Snippet = c.Text
		case f.text != nil:
			r.DocID = f.text.DocID
			r.Heading = f.text.Heading
			r.Snippet = f.text.Text
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func fallbackResults(fusedHits []fused) []ComprehensiveResult {
	out := make([]ComprehensiveResult, 0, len(fusedHits))
	for _, f := range fusedHits {
		if f.vec == nil {
			continue
		}
		out = append(out, ComprehensiveResult{
			ChunkID: f.chunkID, Score: f.score, Origin: f.origin,
			DocID: f.vec.DocID, Title: f.vec.Title, Source: f.vec.Source,
			Heading: f.vec.Heading, Snippet: f.vec.Text,
		})
	}
	return out
}

// applyMinScore drops results below threshold (step 6).
func applyMinScore(results []ComprehensiveResult, minScore float64) []ComprehensiveResult {
	out := results[:0:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// jaccardDedup removes a result whose word-set overlaps an earlier kept
// result by >= threshold (step 7), satisfying I8.
func jaccardDedup(results []ComprehensiveResult, threshold float64) []ComprehensiveResult {
	var kept []ComprehensiveResult
	var keptSets []map[string]bool

	for _, r := range results {
		set := wordSet(r.Snippet)
		dup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
			keptSets = append(keptSets, set)
		}
	}
	return kept
}

func wordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// applyRerank runs step 8: rerank with the configured Reranker, keeping
// the original fused score for any candidate the reranker couldn't score,
// and re-sorting. A nil reranker or a reranker error leaves order alone.
func (s *Search) applyRerank(ctx context.Context, q string, results []ComprehensiveResult) []ComprehensiveResult {
	if s.rerank == nil || len(results) == 0 {
		return results
	}

	candidates := make([]reranker.Candidate, len(results))
	for i, r := range results {
		candidates[i] = reranker.Candidate{ChunkID: r.ChunkID, Text: r.Snippet, Score: r.Score}
	}

	scored, err := s.rerank.Rerank(ctx, q, candidates, len(candidates))
	if err != nil {
		slog.Warn("ragengine: rerank failed, keeping fused order", "error", err)
		return results
	}

	scoreByID := make(map[string]float64, len(scored))
	for _, sc := range scored {
		scoreByID[sc.ChunkID] = sc.Score
	}

	out := make([]ComprehensiveResult, len(results))
	copy(out, results)
	for i, r := range out {
		if newScore, ok := scoreByID[r.ChunkID]; ok {
			out[i].Score = newScore
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// mmrDiversify applies step 9: score *= lambda^(docs already seen),
// re-sorting after each application so later duplicates of an
// already-surfaced document are progressively suppressed. The output is
// in non-increasing score order; results with equal scores stay tied.
func mmrDiversify(results []ComprehensiveResult, lambda float64) []ComprehensiveResult {
	seen := make(map[string]int)
	out := make([]ComprehensiveResult, len(results))
	copy(out, results)

	for i := range out {
		penalty := math.Pow(lambda, float64(seen[out[i].DocID]))
		out[i].Score *= penalty
		seen[out[i].DocID]++

		for j := i; j > 0 && out[j-1].Score < out[j].Score; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// expandNeighbors implements step 11: fetch +-window chunks in-document
// and concatenate them in reading order into Snippet, leaving Score and
// Origin untouched.
func (s *Search) expandNeighbors(ctx context.Context, results []ComprehensiveResult) ([]ComprehensiveResult, error) {
	if s.cfg.NeighborWindow <= 0 {
		return results, nil
	}

	out := make([]ComprehensiveResult, len(results))
	copy(out, results)

	for i, r := range out {
		chunkIdx, err := s.chunkIndexOf(ctx, r.ChunkID)
		if err != nil {
			continue
		}
		neighbors, err := s.store.GetNeighbors(ctx, r.DocID, chunkIdx, s.cfg.NeighborWindow)
		if err != nil {
			slog.Warn("ragengine: neighbor expansion failed, keeping original snippet", "chunk_id", r.ChunkID, "error", err)
			continue
		}
		out[i].Snippet = concatReadingOrder(neighbors, r.ChunkID, r.Snippet)
	}
	return out, nil
}

func (s *Search) chunkIndexOf(ctx context.Context, chunkID string) (uint32, error) {
	chunks, err := s.store.GetByIDs(ctx, []string{chunkID})
	if err != nil || len(chunks) == 0 {
		return 0, fmt.Errorf("chunk %s not found", chunkID)
	}
	return chunks[0].ChunkIndex, nil
}

func concatReadingOrder(neighbors []vectorstore.Chunk, centerID, centerSnippet string) string {
	if len(neighbors) == 0 {
		return centerSnippet
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].ChunkIndex < neighbors[j].ChunkIndex })

	var b strings.Builder
	for i, n := range neighbors {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if n.ChunkID == centerID {
			b.WriteString(centerSnippet)
		} else {
			b.WriteString(n.Text)
		}
	}
	return b.String()
}
