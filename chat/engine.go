package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/agent"
	"github.com/bbiangul/ragcore/llmprovider"
	"github.com/bbiangul/ragcore/memory"
	"github.com/bbiangul/ragcore/query"
	"github.com/bbiangul/ragcore/ragengine"
	"github.com/bbiangul/ragcore/reranker"
	"github.com/bbiangul/ragcore/toolloop"
)

// QueryLog is the narrow interface handleSearch needs to persist the query
// audit trail (spec.md §4.11). *vectorstore.Store satisfies this; passing
// nil disables logging entirely.
type QueryLog interface {
	LogQuery(ctx context.Context, query, answer string, confidence float64, sources []string, method, model string, rounds, promptTokens, completionTokens, totalTokens int) error
}

// Engine is the chat surface's single entrypoint.
type Engine struct {
	provider llmprovider.Provider
	genCfg   llmprovider.GenConfig
	search   *ragengine.Search
	analyzer *query.Analyzer
	registry *toolloop.Registry
	agents   map[string]*agent.Runtime
	agentDefs map[string]agent.Definition
	mem      memory.Store
	rerank   reranker.Reranker
	cfg      ragcore.ChatConfig
	agentCfg ragcore.AgentRunConfig
	queryLog QueryLog
}

// New wires a chat Engine. mem may be memory.Null{} to disable persistence.
// queryLog may be nil to disable the query audit log.
func New(provider llmprovider.Provider, genCfg llmprovider.GenConfig, search *ragengine.Search, analyzer *query.Analyzer, registry *toolloop.Registry, mem memory.Store, rerank reranker.Reranker, cfg ragcore.ChatConfig, agentCfg ragcore.AgentRunConfig, queryLog QueryLog) *Engine {
	return &Engine{
		provider: provider, genCfg: genCfg, search: search, analyzer: analyzer,
		registry: registry, agents: make(map[string]*agent.Runtime), agentDefs: make(map[string]agent.Definition),
		mem: mem, rerank: rerank, cfg: cfg, agentCfg: agentCfg, queryLog: queryLog,
	}
}

// RegisterAgent makes def reachable via AgentChat dispatch.
func (e *Engine) RegisterAgent(def agent.Definition, runtime *agent.Runtime) {
	e.agentDefs[def.ID] = def
	e.agents[def.ID] = runtime
}

var toolActionPatterns = regexp.MustCompile(`(?i)\b(remind me|set a reminder|create a task|add a task|schedule a|add an event|delete the task|mark .* (done|complete))\b`)

var agentCreationKeywords = []string{"create an agent", "new agent", "make an agent", "build a crew", "create a team", "create a crew"}
var codeGenKeywords = []string{"write a function", "write code", "generate code", "implement a", "fix this bug", "refactor this"}
var contentGenKeywords = []string{"flowchart", "diagram", "mermaid", "draw a"}

// Process is the single entrypoint: resolve intent, dispatch, validate,
// extract artifacts, write memory.
func (e *Engine) Process(ctx context.Context, userMessage string, cctx ChatContext, emitter Emitter) (AssistantResponse, error) {
	start := time.Now()

	var resp AssistantResponse
	var err error

	switch {
	case cctx.AgentID != "":
		resp, err = e.handleAgentChat(ctx, userMessage, cctx, emitter)
	case toolActionPatterns.MatchString(userMessage):
		resp, err = e.handleToolAction(ctx, userMessage, cctx, emitter)
	default:
		intent := e.resolveIntent(ctx, userMessage, cctx)
		switch intent {
		case IntentSearch:
			resp, err = e.handleSearch(ctx, userMessage, cctx)
		case IntentCodeGeneration:
			resp, err = e.handleCodeGeneration(ctx, userMessage, cctx)
		case IntentAgentCreation:
			resp, err = e.handleAgentCreation(ctx, userMessage, cctx, emitter)
		case IntentToolAction:
			resp, err = e.handleToolAction(ctx, userMessage, cctx, emitter)
		default:
			resp, err = e.handleGeneral(ctx, userMessage, cctx)
		}
	}
	if err != nil {
		return AssistantResponse{}, err
	}

	resp.Content, resp.Artifacts = extractArtifacts(resp.Content)
	resp.Metadata.DurationMs = time.Since(start).Milliseconds()

	e.writeMemory(ctx, "user", userMessage, cctx)
	e.writeMemory(ctx, "assistant", resp.Content, cctx)

	return resp, nil
}

// resolveIntent checks the agent-creation, content-generation and
// code-generation keyword lists first; only when none of them match does it
// consult query.Analyzer (LLM router when available, its own rules
// otherwise), mapping "no retrieval" to General, CodeAnalysis to
// CodeGeneration and everything else to Search.
func (e *Engine) resolveIntent(ctx context.Context, userMessage string, cctx ChatContext) Intent {
	lower := strings.ToLower(userMessage)

	if containsAny(lower, agentCreationKeywords) {
		return IntentAgentCreation
	}
	if containsAny(lower, contentGenKeywords) {
		return IntentCodeGeneration
	}
	if containsAny(lower, codeGenKeywords) {
		return IntentCodeGeneration
	}

	convCtx := toQueryContext(cctx)
	decision := e.analyzer.Analyze(ctx, userMessage, convCtx)
	if !decision.ShouldRetrieve {
		return IntentGeneral
	}
	switch decision.Intent {
	case query.IntentCodeAnalysis:
		return IntentCodeGeneration
	default:
		return IntentSearch
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toQueryContext(cctx ChatContext) query.ConversationContext {
	var msgs []query.Message
	for _, m := range cctx.History {
		msgs = append(msgs, query.Message{Role: string(m.Role), Content: m.Content})
	}
	return query.ConversationContext{RecentMessages: msgs}
}

// handleSearch is the Search intent handler: expand query variants,
// search each, merge, three-stage context curation, grounded prompt,
// bounded generation with deterministic fallback, citation validation.
// Each variant's results are reranked inside SearchComprehensive against
// that variant; the merged list is not reranked again against the
// original question.
func (e *Engine) handleSearch(ctx context.Context, userMessage string, cctx ChatContext) (AssistantResponse, error) {
	if e.search == nil {
		return AssistantResponse{}, ragcore.ErrNotInitialized
	}

	convCtx := toQueryContext(cctx)
	decision := e.analyzer.Analyze(ctx, userMessage, convCtx)

	variants := decision.SearchQueries
	if len(variants) == 0 {
		variants = query.Expand(userMessage, 3)
	}

	maxResults := cctx.MaxResults
	if maxResults <= 0 {
		maxResults = 8
	}

	var resultSets [][]ragengine.ComprehensiveResult
	for _, v := range variants {
		rs, err := e.search.SearchComprehensive(ctx, v, maxResults, cctx.SpaceID)
		if err != nil {
			continue
		}
		resultSets = append(resultSets, rs)
	}
	merged := query.Merge(resultSets)

	if len(merged) == 0 {
		return AssistantResponse{
			Content: "I could not find relevant information in the available documents to answer that question. Try rephrasing, or check whether the relevant documents have been ingested.",
			Metadata: ResponseMetadata{Intent: IntentSearch, SearchQueriesUsed: variants},
		}, nil
	}

	curated := curateContext(merged, e.cfg)

	bestScore := curated[0].Score
	systemPrompt := searchSystemPrompt(curated)
	userPrompt := fmt.Sprintf("Document Context:\n%s\n\nQuestion: %s", formatNumberedContext(curated), userMessage)

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.SearchLLMTimeoutSec)*time.Second)
	defer cancel()

	content, err := e.generate(genCtx, systemPrompt, userPrompt)
	if err != nil {
		content = deterministicSummary(curated)
	}

	content, citations := validateCitations(content, curated)

	resp := AssistantResponse{
		Content:      content,
		Citations:    citations,
		SearchResults: len(curated),
		Metadata:     ResponseMetadata{Intent: IntentSearch, SearchQueriesUsed: variants},
	}
	if bestScore < e.cfg.LowConfidenceScore {
		resp.Warning = "The retrieved sources had low relevance to this question; treat the answer below with caution."
		resp.Content = resp.Warning + "\n\n" + resp.Content
	}
	e.logQuery(ctx, userMessage, resp, curated)
	return resp, nil
}

// logQuery appends the turn to the query audit log (spec.md §4.11). Best
// effort: a logging failure never fails the chat turn.
func (e *Engine) logQuery(ctx context.Context, userMessage string, resp AssistantResponse, curated []ragengine.ComprehensiveResult) {
	if e.queryLog == nil {
		return
	}
	sources := make([]string, 0, len(curated))
	for _, r := range curated {
		sources = append(sources, r.Source)
	}
	if err := e.queryLog.LogQuery(ctx, userMessage, resp.Content, curated[0].Score, sources,
		"comprehensive", e.provider.Info().Model, 1, resp.Metadata.InputTokens, resp.Metadata.OutputTokens,
		resp.Metadata.InputTokens+resp.Metadata.OutputTokens); err != nil {
		slog.Warn("query audit log write failed", "error", err)
	}
}

func (e *Engine) handleCodeGeneration(ctx context.Context, userMessage string, cctx ChatContext) (AssistantResponse, error) {
	var contextBlock string
	if e.search != nil {
		results, err := e.search.SearchComprehensive(ctx, userMessage, 5, cctx.SpaceID)
		if err == nil && len(results) > 0 {
			contextBlock = "Context from codebase:\n" + formatNumberedContext(results)
		}
	}

	systemPrompt := "You are a precise coding assistant. Write correct, idiomatic code. " + contextBlock
	content, err := e.generate(ctx, systemPrompt, userMessage)
	if err != nil {
		return AssistantResponse{}, err
	}
	return AssistantResponse{Content: content, Metadata: ResponseMetadata{Intent: IntentCodeGeneration}}, nil
}

func (e *Engine) handleGeneral(ctx context.Context, userMessage string, cctx ChatContext) (AssistantResponse, error) {
	systemPrompt := cctx.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	content, err := e.generate(ctx, systemPrompt, userMessage)
	if err != nil {
		return AssistantResponse{}, err
	}
	return AssistantResponse{Content: content, Metadata: ResponseMetadata{Intent: IntentGeneral}}, nil
}

func (e *Engine) handleAgentChat(ctx context.Context, userMessage string, cctx ChatContext, emitter Emitter) (AssistantResponse, error) {
	runtime, ok := e.agents[cctx.AgentID]
	if !ok {
		return AssistantResponse{}, fmt.Errorf("chat: unknown agent %q", cctx.AgentID)
	}
	def := e.agentDefs[cctx.AgentID]

	if emitter != nil {
		emitter.Emit("agent_execution_started", map[string]any{"agent_id": cctx.AgentID})
	}

	var cancel atomic.Bool
	result, err := runtime.Run(ctx, def, userMessage, "", &cancel, toolloopEmitter{emitter})
	if err != nil {
		return AssistantResponse{}, err
	}

	if emitter != nil {
		emitter.Emit("agent_execution_complete", map[string]any{"agent_id": cctx.AgentID, "success": result.Success})
	}

	return AssistantResponse{Content: result.Content, Metadata: ResponseMetadata{Intent: IntentAgentChat}}, nil
}

func (e *Engine) handleToolAction(ctx context.Context, userMessage string, cctx ChatContext, emitter Emitter) (AssistantResponse, error) {
	systemPrompt := fmt.Sprintf("Current date/time: %s. You can call the available tools to accomplish the user's request.", time.Now().Format(time.RFC3339))
	messages := append(append([]llmprovider.Message(nil), llmprovider.Message{Role: llmprovider.RoleSystem, Content: systemPrompt}), cctx.History...)
	messages = append(messages, llmprovider.Message{Role: llmprovider.RoleUser, Content: userMessage})

	var cancel atomic.Bool
	result, err := toolloop.RunToolLoop(ctx, e.provider, e.registry, messages, toolloop.Config{
		MaxIterations: e.agentCfg.DefaultMaxToolCalls,
		ToolTimeout:   time.Duration(e.agentCfg.ToolTimeoutSeconds) * time.Second,
		GenConfig:     e.genCfg,
	}, &cancel, toolloopEmitter{emitter})
	if err != nil {
		return AssistantResponse{}, err
	}
	return AssistantResponse{Content: result.Content, Metadata: ResponseMetadata{Intent: IntentToolAction}}, nil
}

// handleAgentCreation asks the model to emit a full agent (or crew)
// definition as JSON and returns that JSON as the response content. The
// definition is not parsed, registered, persisted or executed here.
func (e *Engine) handleAgentCreation(ctx context.Context, userMessage string, cctx ChatContext, emitter Emitter) (AssistantResponse, error) {
	isCrew := containsAny(strings.ToLower(userMessage), []string{"crew", "team of agents", "multiple agents"})

	systemPrompt := "Generate a JSON agent definition with fields: name, description, system_prompt. Respond with JSON only."
	if isCrew {
		systemPrompt = "Generate a JSON array of 2-4 specialized agent definitions, each with fields: name, description, system_prompt. Respond with JSON only."
	}

	content, err := e.generate(ctx, systemPrompt, userMessage)
	if err != nil {
		return AssistantResponse{}, err
	}

	if emitter != nil {
		emitter.Emit("agent_creation_progress", map[string]any{"stage": "generated", "progress": 100})
	}

	return AssistantResponse{Content: content, Metadata: ResponseMetadata{Intent: IntentAgentCreation}}, nil
}

func (e *Engine) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := e.provider.Chat(ctx, []llmprovider.Message{
		{Role: llmprovider.RoleSystem, Content: systemPrompt},
		{Role: llmprovider.RoleUser, Content: userPrompt},
	}, nil, e.genCfg)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (e *Engine) writeMemory(ctx context.Context, role, content string, cctx ChatContext) {
	if e.mem == nil || strings.TrimSpace(content) == "" {
		return
	}
	memCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.MemoryTimeoutSec)*time.Second)
	defer cancel()
	_ = e.mem.Write(memCtx, memory.Record{
		SessionID: cctx.SessionID,
		SpaceID:   cctx.SpaceID,
		Role:      role,
		Content:   content,
		TimeOfDay: memory.TimeOfDay(time.Now()),
		CreatedAt: time.Now(),
	})
}

// curateContext implements spec.md §4.12's three-stage curation: relevance
// floor (drop score < 0.30*best), content dedup (pairwise Jaccard > 0.60,
// keep higher-scored), score-cliff cut (truncate at the first >=40% drop
// at position >= 2).
func curateContext(results []ragengine.ComprehensiveResult, cfg ragcore.ChatConfig) []ragengine.ComprehensiveResult {
	if len(results) == 0 {
		return results
	}
	sorted := append([]ragengine.ComprehensiveResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	best := sorted[0].Score
	floor := best * cfg.RelevanceFloorRatio
	var stage1 []ragengine.ComprehensiveResult
	for _, r := range sorted {
		if r.Score >= floor {
			stage1 = append(stage1, r)
		}
	}

	var stage2 []ragengine.ComprehensiveResult
	var keptSets []map[string]bool
	for _, r := range stage1 {
		set := wordSet(r.Snippet)
		dup := false
		for _, ks := range keptSets {
			if jaccardOverlap(set, ks) > cfg.DedupJaccard {
				dup = true
				break
			}
		}
		if !dup {
			stage2 = append(stage2, r)
			keptSets = append(keptSets, set)
		}
	}

	stage3 := stage2
	for i := 1; i < len(stage2); i++ {
		if i >= 2 && stage2[i-1].Score > 0 {
			drop := (stage2[i-1].Score - stage2[i].Score) / stage2[i-1].Score
			if drop >= cfg.ScoreCliffRatio {
				stage3 = stage2[:i]
				break
			}
		}
	}
	return stage3
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}

func jaccardOverlap(a, b map[string]bool) float64 {
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

func formatNumberedContext(results []ragengine.ComprehensiveResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.Title, r.Snippet)
	}
	return b.String()
}

func searchSystemPrompt(results []ragengine.ComprehensiveResult) string {
	return fmt.Sprintf(`Answer ONLY from the Document Context below; conversation history is for topic continuity, not facts. Cite your claims inline as [N], matching the numbered context entries (1 through %d). If the sources are insufficient to answer, say so plainly and suggest how the user might rephrase or narrow the question.`, len(results))
}

func deterministicSummary(results []ragengine.ComprehensiveResult) string {
	var b strings.Builder
	b.WriteString("The assistant took too long to respond, so here are the most relevant passages found:\n\n")
	for i, r := range results {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n\n", i+1, r.Title, truncate(r.Snippet, 300))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type toolloopEmitter struct{ e Emitter }

func (t toolloopEmitter) Emit(event toolloop.EmitterEvent, toolID, detail string) {
	if t.e == nil {
		return
	}
	t.e.Emit("tool_execution", map[string]any{"stage": string(event), "tool": toolID, "detail": detail})
}
