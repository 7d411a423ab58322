package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mikeboe/research-reporter/pkg/clients"
	"github.com/mikeboe/research-reporter/pkg/research/tools"
	"github.com/mikeboe/research-reporter/pkg/splitter"
	"github.com/mikeboe/research-reporter/pkg/stream"
	"github.com/mikeboe/research-reporter/pkg/vectorstore"
)

// Engine researches a topic by iterating Plan, Source, Filter, Acquire and
// Reflect phases, then drafts the report body from what it gathered.
// An Engine is safe to share between runs; all run state is local to Research.
type Engine struct {
	Config   Config
	Caller   clients.Caller
	Searcher Searcher
	Fetcher  Fetcher
	Embedder Embedder
	Index    Index
	Logger   *slog.Logger
}

func NewEngine(cfg Config, caller clients.Caller) *Engine {
	return &Engine{
		Config:   cfg,
		Caller:   caller,
		Searcher: tools.NewArxivSearcher(),
		Fetcher:  NewSourceFetcher(""),
		Logger:   slog.Default(),
	}
}

// WithIndex enables chunk indexing and retrieval of the research context.
func (e *Engine) WithIndex(embedder Embedder, index Index) *Engine {
	e.Embedder = embedder
	e.Index = index
	return e
}

type runner struct {
	*Engine
	req      Request
	state    *runState
	progress stream.Sink
}

// Research runs the loop for one request.
func (e *Engine) Research(ctx context.Context, req Request, progress stream.Sink) (*Result, error) {
	if progress == nil {
		progress = stream.Discard
	}
	if req.Model == "" {
		req.Model = e.Config.Model
	}

	r := &runner{
		Engine:   e,
		req:      req,
		progress: progress,
		state: &runState{
			Topic:         req.Query,
			ProcessedURLs: make(map[string]bool),
			MaxIterations: max(e.Config.MaxIterations, 1),
		},
	}
	return r.run(ctx)
}

func (r *runner) emit(ctx context.Context, key, msg string) {
	stream.Emit(ctx, r.progress, stream.Log(key, msg))
}

func (r *runner) call(ctx context.Context, p clients.Prompt) (string, error) {
	p.Model = r.req.Model
	resp, err := r.Caller.Call(ctx, p)
	if err != nil {
		return "", err
	}
	r.state.addTokens(resp.TotalTokens)
	return resp.Content, nil
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	s := r.state
	r.Logger.Info("Starting research loop", "research_id", r.req.ResearchID, "topic", s.Topic)
	r.emit(ctx, "starting_research", fmt.Sprintf("Starting the research task for '%s'...", s.Topic))

	for s.Iteration < s.MaxIterations {
		s.Iteration++
		r.Logger.Info("Starting iteration", "iteration", s.Iteration, "max", s.MaxIterations)

		// 1. Plan
		queries, err := r.planPhase(ctx)
		if err != nil {
			return nil, fmt.Errorf("planning failed: %w", err)
		}
		if len(queries) == 0 {
			r.Logger.Warn("No queries generated. Research might be stuck.")
			break
		}

		// 2. Source
		results := r.sourcePhase(ctx, queries)

		// 3. Filter
		relevant, err := r.filterPhase(ctx, results)
		if err != nil {
			return nil, fmt.Errorf("filtering failed: %w", err)
		}

		// 4. Acquire & Index
		summaries := r.acquireAndIndexPhase(ctx, relevant)

		// 5. Reflect
		shouldContinue, err := r.reflectPhase(ctx, summaries)
		if err != nil {
			return nil, fmt.Errorf("reflection failed: %w", err)
		}
		if !shouldContinue {
			r.Logger.Info("Research complete!")
			break
		}
	}

	researchContext := r.buildContext(ctx)

	report, err := r.generateReport(ctx, researchContext)
	if err != nil {
		return nil, fmt.Errorf("report generation failed: %w", err)
	}

	return &Result{
		Report:      report,
		Context:     researchContext,
		SourceURLs:  s.SourceURLs,
		VisitedURLs: s.VisitedURLs,
		Tokens:      s.Tokens,
		Costs:       r.Config.costOf(s.Tokens),
		Images:      []string{},
	}, nil
}

// --- Phase Implementations ---

const searchQueriesSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "List of specific search queries"
    }
  },
  "required": ["queries"]
}`

func (r *runner) planPhase(ctx context.Context) ([]string, error) {
	r.emit(ctx, "planning_research", "Planning search queries...")

	system := fmt.Sprintf(`You are a research planner.
Generate %d specific search queries to gather information about the topic.

# Response Format:
Return the JSON object directly without any formatting or additional text, matching this schema:
%s`, max(r.Config.QueriesPerRound, 1), searchQueriesSchema)

	input := fmt.Sprintf(`Topic: %s
Current Iteration: %d
Accumulated Facts: %d`, r.state.Topic, r.state.Iteration, len(r.state.AccumulatedFacts))

	content, err := r.call(ctx, clients.Prompt{System: system, User: input, JSON: true, Schema: searchQueriesSchema})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}

	var queries []string
	for _, q := range resp.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}

	r.Logger.Info("Generated queries", "queries", queries)
	r.emit(ctx, "subqueries", strings.Join(queries, ", "))
	return queries, nil
}

func (r *runner) sourcePhase(ctx context.Context, queries []string) []tools.Hit {
	r.emit(ctx, "searching", fmt.Sprintf("Searching %d queries...", len(queries)))

	perQuery := make([][]tools.Hit, len(queries))
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()

			hits, err := r.Searcher.Search(ctx, query, r.Config.ResultsPerQuery)
			if err != nil {
				r.Logger.Error("Search failed", "query", query, "error", err)
				return
			}
			r.Logger.Info("Search successful", "query", query, "count", len(hits))
			perQuery[i] = hits
		}(i, q)
	}
	wg.Wait()

	// remove duplicates based on Title
	var unique []tools.Hit
	seen := make(map[string]bool)
	for _, hits := range perQuery {
		for _, h := range hits {
			if seen[h.Title] {
				continue
			}
			seen[h.Title] = true
			unique = append(unique, h)
			r.addSourceURL(h.URL)
		}
	}

	return unique
}

func (r *runner) addSourceURL(url string) {
	if url == "" {
		return
	}
	for _, u := range r.state.SourceURLs {
		if u == url {
			return
		}
	}
	r.state.SourceURLs = append(r.state.SourceURLs, url)
}

const filterSchema = `{"type": "object", "properties": {"scores": {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "integer"}, "score": {"type": "integer"}}, "required": ["id", "score"]}}}, "required": ["scores"]}`

func (r *runner) filterPhase(ctx context.Context, results []tools.Hit) ([]tools.Hit, error) {
	if len(results) == 0 {
		return nil, nil
	}
	r.emit(ctx, "filtering", fmt.Sprintf("Scoring %d candidate sources...", len(results)))

	var papersList strings.Builder
	for i, h := range results {
		fmt.Fprintf(&papersList, "ID: %d\nTitle: %s\nSummary: %s\n\n", i, h.Title, h.Snippet)
	}

	system := `You are a research filter.
Evaluate the relevance of the following sources to the research topic.
Score each source from 0-10 (10 being most relevant).

# Response Format:
` + filterSchema

	input := fmt.Sprintf("Topic: %s\n\nSources:\n%s", r.state.Topic, papersList.String())

	content, err := r.call(ctx, clients.Prompt{System: system, User: input, JSON: true, Schema: filterSchema})
	if err != nil {
		return nil, fmt.Errorf("llm filtering failed: %w", err)
	}

	var resp struct {
		Scores []struct {
			ID    int `json:"id"`
			Score int `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}

	var relevant []tools.Hit
	for _, item := range resp.Scores {
		if item.Score >= r.Config.MinRelevance && item.ID >= 0 && item.ID < len(results) {
			relevant = append(relevant, results[item.ID])
			r.Logger.Info("Keeping source", "title", results[item.ID].Title, "score", item.Score)
		}
	}

	r.Logger.Info("Filtering complete", "total", len(results), "relevant", len(relevant))
	return relevant, nil
}

func (r *runner) acquireAndIndexPhase(ctx context.Context, items []tools.Hit) []string {
	if len(items) == 0 {
		return nil
	}
	r.emit(ctx, "scraping_urls", fmt.Sprintf("Reading %d sources...", len(items)))

	summaries := make([]string, len(items))
	visited := make([]string, len(items))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, max(r.Config.Concurrency, 1))

	for i, item := range items {
		wg.Add(1)
		go func(i int, item tools.Hit) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			r.state.Mu.Lock()
			if item.URL != "" && r.state.ProcessedURLs[item.URL] {
				r.state.Mu.Unlock()
				return
			}
			r.state.ProcessedURLs[item.URL] = true
			r.state.Mu.Unlock()

			fullText := item.Snippet
			if item.URL != "" {
				text, err := r.Fetcher.Fetch(ctx, item.URL)
				if err != nil {
					r.Logger.Warn("Failed to fetch source, using summary", "url", item.URL, "error", err)
				} else if strings.TrimSpace(text) != "" {
					fullText = text
				}
				visited[i] = item.URL
			}

			r.index(ctx, item, fullText)

			// Safe truncation using runes to avoid invalid UTF-8
			excerpt := fullText
			if runes := []rune(fullText); len(runes) > 500 {
				excerpt = string(runes[:500])
			}
			summaries[i] = fmt.Sprintf("Source: %s\nURL: %s\nSummary: %s\nExcerpts: %s...",
				item.Title, item.URL, item.Snippet, excerpt)
		}(i, item)
	}
	wg.Wait()

	var out []string
	for i := range items {
		if summaries[i] == "" {
			continue
		}
		out = append(out, summaries[i])
		r.state.AccumulatedFacts = append(r.state.AccumulatedFacts, summaries[i])
		if visited[i] != "" {
			r.state.VisitedURLs = append(r.state.VisitedURLs, visited[i])
		}
	}
	return out
}

// index chunks, embeds and stores a source. Failures are logged; the run
// continues on the fact summaries alone.
func (r *runner) index(ctx context.Context, item tools.Hit, fullText string) {
	if r.Index == nil || r.Embedder == nil || fullText == "" {
		return
	}

	chunks, err := splitter.NewRecursiveCharacterTextSplitter(r.Config.ChunkSize, r.Config.ChunkOverlap).SplitText(fullText)
	if err != nil {
		r.Logger.Error("Failed to split text", "title", item.Title, "error", err)
		return
	}
	if len(chunks) == 0 {
		return
	}

	vectors, err := r.Embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		r.Logger.Error("Failed to generate embeddings", "title", item.Title, "error", err)
		return
	}

	documents := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		documents[i] = vectorstore.Document{
			Content: chunk,
			Metadata: map[string]interface{}{
				"source":      item.URL,
				"title":       item.Title,
				"research_id": r.req.ResearchID,
			},
			Embedding: vectors[i],
		}
	}

	if err := r.Index.AddDocuments(ctx, documents); err != nil {
		r.Logger.Error("Failed to add documents to vector store", "title", item.Title, "error", err)
	}
}

func (r *runner) reflectPhase(ctx context.Context, summaries []string) (bool, error) {
	if r.state.Iteration >= r.state.MaxIterations {
		return false, nil
	}
	r.emit(ctx, "reflecting", "Reviewing gathered findings...")

	system := `You are a research manager.
Review the gathered facts and decide if sufficient information has been gathered to answer the original research topic comprehensively.
If yes, output "STOP".
If no, output "CONTINUE" and a brief focus area for the next iteration.`

	input := fmt.Sprintf("Topic: %s\n\nRecent Findings:\n%s\n\nTotal Iterations: %d/%d",
		r.state.Topic, strings.Join(summaries, "\n\n"), r.state.Iteration, r.state.MaxIterations)

	content, err := r.call(ctx, clients.Prompt{System: system, User: input})
	if err != nil {
		return false, err
	}

	if strings.Contains(strings.ToUpper(content), "STOP") {
		return false, nil
	}
	r.Logger.Info("Adjusting focus", "focus", strings.TrimSpace(strings.TrimPrefix(content, "CONTINUE")))
	return true, nil
}

// buildContext selects the material handed to the writer. With an index it
// is the top chunks for the topic; otherwise the fact summaries. Either way
// it is capped at MaxContextChars.
func (r *runner) buildContext(ctx context.Context) []string {
	var candidates []string

	if r.Index != nil && r.Embedder != nil && r.req.ResearchID != "" {
		candidates = r.retrieve(ctx)
	}
	if len(candidates) == 0 {
		candidates = r.state.AccumulatedFacts
	}

	limit := r.Config.MaxContextChars
	var out []string
	used := 0
	for _, c := range candidates {
		if limit > 0 && used+len(c) > limit {
			break
		}
		out = append(out, c)
		used += len(c)
	}
	return out
}

func (r *runner) retrieve(ctx context.Context) []string {
	queryEmbedding, err := r.Embedder.EmbedText(ctx, r.state.Topic)
	if err != nil {
		r.Logger.Error("Failed to embed topic", "error", err)
		return nil
	}

	results, err := r.Index.SimilaritySearch(ctx, queryEmbedding, max(r.Config.ContextTopK, 1),
		map[string]interface{}{"research_id": r.req.ResearchID})
	if err != nil {
		r.Logger.Error("Failed to search research index", "error", err)
		return nil
	}

	out := make([]string, 0, len(results))
	for _, res := range results {
		source, _ := res.Document.Metadata["source"].(string)
		out = append(out, fmt.Sprintf("[Source]: %s\n[Content]: %s", source, res.Document.Content))
	}
	return out
}

func (r *runner) generateReport(ctx context.Context, researchContext []string) (string, error) {
	r.Logger.Info("Compiling report body")
	r.emit(ctx, "writing_body", "Drafting the report body...")

	var extra strings.Builder
	if r.req.Language != "" {
		fmt.Fprintf(&extra, "\nWrite the report in %s.", r.req.Language)
	}
	if r.req.Tone != "" {
		fmt.Fprintf(&extra, "\nUse a %s tone.", strings.ToLower(r.req.Tone))
	}

	prompt := fmt.Sprintf(`Write a comprehensive research report on "%s".
Use the following gathered facts and summaries:

%s

Format as Markdown. Structure the body with "##" section headings and "###" sub-headings (Key Findings, Methodology/Discussion and so on).
Do not write a title, an introduction, a conclusion or a reference list; those are added separately.%s`,
		r.state.Topic, strings.Join(researchContext, "\n\n"), extra.String())

	report, err := r.call(ctx, clients.Prompt{User: prompt})
	if err != nil {
		return "", err
	}

	r.Logger.Info("Report body generated", "length", len(report))
	return strings.TrimSpace(report), nil
}
