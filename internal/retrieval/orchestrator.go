package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ident"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/rerank"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
)

const (
	// urlDedupLimit caps the candidate list after URL deduplication.
	urlDedupLimit = 20

	// distinctTitleCount is how many distinct posts feed the composer.
	distinctTitleCount = 5

	// Score floors below which no answer is attempted. Cross-encoder
	// logits live on a wide scale, so the post-rerank floor is far
	// below zero; fused retrieval scores are positive, so theirs is
	// not.
	postRerankFloor = -8.0
	preRerankFloor  = 0.5

	// Coarse recency multipliers applied after fusion.
	boostHalfYear = 1.5
	boostOneYear  = 1.3
	boostTwoYears = 1.1
	boostOlder    = 0.9

	// Day windows for the coarse boost and the ongoing-intent staleness
	// penalty.
	halfYearDays   = 183
	oneYearDays    = 365
	staleAfterDays = 730

	// Temporal re-boost multipliers applied after reranking.
	boostExactTerm   = 2.0
	boostYearMatch   = 1.8
	boostSemMatch    = 1.5
	boostCurrentTerm = 1.8
	penaltyStaleTerm = 0.6
)

// Orchestrator runs the staged retrieval pipeline for one query.
type Orchestrator struct {
	lexical *lexical.Index
	snap    *snapshot.Manager
	dense   *DenseRetriever
	weigher *Weigher

	intents  *IntentParser
	shortcut *ListShortcut
	reranker rerank.Reranker

	topK             int
	minSimilarity    float64
	clusterThreshold float64

	clock  clock.Clock
	logger *slog.Logger
}

// Option configures optional orchestrator behavior.
type Option func(*Orchestrator)

// WithIntentParser enables temporal intent extraction.
func WithIntentParser(p *IntentParser) Option {
	return func(o *Orchestrator) { o.intents = p }
}

// WithListShortcut enables the board-listing fast path.
func WithListShortcut(s *ListShortcut) Option {
	return func(o *Orchestrator) { o.shortcut = s }
}

// WithReranker enables cross-encoder reranking. The pipeline degrades
// to fused order whenever the reranker is unavailable or fails.
func WithReranker(r rerank.Reranker) Option {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithTopK overrides how many fused candidates enter reranking.
func WithTopK(k int) Option {
	return func(o *Orchestrator) { o.topK = k }
}

// WithMinimumSimilarity overrides the lexical relevance floor.
func WithMinimumSimilarity(min float64) Option {
	return func(o *Orchestrator) { o.minSimilarity = min }
}

// WithClusterThreshold overrides the near-duplicate title threshold.
func WithClusterThreshold(v float64) Option {
	return func(o *Orchestrator) { o.clusterThreshold = v }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the pipeline around its two retrieval branches.
func NewOrchestrator(lex *lexical.Index, snap *snapshot.Manager, dense *DenseRetriever, weigher *Weigher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lexical:          lex,
		snap:             snap,
		dense:            dense,
		weigher:          weigher,
		topK:             defaultFusionTopK,
		minSimilarity:    1.8,
		clusterThreshold: 0.89,
		clock:            clock.NewKST(),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is the retrieval output handed to the composer.
type Result struct {
	Query       string
	QueryTokens []string
	Intent      *TemporalIntent

	// Chunks are the enriched context chunks, best post first. Empty
	// when List is set or NoAnswer is true.
	Chunks   []Candidate
	TopTitle string
	TopURL   string
	TopDate  string

	// List is set when the query took the board-listing shortcut.
	List *Listing

	// NoAnswer is set when even the best candidate scored below the
	// relevance floor.
	NoAnswer bool

	// Reranked reports whether cross-encoder scores were applied.
	Reranked bool

	// Stages holds per-stage latencies for telemetry.
	Stages map[telemetry.Stage]time.Duration
}

// Search runs every pipeline stage for one query.
func (o *Orchestrator) Search(ctx context.Context, query string) (*Result, error) {
	res := &Result{
		Query:  query,
		Stages: make(map[telemetry.Stage]time.Duration),
	}

	started := time.Now()
	res.QueryTokens = lexical.Tokenize(query)
	res.Stages[telemetry.StageTokenize] = time.Since(started)

	if o.intents != nil {
		started = time.Now()
		res.Intent = o.intents.Parse(ctx, query)
		res.Stages[telemetry.StageIntent] = time.Since(started)
	}

	if o.shortcut != nil {
		if listing := o.shortcut.Try(query, res.QueryTokens); listing != nil {
			res.List = listing
			return res, nil
		}
	}

	docs := o.snap.Documents()

	sparse, dense, err := o.parallelSearch(ctx, query, res.QueryTokens, docs, res.Stages)
	if err != nil {
		return nil, err
	}

	started = time.Now()
	cands := combine(dense, sparse, o.weigher, res.QueryTokens, o.topK)
	cands = o.coarseRecencyBoost(cands)
	cands = dedupByURL(cands, urlDedupLimit)
	res.Stages[telemetry.StageCombine] = time.Since(started)

	if len(cands) == 0 {
		res.NoAnswer = true
		return res, nil
	}

	if o.reranker != nil && o.reranker.Available(ctx) {
		started = time.Now()
		reranked, rerr := o.rerankCandidates(ctx, query, cands)
		res.Stages[telemetry.StageRerank] = time.Since(started)
		if rerr != nil {
			o.logger.Warn("rerank failed, keeping fused order",
				slog.String("error", qaerrors.GetCode(rerr)))
		} else {
			cands = reranked
			res.Reranked = true
		}
	}

	if res.Reranked && res.Intent.Active() && !res.Intent.IsPolicy {
		cands = o.temporalReboost(cands, res.Intent)
	}

	floor := preRerankFloor
	if res.Reranked {
		floor = postRerankFloor
	}
	if cands[0].Score < floor {
		o.logger.Info("no answer: top candidate below relevance floor",
			slog.Float64("score", cands[0].Score),
			slog.Float64("floor", floor),
			slog.Bool("reranked", res.Reranked))
		res.NoAnswer = true
		return res, nil
	}

	top := distinctTitles(cands, distinctTitleCount, o.clusterThreshold)

	started = time.Now()
	res.Chunks = o.enrich(top)
	res.Stages[telemetry.StageEnrich] = time.Since(started)

	res.TopTitle = top[0].Title
	res.TopURL = top[0].URL
	res.TopDate = top[0].Date

	o.logger.Debug("retrieval finished",
		slog.Int("candidates", len(cands)),
		slog.Int("distinct_posts", len(top)),
		slog.Int("chunks", len(res.Chunks)),
		slog.Bool("reranked", res.Reranked))
	return res, nil
}

// parallelSearch runs the lexical and dense branches concurrently. One
// branch failing degrades to the other; both failing is an error.
func (o *Orchestrator) parallelSearch(
	ctx context.Context,
	query string,
	queryTokens []string,
	docs []snapshot.Document,
	stages map[telemetry.Stage]time.Duration,
) (sparse, dense []Candidate, err error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		sparseErr, denseErr   error
		sparseTook, denseTook time.Duration
	)

	g.Go(func() error {
		started := time.Now()
		hits, searchErr := o.lexical.Search(gctx, docs, queryTokens, lexical.DefaultTopK)
		sparseTook = time.Since(started)
		if searchErr != nil {
			sparseErr = searchErr
			return nil
		}
		sparse = o.sparseCandidates(hits, docs)
		return nil
	})

	g.Go(func() error {
		started := time.Now()
		matches, searchErr := o.dense.Search(gctx, query, queryTokens)
		denseTook = time.Since(started)
		if searchErr != nil {
			denseErr = searchErr
			return nil
		}
		dense = matches
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	stages[telemetry.StageBM25] = sparseTook
	stages[telemetry.StageDense] = denseTook

	if sparseErr != nil && denseErr != nil {
		return nil, nil, qaerrors.New(qaerrors.ErrCodeSearchFailed, "both retrieval branches failed", sparseErr).
			WithDetail("dense_error", denseErr.Error())
	}
	if sparseErr != nil {
		o.logger.Warn("lexical branch failed, continuing with dense results",
			slog.String("error", qaerrors.GetCode(sparseErr)))
	}
	if denseErr != nil {
		o.logger.Warn("dense branch failed, continuing with lexical results",
			slog.String("error", qaerrors.GetCode(denseErr)))
	}
	return sparse, dense, nil
}

// sparseCandidates maps lexical hits onto snapshot documents, dropping
// hits under the relevance floor.
func (o *Orchestrator) sparseCandidates(hits []lexical.Hit, docs []snapshot.Document) []Candidate {
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < o.minSimilarity {
			continue
		}
		if h.Index < 0 || h.Index >= len(docs) {
			continue
		}
		out = append(out, fromDocument(docs[h.Index], h.Score))
	}
	return out
}

// coarseRecencyBoost applies the post-fusion date multiplier and
// resorts.
func (o *Orchestrator) coarseRecencyBoost(cands []Candidate) []Candidate {
	now := o.clock.Now()
	for i := range cands {
		t, err := clock.ParseDate(cands[i].Date)
		if err != nil {
			continue
		}
		days := int(now.Sub(t).Hours() / 24)
		switch {
		case days <= halfYearDays:
			cands[i].Score *= boostHalfYear
		case days <= oneYearDays:
			cands[i].Score *= boostOneYear
		case days <= staleAfterDays:
			cands[i].Score *= boostTwoYears
		default:
			cands[i].Score *= boostOlder
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	return cands
}

// dedupByURL keeps the best-scoring candidate per URL. The input is
// sorted, so the first occurrence wins.
func dedupByURL(cands []Candidate, limit int) []Candidate {
	out := make([]Candidate, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		if c.URL != "" {
			if seen[c.URL] {
				continue
			}
			seen[c.URL] = true
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// rerankCandidates replaces fused scores with cross-encoder scores and
// reorders.
func (o *Orchestrator) rerankCandidates(ctx context.Context, query string, cands []Candidate) ([]Candidate, error) {
	docs := make([]rerank.Document, len(cands))
	for i, c := range cands {
		docs[i] = rerank.Document{Title: c.Title, Body: c.Text}
	}

	results, err := o.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		c := cands[r.Index]
		c.Score = r.Score
		out = append(out, c)
	}
	return out, nil
}

// temporalReboost corrects the reranked order for the query's explicit
// or ongoing time constraint, then resorts.
func (o *Orchestrator) temporalReboost(cands []Candidate, intent *TemporalIntent) []Candidate {
	now := o.clock.Now()
	curYear, curSem := clock.Semester(now)

	for i := range cands {
		t, err := clock.ParseDate(cands[i].Date)
		if err != nil {
			continue
		}
		docYear, docSem := clock.Semester(t)

		mult := 1.0
		if intent.Year > 0 || intent.Semester > 0 {
			yearMatch := intent.Year > 0 && docYear == intent.Year
			semMatch := intent.Semester > 0 && docSem == intent.Semester
			switch {
			case yearMatch && semMatch:
				mult = boostExactTerm
			case yearMatch:
				mult = boostYearMatch
			case semMatch:
				mult = boostSemMatch
			}
		} else if intent.IsOngoing {
			switch {
			case docYear == curYear && docSem == curSem:
				mult = boostCurrentTerm
			case now.Sub(t).Hours() >= staleAfterDays*24:
				mult = penaltyStaleTerm
			}
		}

		cands[i].Score = applyBoost(cands[i].Score, mult)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	return cands
}

// applyBoost scales a score so that a boost always moves it up and a
// penalty always moves it down, even on the negative logit scale.
func applyBoost(score, mult float64) float64 {
	if mult == 1.0 {
		return score
	}
	if score >= 0 {
		return score * mult
	}
	return score / mult
}

// distinctTitles walks the sorted candidates and picks the first n
// posts whose titles do not cluster with an already-picked one.
func distinctTitles(cands []Candidate, n int, threshold float64) []Candidate {
	picked := make([]Candidate, 0, n)
	for _, c := range cands {
		dup := false
		for _, p := range picked {
			if sameCluster(c.Title, p.Title, threshold) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		picked = append(picked, c)
		if len(picked) == n {
			break
		}
	}
	return picked
}

// enrich pulls every snapshot chunk of each selected post: the body,
// image OCR, and attachment extractions. Chunks inherit their post's
// ranking score. Whitespace-normalized text dedup applies globally
// across posts.
func (o *Orchestrator) enrich(top []Candidate) []Candidate {
	seen := make(map[string]bool)
	var chunks []Candidate

	for _, post := range top {
		for _, doc := range o.snap.ByTitle(post.Title) {
			key := ident.NormalizeSpace(doc.Text)
			if key == "" {
				key = ident.NormalizeSpace(doc.HTML)
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			chunks = append(chunks, fromDocument(doc, post.Score))
		}
	}
	return chunks
}
