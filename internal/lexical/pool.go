package lexical

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

// TokenWorkersEnv overrides the tokenize pool size.
const TokenWorkersEnv = "DEPTQA_TOKEN_WORKERS"

func tokenWorkers() int {
	if v := os.Getenv(TokenWorkersEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// tokenizeRange flattens and tokenizes docs[from:] in parallel,
// writing into htmlTexts and tokens at matching indices. HTML parsing
// dominates cold builds, so batches amortize goroutine overhead across
// the pool.
func tokenizeRange(ctx context.Context, docs []snapshot.Document, htmlTexts []string, tokens [][]string, from int) error {
	if from >= len(docs) {
		return nil
	}

	workers := tokenWorkers()
	batch := (len(docs) - from) / (workers * 10)
	if batch < 1 {
		batch = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := from; start < len(docs); start += batch {
		end := start + batch
		if end > len(docs) {
			end = len(docs)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				htmlTexts[i] = htmlToText(docs[i].HTML)
				tokens[i] = Tokenize(surface(docs[i].Title, docs[i].Text, htmlTexts[i]))
			}
			return nil
		})
	}
	return g.Wait()
}
