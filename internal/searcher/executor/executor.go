package executor

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filter"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

// Phase names of the performance report.
const (
	PhaseFilter = "Filtering documents"
	PhaseKeys   = "Finding keywords"
	PhaseMatch  = "Matching documents"
)

// scanCheckEvery is how many vocabulary keys are scanned between
// cancellation checks.
const scanCheckEvery = 4096

// Source is the read side of an index. *index.MemoryIndex implements it.
type Source interface {
	Documents() []index.Document
	Vocabulary() []string
	PrefixRange(prefix string) []string
	Snapshots(keys []string) []index.Snapshot
}

// Span is one match inside a document. Start and End are byte offsets of
// the first matched token and just past the last one.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
}

type MatchResult struct {
	Document index.Document `json:"document"`
	Spans    []Span         `json:"spans"`
}

type Result struct {
	Query      string        `json:"query"`
	Matches    []MatchResult `json:"matches"`
	MatchCount int           `json:"match_count"`
	Elapsed    time.Duration `json:"elapsed"`
	Report     *Report       `json:"report"`
}

type Executor struct {
	workers int
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg config.SearchConfig, m *metrics.Metrics) *Executor {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Executor{
		workers: workers,
		timeout: cfg.Timeout,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Execute runs q against src with a default executor.
func Execute(ctx context.Context, src Source, q *parser.Query, f *filter.Filter) (*Result, error) {
	return New(config.SearchConfig{}, nil).Execute(ctx, src, q, f)
}

// Execute finds every occurrence of q in the documents of src passing f.
// Documents are filtered on metadata first; only the postings of the most
// selective atom are read from the index, and every candidate position is
// verified against the token stream of the same document version.
func (e *Executor) Execute(ctx context.Context, src Source, q *parser.Query, f *filter.Filter) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := e.execute(ctx, src, q, f)
	elapsed := time.Since(start)

	if err != nil {
		if apperrors.IsCancelled(err) {
			e.metrics.ObserveSearch(metrics.OutcomeCancelled, elapsed, 0)
			e.logger.Info("query cancelled", "query", q.Raw, "elapsed", elapsed)
			return nil, apperrors.Cancelled(err)
		}
		e.metrics.ObserveSearch(metrics.OutcomeError, elapsed, 0)
		return nil, err
	}

	res.Elapsed = elapsed
	outcome := metrics.OutcomeMatches
	if res.MatchCount == 0 {
		outcome = metrics.OutcomeZero
	}
	e.metrics.ObserveSearch(outcome, elapsed, res.MatchCount)
	e.logger.Info("query executed",
		"query", q.Raw,
		"case_sensitive", q.CaseSensitive,
		"documents", len(res.Matches),
		"matches", res.MatchCount,
		"elapsed", elapsed,
	)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, src Source, q *parser.Query, f *filter.Filter) (*Result, error) {
	res := &Result{Query: q.Raw, Matches: []MatchResult{}, Report: &Report{}}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	phase := res.Report.Begin(PhaseFilter)
	all := src.Documents()
	docs := make(map[string]index.Document, len(all))
	for _, doc := range f.Apply(all) {
		docs[doc.Path] = doc
	}
	if !f.Empty() {
		phase.Notef("%d of %d documents pass the filter", len(docs), len(all))
	}
	phase.End()
	if len(docs) == 0 {
		return res, nil
	}

	phase = res.Report.Begin(PhaseKeys)
	keys, err := e.resolveKeys(ctx, src, q)
	if err != nil {
		return nil, err
	}
	for i, atom := range q.Atoms {
		if atom.Kind != parser.Any {
			phase.Notef("String '%s' results in %d keyword matches", atom.Pattern, len(keys[i]))
		}
	}
	anchor := pickAnchor(q, keys)
	if anchor < 0 {
		phase.End()
		return res, nil
	}
	atom := q.Atoms[anchor]
	keep := func(p index.Posting) bool {
		return atom.MatchToken(p.Token, q.CaseSensitive)
	}
	var snaps []index.Snapshot
	for _, snap := range src.Snapshots(keys[anchor]) {
		if _, ok := docs[snap.Document().Path]; ok {
			snaps = append(snaps, snap)
		}
	}
	phase.Notef("%d candidate documents", len(snaps))
	phase.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	phase = res.Report.Begin(PhaseMatch)
	results := make([]MatchResult, len(snaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, snap := range snaps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lists := make([]index.PostingList, 0, len(keys[anchor]))
			for _, key := range keys[anchor] {
				lists = append(lists, snap.Key(key))
			}
			candidates := merger.Merge(lists, keep)
			results[i] = MatchResult{
				Document: snap.Document(),
				Spans:    matchDocument(q, anchor, candidates, snap.Postings()),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if len(r.Spans) == 0 {
			continue
		}
		res.Matches = append(res.Matches, r)
		res.MatchCount += len(r.Spans)
	}
	phase.Notef("%d matches in %d documents", res.MatchCount, len(res.Matches))
	phase.End()
	return res, nil
}

// resolveKeys returns, per atom, the vocabulary keys that can satisfy it.
// Literal and prefix atoms use a range of the sorted vocabulary; suffix and
// infix atoms share a single full scan. Any atoms get no keys.
func (e *Executor) resolveKeys(ctx context.Context, src Source, q *parser.Query) ([][]string, error) {
	keys := make([][]string, len(q.Atoms))
	var scan []int
	for i, atom := range q.Atoms {
		switch atom.Kind {
		case parser.Literal:
			if r := src.PrefixRange(atom.Stem()); len(r) > 0 && r[0] == atom.Stem() {
				keys[i] = r[:1]
			}
		case parser.Prefix:
			keys[i] = src.PrefixRange(atom.Stem())
		case parser.Suffix, parser.Infix:
			scan = append(scan, i)
		}
	}
	if len(scan) == 0 {
		return keys, nil
	}

	start := time.Now()
	for n, key := range src.Vocabulary() {
		if n%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, i := range scan {
			if q.Atoms[i].MatchKey(key) {
				keys[i] = append(keys[i], key)
			}
		}
	}
	e.metrics.ObserveVocabularyScan(time.Since(start))
	return keys, nil
}

// pickAnchor returns the atom with the fewest keys, or -1 when some atom
// matches no key at all and the query cannot match.
func pickAnchor(q *parser.Query, keys [][]string) int {
	anchor := -1
	for i, atom := range q.Atoms {
		if atom.Kind == parser.Any {
			continue
		}
		if len(keys[i]) == 0 {
			return -1
		}
		if anchor < 0 || len(keys[i]) < len(keys[anchor]) {
			anchor = i
		}
	}
	return anchor
}

// matchDocument verifies the candidate positions of one document version.
// tokens is that version's full token stream, indexed by ordinal. Matches are taken
// left to right and never overlap.
func matchDocument(q *parser.Query, anchor int, candidates, tokens index.PostingList) []Span {
	var spans []Span
	n := len(q.Atoms)
	next := 0
	for _, c := range candidates {
		first := c.Ordinal - anchor
		if first < next || first < 0 || first+n > len(tokens) {
			continue
		}
		seq := tokens[first : first+n]
		if !matchSequence(q, seq) {
			continue
		}
		spans = append(spans, Span{
			Start: seq[0].Offset,
			End:   seq[n-1].End(),
			Line:  seq[0].Line,
			Text:  spanText(seq),
		})
		next = first + n
	}
	return spans
}

func matchSequence(q *parser.Query, seq index.PostingList) bool {
	if !strings.HasSuffix(seq[0].Lead, q.Lead) {
		return false
	}
	last := len(seq) - 1
	for i, atom := range q.Atoms {
		tok := seq[i]
		if !atom.MatchToken(tok.Token, q.CaseSensitive) {
			return false
		}
		if i < last {
			if tok.Trail != atom.Sep {
				return false
			}
		} else if !strings.HasPrefix(tok.Trail, atom.Sep) {
			return false
		}
	}
	return true
}

// spanText renders matched tokens with the punctuation between them;
// whitespace-only gaps become a single space.
func spanText(seq index.PostingList) string {
	var sb strings.Builder
	for i, tok := range seq {
		if i > 0 {
			if sep := seq[i-1].Trail; sep != "" {
				sb.WriteString(sep)
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(tok.Token)
	}
	return sb.String()
}
