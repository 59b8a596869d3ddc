// Package ingest runs import runs: it walks a source, detects and extracts
// every payload on a bounded worker pool and commits the documents to the
// store in deduplicated batches from a single committer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/extract"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

// Store is the write side of the document store.
type Store interface {
	Upsert(ctx context.Context, batch []docstore.Write) (docstore.UpsertResult, error)
}

// Source produces the entries of a run. *walker.Walker satisfies it.
type Source interface {
	Entries(ctx context.Context) iter.Seq2[walker.Entry, error]
}

// ParseFunc turns a payload into a document.
type ParseFunc func(payload []byte) (fiscal.Document, error)

// Recorder receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Recorder interface {
	FileProcessed(outcome string)
	RunFinished(state State, partial bool, elapsed time.Duration)
}

// Result summarizes a run. It is returned even when the run fails.
type Result struct {
	RunID      string          `json:"runId"`
	State      State           `json:"state"`
	Partial    bool            `json:"partial"`
	Progress   fiscal.Progress `json:"progress"`
	Errors     []FileError     `json:"errors"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Elapsed returns the duration of the run.
func (r *Result) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Pipeline runs imports into one store. A pipeline runs one import at a
// time; callers serialize overlapping imports.
type Pipeline struct {
	store    Store
	cfg      Config
	parse    ParseFunc
	logger   *slog.Logger
	recorder Recorder
	onState  func(State)

	running atomic.Bool
	// hookMu orders onState calls; mu guards state and is never held
	// while the hook runs.
	hookMu sync.Mutex
	mu     sync.Mutex
	state  State
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithParser replaces extract.Parse.
func WithParser(fn ParseFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.parse = fn
		}
	}
}

// WithStateHook is called on every state change, in order.
func WithStateHook(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// New creates a pipeline writing to store.
func New(store Store, cfg Config, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &Pipeline{
		store:  store,
		cfg:    cfg,
		parse:  extract.Parse,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the phase of the current or last run.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(to State) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.mu.Lock()
	if p.state == to || !canTransition(p.state, to) {
		p.mu.Unlock()
		return
	}
	p.state = to
	p.mu.Unlock()
	p.notify(to)
}

func (p *Pipeline) notify(s State) {
	if p.onState != nil {
		p.onState(s)
	}
}

// finish moves to a terminal state, passing through Cancelling when needed.
func (p *Pipeline) finish(to State) {
	cur := p.State()
	if to == Cancelled && cur != Cancelling {
		p.setState(Cancelling)
	}
	if to == Completed && cur == Cancelling {
		// Cancellation arrived after the last batch was committed.
		p.hookMu.Lock()
		defer p.hookMu.Unlock()
		p.mu.Lock()
		p.state = Completed
		p.mu.Unlock()
		p.notify(Completed)
		return
	}
	p.setState(to)
}

type job struct {
	seq   int
	entry walker.Entry
	err   error
}

type outcome struct {
	seq  int
	path string
	doc  fiscal.Document
	raw  []byte
	err  error
}

// Run imports everything src yields. Per-file failures are collected in
// the result and never stop the run. A store write failure or an
// unreadable root ends the run with a *RunError and a partial result.
// Cancelling ctx keeps the batches already committed and discards the
// batch being assembled.
func (p *Pipeline) Run(ctx context.Context, src Source, progress fiscal.ProgressFunc) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	res := &Result{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := p.logger.With("runId", res.RunID)
	logger.Info("import run started",
		"workers", p.cfg.Workers,
		"batchSize", p.cfg.BatchSize,
	)

	p.setState(Idle)
	p.setState(Scanning)
	stop := context.AfterFunc(ctx, func() { p.setState(Cancelling) })
	defer stop()

	c := &committer{
		p:        p,
		res:      res,
		logger:   logger,
		progress: progress,
		batch:    newBatch(p.cfg.BatchSize),
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, p.cfg.QueueSize)
	results := make(chan outcome, p.cfg.QueueSize)
	// window bounds the entries between the walker and the committer, so
	// the reorder buffer cannot grow past it.
	window := make(chan struct{}, p.cfg.QueueSize+p.cfg.Workers)

	g.Go(func() error {
		defer close(jobs)
		return p.scan(gctx, src, jobs, window)
	})

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			p.work(gctx, jobs, results)
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		return c.run(gctx, results, window)
	})

	err := g.Wait()
	res.FinishedAt = time.Now()

	var runErr *RunError
	switch {
	case errors.As(err, &runErr):
		res.Partial = true
		res.Errors = append(res.Errors, FileError{Kind: runErr.Kind, Message: runErr.Err.Error()})
		p.finish(Completed)
		res.State = Completed
		logger.Error("import run aborted", "kind", runErr.Kind, "error", runErr.Err)
	case err != nil && isCancellation(err) && ctx.Err() != nil:
		res.Partial = true
		p.finish(Cancelled)
		res.State = Cancelled
		if res.Progress.Scanned == 0 {
			runErr = &RunError{Kind: RunAborted, Err: err}
		}
		err = ctx.Err()
		logger.Warn("import run cancelled", "committed", res.Progress.Committed)
	case err != nil:
		runErr = &RunError{Kind: RunAborted, Err: err}
		res.Partial = true
		res.Errors = append(res.Errors, FileError{Kind: RunAborted, Message: err.Error()})
		p.finish(Completed)
		res.State = Completed
		logger.Error("import run failed", "error", err)
	default:
		p.finish(Completed)
		res.State = Completed
	}

	if p.recorder != nil {
		p.recorder.RunFinished(res.State, res.Partial, res.Elapsed())
	}
	logger.Info("import run finished",
		"state", res.State,
		"partial", res.Partial,
		"scanned", res.Progress.Scanned,
		"extracted", res.Progress.Extracted,
		"duplicates", res.Progress.Duplicates,
		"errors", res.Progress.Errors,
		"committed", res.Progress.Committed,
		"elapsed", res.Elapsed(),
	)

	if runErr != nil {
		return res, runErr
	}
	return res, err
}

// scan feeds the job queue in walk order. It blocks when the queue or the
// reorder window is full.
func (p *Pipeline) scan(ctx context.Context, src Source, jobs chan<- job, window chan<- struct{}) error {
	seq := 0
	for entry, err := range src.Entries(ctx) {
		var rootErr *walker.RootError
		if errors.As(err, &rootErr) {
			return &RunError{Kind: RunAborted, Err: rootErr}
		}
		if err != nil && isCancellation(err) {
			return err
		}

		select {
		case window <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case jobs <- job{seq: seq, entry: entry, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
		seq++
	}
	return ctx.Err()
}

// work runs Detect+Extract. It never touches the store.
func (p *Pipeline) work(ctx context.Context, jobs <-chan job, results chan<- outcome) {
	for j := range jobs {
		out := outcome{seq: j.seq, path: j.entry.Path, err: j.err}
		if out.err == nil {
			out.doc, out.err = p.safeParse(j.entry.Data)
			if out.err == nil {
				out.doc.SourcePath = j.entry.Path
				out.raw = j.entry.Data
			}
		}
		select {
		case results <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) safeParse(payload []byte) (doc fiscal.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return p.parse(payload)
}
