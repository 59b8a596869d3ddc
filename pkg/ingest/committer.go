package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// committer is the only stage that writes to the store. It consumes
// outcomes in walk order, batches them and reports progress.
type committer struct {
	p        *Pipeline
	res      *Result
	logger   *slog.Logger
	progress fiscal.ProgressFunc
	batch    *batch

	pending map[int]outcome
	next    int
}

func (c *committer) run(ctx context.Context, results <-chan outcome, window <-chan struct{}) error {
	c.pending = make(map[int]outcome)

	var tick <-chan time.Time
	if c.p.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(c.p.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return c.flush(ctx)
			}
			c.pending[out.seq] = out
			for {
				cur, ready := c.pending[c.next]
				if !ready {
					break
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				delete(c.pending, c.next)
				c.next++
				<-window
				if err := c.handle(ctx, cur); err != nil {
					return err
				}
			}

		case <-tick:
			if ctx.Err() == nil && c.batch.len() > 0 {
				if err := c.flush(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// handle accounts for one outcome and flushes a full batch.
func (c *committer) handle(ctx context.Context, out outcome) error {
	c.p.setState(Processing)
	c.res.Progress.Scanned++

	if out.err != nil {
		fe := fileError(out.path, out.err)
		c.res.Errors = append(c.res.Errors, fe)
		c.res.Progress.Errors++
		c.logger.Debug("file skipped", "path", fe.SourcePath, "kind", fe.Kind, "error", out.err)
		c.record(fe.Kind.String())
		c.report()
		return nil
	}

	c.res.Progress.Extracted++
	if !c.batch.add(out.doc, out.raw) {
		c.res.Progress.Duplicates++
		c.record("duplicate")
	} else {
		c.record("extracted")
	}
	c.report()

	if c.batch.len() < c.p.cfg.BatchSize {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.flush(ctx)
}

// flush commits the current batch. The write itself is never cancelled.
func (c *committer) flush(ctx context.Context) error {
	if c.batch.len() == 0 {
		return nil
	}
	c.p.setState(Committing)
	defer c.p.setState(Processing)

	size := c.batch.len()
	ur, err := c.p.store.Upsert(context.WithoutCancel(ctx), c.batch.writes)
	if err != nil {
		return &RunError{Kind: StoreWriteFailure, Err: err}
	}
	c.batch.reset()

	c.res.Progress.Committed += ur.Committed()
	c.res.Progress.Duplicates += ur.Duplicates
	c.logger.Debug("batch committed",
		"size", size,
		"inserted", ur.Inserted,
		"replaced", ur.Replaced,
		"duplicates", ur.Duplicates,
		"transitions", ur.Transitions,
		"deferred", ur.Deferred,
	)
	c.report()
	return nil
}

func (c *committer) report() {
	if c.progress != nil {
		c.progress(c.res.Progress)
	}
}

func (c *committer) record(outcome string) {
	if c.p.recorder != nil {
		c.p.recorder.FileProcessed(outcome)
	}
}
