package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/extract"
	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

func testConfig() Config {
	return Config{Workers: 4, BatchSize: 2, QueueSize: 4}
}

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	st, err := docstore.Open(docstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.Load(context.Background(), nil)
	require.NoError(t, err)
	return st
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeInvoices(t *testing.T, dir string, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := range n {
		keys[i] = extracttest.Key(extracttest.ModelNFe, i+1)
		writeFile(t, dir, fmt.Sprintf("nfe-%03d.xml", i+1), extracttest.NFe(keys[i], "150.00"))
	}
	return keys
}

func count(t *testing.T, st *docstore.Store) int {
	t.Helper()
	n, err := st.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunValidAndMalformed(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 5)
	writeFile(t, dir, "bad-1.xml", extracttest.Malformed())
	writeFile(t, dir, "bad-2.xml", extracttest.Malformed())
	writeFile(t, dir, "other.xml", []byte(`<catalog><book/></catalog>`))
	writeFile(t, dir, "notes.txt", []byte("ignored"))

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(dir, walker.Recursive), nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.False(t, res.Partial)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 8, res.Progress.Scanned)
	assert.Equal(t, 5, res.Progress.Extracted)
	assert.Equal(t, 5, res.Progress.Committed)
	assert.Equal(t, 3, res.Progress.Errors)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, 5, count(t, st))

	last := res.Errors[2]
	assert.Equal(t, filepath.Join(dir, "other.xml"), last.SourcePath)
	assert.Equal(t, DetectionFailure, last.Kind)
	assert.NotEmpty(t, last.Message)
}

func TestReimportCountsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xml", extracttest.NFe(extracttest.Key(extracttest.ModelNFe, 1), "10.00"))

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)
	src := walker.New(dir, walker.Directory)

	res, err := p.Run(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.Committed)

	res, err = p.Run(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Progress.Committed)
	assert.Equal(t, 1, res.Progress.Duplicates)
	assert.Equal(t, 1, count(t, st))
}

func TestSameKeyDifferentContentReplaces(t *testing.T) {
	for _, batchSize := range []int{1, 10} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			dir := t.TempDir()
			key := extracttest.Key(extracttest.ModelNFe, 7)
			first := writeFile(t, dir, "a.xml", extracttest.NFe(key, "100.00"))
			second := writeFile(t, dir, "b.xml", extracttest.NFe(key, "200.00"))

			st := newStore(t)
			cfg := testConfig()
			cfg.BatchSize = batchSize
			p, err := New(st, cfg)
			require.NoError(t, err)

			_, err = p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
			require.NoError(t, err)
			assert.Equal(t, 1, count(t, st))

			doc, err := st.Get(context.Background(), fiscal.Key{Type: fiscal.Invoice, AccessKey: key})
			require.NoError(t, err)
			assert.Equal(t, "200", doc.TotalValue.Decimal.String())
			assert.Equal(t, second, doc.SourcePath)
			assert.Equal(t, []string{first, second}, doc.Sources)
		})
	}
}

func TestRevertedContentKeepsHistoryAcrossBatchSizes(t *testing.T) {
	for _, batchSize := range []int{1, 10} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			key := extracttest.Key(extracttest.ModelNFe, 8)
			original := extracttest.NFe(key, "100.00")

			firstDir := t.TempDir()
			p1 := writeFile(t, firstDir, "p1.xml", original)
			secondDir := t.TempDir()
			p2 := writeFile(t, secondDir, "p2.xml", extracttest.NFe(key, "200.00"))
			p3 := writeFile(t, secondDir, "p3.xml", original)

			st := newStore(t)
			cfg := testConfig()
			cfg.BatchSize = batchSize
			p, err := New(st, cfg)
			require.NoError(t, err)

			_, err = p.Run(context.Background(), walker.New(firstDir, walker.Directory), nil)
			require.NoError(t, err)

			res, err := p.Run(context.Background(), walker.New(secondDir, walker.Directory), nil)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Progress.Committed)
			assert.Zero(t, res.Progress.Duplicates)

			doc, err := st.Get(context.Background(), fiscal.Key{Type: fiscal.Invoice, AccessKey: key})
			require.NoError(t, err)
			assert.Equal(t, "100", doc.TotalValue.Decimal.String())
			assert.Equal(t, []string{p1, p2, p3}, doc.Sources)
		})
	}
}

func TestRepeatedContentInBatchIsDuplicate(t *testing.T) {
	dir := t.TempDir()
	key := extracttest.Key(extracttest.ModelNFe, 9)
	writeFile(t, dir, "a.xml", extracttest.NFe(key, "10.00"))
	writeFile(t, dir, "b.xml", extracttest.NFe(key, "10.00"))

	st := newStore(t)
	cfg := testConfig()
	cfg.BatchSize = 10
	p, err := New(st, cfg)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.Committed)
	assert.Equal(t, 1, res.Progress.Duplicates)
}

func TestEventsResolveWithinRun(t *testing.T) {
	dir := t.TempDir()
	key := extracttest.Key(extracttest.ModelNFe, 3)
	// The cancellation sorts before the invoice it cancels.
	writeFile(t, dir, "a-cancel.xml", extracttest.Cancellation(key))
	writeFile(t, dir, "b-invoice.xml", extracttest.NFe(key, "10.00"))

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Progress.Committed)

	doc, err := st.Get(context.Background(), fiscal.Key{Type: fiscal.Invoice, AccessKey: key})
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusCancelled, doc.Status)
}

func TestRunReadsArchives(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 1; i <= 3; i++ {
		w, err := zw.Create(fmt.Sprintf("notas/%d.xml", i))
		require.NoError(t, err)
		_, err = w.Write(extracttest.NFe(extracttest.Key(extracttest.ModelNFe, i), "1.00"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	archive := writeFile(t, dir, "lote.zip", buf.Bytes())

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(archive, walker.SingleFile), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Progress.Committed)

	doc, err := st.Get(context.Background(), fiscal.Key{Type: fiscal.Invoice, AccessKey: extracttest.Key(extracttest.ModelNFe, 2)})
	require.NoError(t, err)
	assert.Equal(t, archive+"!notas/2.xml", doc.SourcePath)
}

func TestCancellationKeepsCommittedBatches(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 10)

	st := newStore(t)
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	p, err := New(st, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := p.Run(ctx, walker.New(dir, walker.Directory), func(pr fiscal.Progress) {
		if pr.Committed >= 4 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, Cancelled, p.State())
	assert.True(t, res.Partial)
	assert.Equal(t, 4, res.Progress.Committed)
	assert.Equal(t, 4, count(t, st))
}

// stallingSource yields its entries and then waits for release.
type stallingSource struct {
	entries []walker.Entry
	release chan struct{}
}

func (s *stallingSource) Entries(ctx context.Context) iter.Seq2[walker.Entry, error] {
	return func(yield func(walker.Entry, error) bool) {
		for _, e := range s.entries {
			if !yield(e, nil) {
				return
			}
		}
		select {
		case <-s.release:
		case <-ctx.Done():
			yield(walker.Entry{}, ctx.Err())
		}
	}
}

func TestFlushIntervalCommitsPartialBatch(t *testing.T) {
	key := extracttest.Key(extracttest.ModelNFe, 5)
	src := &stallingSource{
		entries: []walker.Entry{{Path: "stalled/nfe.xml", Data: extracttest.NFe(key, "5.00")}},
		release: make(chan struct{}),
	}

	st := newStore(t)
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.FlushInterval = 20 * time.Millisecond
	p, err := New(st, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), src, nil)
		done <- err
	}()

	assert.Eventually(t, func() bool {
		n, err := st.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("run finished before the source was released: %v", err)
	default:
	}

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, count(t, st))
}

func TestStateHookMayReadState(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 2)

	st := newStore(t)
	var p *Pipeline
	var observed []State
	p, err := New(st, testConfig(), WithStateHook(func(s State) {
		observed = append(observed, p.State())
	}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("state hook deadlocked the run")
	}
	require.NotEmpty(t, observed)
	assert.Equal(t, Completed, observed[len(observed)-1])
}

func TestCancelledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 3)

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.Run(ctx, walker.New(dir, walker.Directory), nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, RunAborted, runErr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Cancelled, res.State)
	assert.Zero(t, count(t, st))
}

func TestRootUnreadable(t *testing.T) {
	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(filepath.Join(t.TempDir(), "missing"), walker.Recursive), nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, RunAborted, runErr.Kind)
	var rootErr *walker.RootError
	assert.ErrorAs(t, err, &rootErr)

	require.NotNil(t, res)
	assert.Equal(t, Completed, res.State)
	assert.True(t, res.Partial)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, RunAborted, res.Errors[0].Kind)
}

type flakyStore struct {
	mu     sync.Mutex
	calls  int
	failAt int
	inner  Store
}

func (s *flakyStore) Upsert(ctx context.Context, batch []docstore.Write) (docstore.UpsertResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls >= s.failAt
	s.mu.Unlock()
	if fail {
		return docstore.UpsertResult{}, errors.New("disk full")
	}
	return s.inner.Upsert(ctx, batch)
}

func TestStoreFailureAbortsRun(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 6)

	st := newStore(t)
	p, err := New(&flakyStore{failAt: 2, inner: st}, testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StoreWriteFailure, runErr.Kind)
	assert.True(t, runErr.Kind.Fatal())

	assert.Equal(t, Completed, res.State)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Progress.Committed)
	assert.Equal(t, 2, count(t, st))
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, StoreWriteFailure, res.Errors[len(res.Errors)-1].Kind)
}

func TestProgressIsMonotonic(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 9)
	writeFile(t, dir, "bad.xml", extracttest.Malformed())

	st := newStore(t)
	p, err := New(st, testConfig())
	require.NoError(t, err)

	var seen []fiscal.Progress
	res, err := p.Run(context.Background(), walker.New(dir, walker.Directory), func(pr fiscal.Progress) {
		seen = append(seen, pr)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		assert.GreaterOrEqual(t, cur.Scanned, prev.Scanned)
		assert.GreaterOrEqual(t, cur.Extracted, prev.Extracted)
		assert.GreaterOrEqual(t, cur.Duplicates, prev.Duplicates)
		assert.GreaterOrEqual(t, cur.Errors, prev.Errors)
		assert.GreaterOrEqual(t, cur.Committed, prev.Committed)
	}
	assert.Equal(t, res.Progress, seen[len(seen)-1])
	assert.Equal(t, 9, res.Progress.Committed)
}

func TestStateTransitions(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 3)

	var states []State
	st := newStore(t)
	p, err := New(st, testConfig(), WithStateHook(func(s State) { states = append(states, s) }))
	require.NoError(t, err)
	assert.Equal(t, Idle, p.State())

	_, err = p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	require.NoError(t, err)

	require.NotEmpty(t, states)
	assert.Equal(t, Scanning, states[0])
	assert.Equal(t, Completed, states[len(states)-1])
	assert.Contains(t, states, Committing)
	prev := Idle
	for _, s := range states {
		assert.True(t, canTransition(prev, s), "%s -> %s", prev, s)
		prev = s
	}
}

func TestCommitOrderFollowsWalkOrder(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 6; i++ {
		writeFile(t, dir, fmt.Sprintf("f%d.xml", i), []byte(fmt.Sprintf("<unknown n=\"%d\"/>", i)))
	}

	// Early files take longest so workers finish out of order.
	slow := func(payload []byte) (fiscal.Document, error) {
		n := 0
		fmt.Sscanf(string(payload), "<unknown n=\"%d\"/>", &n)
		time.Sleep(time.Duration(7-n) * 5 * time.Millisecond)
		return extract.Parse(payload)
	}

	st := newStore(t)
	p, err := New(st, testConfig(), WithParser(slow))
	require.NoError(t, err)

	res, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	require.NoError(t, err)
	require.Len(t, res.Errors, 6)
	for i, fe := range res.Errors {
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("f%d.xml", i+1)), fe.SourcePath)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	writeInvoices(t, dir, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(payload []byte) (fiscal.Document, error) {
		close(started)
		<-release
		return extract.Parse(payload)
	}

	st := newStore(t)
	p, err := New(st, testConfig(), WithParser(blocking))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
		done <- err
	}()

	<-started
	_, err = p.Run(context.Background(), walker.New(dir, walker.Directory), nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchSize = -1
	assert.Error(t, cfg.Validate())

	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unrecognized", extract.ErrUnrecognized, DetectionFailure},
		{"missing", &extract.ExtractionError{Kind: extract.MissingField, Field: "chave"}, MissingField},
		{"malformed", &extract.ExtractionError{Kind: extract.MalformedStructure, Field: "vNF"}, MalformedStructure},
		{"archive", &walker.Warning{Kind: walker.ArchiveRead}, ArchiveRead},
		{"loop", &walker.Warning{Kind: walker.SymlinkLoop}, SymlinkLoop},
		{"large", &walker.Warning{Kind: walker.TooLarge}, TooLarge},
		{"unreadable", &walker.Warning{Kind: walker.Unreadable}, Unreadable},
		{"other", errors.New("boom"), MalformedStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
