package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/internal/license"
	"github.com/duynguyendang/fiscalxml/internal/manager"
	apperrors "github.com/duynguyendang/fiscalxml/pkg/common/errors"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/export"
	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

func newService(t *testing.T, gate license.Gate) *Service {
	t.Helper()
	cfg := docstore.DefaultConfig("")
	cfg.BlockCacheSize = 4 << 20
	cfg.IndexCacheSize = 4 << 20
	cfg.SyncWrites = false
	cfg.Profile = "Low-Mem"

	sm, err := manager.NewStoreManager(t.TempDir(), *cfg, 2)
	require.NoError(t, err)
	t.Cleanup(sm.CloseAll)

	return New(sm, gate, Settings{
		Ingest: ingest.Config{Workers: 2, BatchSize: 10, QueueSize: 4},
	})
}

func fixtureDir(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	keys := []string{
		extracttest.Key(extracttest.ModelNFe, 1),
		extracttest.Key(extracttest.ModelNFe, 2),
	}
	files := map[string][]byte{
		"a.xml":      extracttest.NFe(keys[0], "100.00"),
		"b.xml":      extracttest.NFe(keys[1], "250.00"),
		"c.xml":      extracttest.Cancellation(keys[1]),
		"broken.xml": extracttest.Malformed(),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir, keys
}

func TestImportLoadQuery(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)
	dir, keys := fixtureDir(t)

	res, err := svc.Import(ctx, "acme", dir, walker.Directory, nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.Completed, res.State)
	assert.Equal(t, 3, res.Progress.Committed)
	assert.Equal(t, 1, res.Progress.Errors)

	ws, err := svc.Workspaces()
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "acme", ws[0].ID)

	// Queries need an explicit load.
	_, err = svc.List(ctx, "acme", docstore.Filter{})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.ErrorIs(t, err, docstore.ErrNotLoaded)

	n, err := svc.Load(ctx, "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := svc.List(ctx, "acme", docstore.Filter{Types: []fiscal.DocumentType{fiscal.Invoice}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	doc, err := svc.Get(ctx, "acme", fiscal.Key{Type: fiscal.Invoice, AccessKey: keys[1]})
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusCancelled, doc.Status)

	raw, err := svc.Raw(ctx, "acme", fiscal.Key{Type: fiscal.Invoice, AccessKey: keys[0]})
	require.NoError(t, err)
	assert.Contains(t, string(raw), keys[0])

	st, err := svc.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Documents)
	assert.Equal(t, "100", st.TotalValue.String())

	deleted, err := svc.Delete(ctx, "acme", keys[0])
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = svc.Get(ctx, "acme", fiscal.Key{Type: fiscal.Invoice, AccessKey: keys[0]})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExportThroughService(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)
	dir, keys := fixtureDir(t)

	_, err := svc.Import(ctx, "acme", dir, walker.Directory, nil)
	require.NoError(t, err)
	_, err = svc.Load(ctx, "acme", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := svc.ExportTo(ctx, &buf, "acme", docstore.Filter{Types: []fiscal.DocumentType{fiscal.Invoice}, Sort: docstore.SortIssueDateAsc},
		export.CSV, []export.Column{{Field: "accessKey"}, {Field: "status"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, buf.String(), keys[1]+",cancelled")

	dest := filepath.Join(t.TempDir(), "out.xlsx")
	n, err = svc.Export(ctx, "acme", docstore.Filter{}, export.XLSX, nil, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.FileExists(t, dest)

	_, err = svc.ExportTo(ctx, &buf, "acme", docstore.Filter{}, export.CSV, []export.Column{{Field: "nope"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLicenseGate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, license.Static{Key: "not-a-key"})
	dir, _ := fixtureDir(t)

	_, err := svc.Import(ctx, "acme", dir, walker.Directory, nil)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.Export(ctx, "acme", docstore.Filter{}, export.CSV, nil, filepath.Join(t.TempDir(), "x.csv"))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestUnknownWorkspace(t *testing.T) {
	svc := newService(t, nil)

	_, err := svc.Stats(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = svc.CreateWorkspace(manager.WorkspaceMetadata{ID: "../escape"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Delete(context.Background(), "missing", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestImportAfterWorkspaceEviction(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)
	dir, _ := fixtureDir(t)

	// The manager keeps two stores open, so c evicts a.
	for _, ws := range []string{"a", "b", "c"} {
		res, err := svc.Import(ctx, ws, dir, walker.Directory, nil)
		require.NoError(t, err, ws)
		assert.Equal(t, 3, res.Progress.Committed, ws)
	}

	more := t.TempDir()
	key := extracttest.Key(extracttest.ModelNFe, 3)
	require.NoError(t, os.WriteFile(filepath.Join(more, "d.xml"), extracttest.NFe(key, "75.00"), 0o644))

	res, err := svc.Import(ctx, "a", more, walker.Directory, nil)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, 1, res.Progress.Committed)

	_, err = svc.Load(ctx, "a", nil)
	require.NoError(t, err)
	doc, err := svc.Get(ctx, "a", fiscal.Key{Type: fiscal.Invoice, AccessKey: key})
	require.NoError(t, err)
	assert.Equal(t, "75", doc.TotalValue.Decimal.String())
}

func TestQuerySurvivesEviction(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)
	dir, _ := fixtureDir(t)

	_, err := svc.Import(ctx, "a", dir, walker.Directory, nil)
	require.NoError(t, err)
	_, err = svc.Load(ctx, "a", nil)
	require.NoError(t, err)

	var seen int
	for _, err := range svc.Query(ctx, "a", docstore.Filter{}) {
		require.NoError(t, err)
		if seen == 0 {
			for _, ws := range []string{"b", "c"} {
				_, err := svc.Import(ctx, ws, dir, walker.Directory, nil)
				require.NoError(t, err, ws)
			}
		}
		seen++
	}
	assert.Greater(t, seen, 1)
}
