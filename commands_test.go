package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := &cli{}
	defer c.close()

	var out, errOut bytes.Buffer
	root := newRootCmd(c)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportListExport(t *testing.T) {
	t.Chdir(t.TempDir())
	src := t.TempDir()
	data := t.TempDir()
	key := extracttest.Key(extracttest.ModelNFe, 1)
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.xml"), extracttest.NFe(key, "99.90"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.xml"), extracttest.Malformed(), 0o644))

	base := []string{"--data", data, "--workspace", "acme", "--log-level", "error"}

	out, err := run(t, append(base, "import", "-q", src)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "committed 1")
	assert.Contains(t, out, "b.xml")

	out, err = run(t, append(base, "list", "--type", "nfe")...)
	require.NoError(t, err)
	assert.Contains(t, out, key)
	assert.Contains(t, out, "99.90")

	dest := filepath.Join(t.TempDir(), "out.csv")
	out, err = run(t, append(base, "export", dest, "--columns", "accessKey,totalValue")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rows written")
	csv, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(csv), key+";99.90")

	out, err = run(t, append(base, "stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "documents  1")

	out, err = run(t, append(base, "workspace", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "acme")

	_, err = run(t, append(base, "delete", key)...)
	require.NoError(t, err)
	_, err = run(t, append(base, "show", "nfe", key)...)
	assert.Error(t, err)
}

func TestExportListFields(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := run(t, "--data", t.TempDir(), "export", "--list-fields")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "accessKey\n"))
	assert.Contains(t, out, "item.ncm")
}

func TestInvalidFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "--data", t.TempDir(), "--log-level", "loud", "stats")
	assert.Error(t, err)

	_, err = run(t, "--data", t.TempDir(), "import", "--mode", "sideways", ".")
	assert.Error(t, err)
}
