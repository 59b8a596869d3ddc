package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/duynguyendang/fiscalxml/internal/config"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

func main() {
	files := flag.Int("files", 5000, "number of synthetic invoices")
	workers := flag.Int("workers", 0, "worker count (default GOMAXPROCS)")
	batch := flag.Int("batch", 0, "batch size (default from configuration)")
	configFile := flag.String("config", "", "configuration file supplying store and ingest tuning")
	flag.Parse()

	ctx := context.Background()

	dir, err := os.MkdirTemp("", "fiscalxml-perf-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	srcDir, err := os.MkdirTemp("", "fiscalxml-src-perf-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(srcDir)

	appCfg, err := config.Load(*configFile, "")
	if err != nil {
		log.Fatal(err)
	}
	appCfg.Store.DataDir = dir
	appCfg.Store.Workspace = "bench"

	st, err := docstore.Open(appCfg.StoreConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	cfg := appCfg.IngestConfig()
	if *batch > 0 {
		cfg.BatchSize = *batch
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	p, err := ingest.New(st, cfg)
	if err != nil {
		log.Fatal(err)
	}
	src := walker.New(srcDir, walker.Recursive, appCfg.WalkerOptions()...)

	// 1. Generate invoices, a hundred per directory
	fmt.Printf("Creating %d invoices...\n", *files)
	for i := 1; i <= *files; i++ {
		sub := filepath.Join(srcDir, fmt.Sprintf("%03d", i/100))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			log.Fatal(err)
		}
		key := extracttest.Key(extracttest.ModelNFe, i)
		if err := os.WriteFile(filepath.Join(sub, key+".xml"), extracttest.NFe(key, fmt.Sprintf("%d.00", i)), 0o644); err != nil {
			log.Fatal(err)
		}
	}

	runImport := func(label string) {
		res, err := p.Run(ctx, src, nil)
		if err != nil {
			log.Fatal(err)
		}
		rate := float64(res.Progress.Scanned) / res.Elapsed().Seconds()
		fmt.Printf("%s took %v (%.0f files/s, committed %d, duplicates %d)\n",
			label, res.Elapsed().Round(time.Millisecond), rate, res.Progress.Committed, res.Progress.Duplicates)
	}

	// 2. First import
	runImport("Initial import")

	// 3. Second import (no changes)
	runImport("Second import (unchanged)")

	// 4. Update one invoice
	key := extracttest.Key(extracttest.ModelNFe, 1)
	if err := os.WriteFile(filepath.Join(srcDir, "000", key+".xml"), extracttest.NFe(key, "0.01"), 0o644); err != nil {
		log.Fatal(err)
	}
	runImport("Third import (1 change)")

	// 5. Load and query
	start := time.Now()
	n, err := st.Load(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Load of %d documents took %v\n", n, time.Since(start).Round(time.Millisecond))

	start = time.Now()
	docs, err := docstore.Collect(st.Query(ctx, docstore.Filter{Sort: docstore.SortIssueDateDesc, Limit: 100}))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Sorted page of %d took %v\n", len(docs), time.Since(start).Round(time.Millisecond))

	// Verify the changed invoice was replaced
	changed, err := st.Get(ctx, fiscalKey(key))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Changed invoice now totals %s (sources %d)\n", changed.TotalValue.Decimal.StringFixed(2), len(changed.Sources))
}

func fiscalKey(accessKey string) fiscal.Key {
	return fiscal.Key{Type: fiscal.Invoice, AccessKey: accessKey}
}
