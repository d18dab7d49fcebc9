// xena loads genomic/clinical matrix files into a xenadb database.
//
// Usage: xena -d <path> [-p] file...
//        xena -d <path> -t <name> <samples> <probes>
//        xena -s
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/ucsc-xena/xenadb/xena"
	"github.com/ucsc-xena/xenadb/xena/loader"
)

var (
	serverFlag    = flag.Bool("s", false, "Run in server mode (not implemented in this build)")
	probemapFlag  = flag.Bool("p", false, "Treat positional file arguments as probemaps")
	dataPathFlag  = flag.String("d", "", "Path to the xenadb database file (required; \":memory:\" for an in-process instance)")
	testDataFlag  = flag.Bool("t", false, "Synthesize a test matrix instead of loading files: -t <name> <samples> <probes>")
	forceLoadFlag = flag.Bool("force", false, "Reload a dataset even if its sources are unchanged")
)

func main() {
	flag.Parse()
	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if *serverFlag {
		log.Printf("xena: server mode not implemented in this build")
		return
	}
	if *dataPathFlag == "" {
		log.Fatal("xena: -d <path> is required")
	}

	db, err := xena.Open(ctx, *dataPathFlag, xena.Options{})
	if err != nil {
		log.Fatalf("xena: open %s: %v", *dataPathFlag, err)
	}
	defer db.Close()

	if *testDataFlag {
		runSynthetic(ctx, db, flag.Args())
		return
	}

	runLoadFiles(flag.Args())
}

// runSynthetic implements -t <name> <samples> <probes>.
func runSynthetic(ctx context.Context, db *xena.Db, args []string) {
	if len(args) != 3 {
		log.Fatal("xena: -t requires exactly <name> <samples> <probes>")
	}
	name := args[0]
	samples, err := strconv.Atoi(args[1])
	if err != nil || samples <= 0 {
		log.Fatalf("xena: invalid sample count %q", args[1])
	}
	probes, err := strconv.Atoi(args[2])
	if err != nil || probes <= 0 {
		log.Fatalf("xena: invalid probe count %q", args[2])
	}

	res, err := db.WriteMatrix(ctx, name, nil, loader.Metadata{}, syntheticMatrixSource(samples, probes), nil, *forceLoadFlag)
	if err != nil {
		log.Fatalf("xena: synthesize %q: %v", name, err)
	}
	log.Printf("xena: wrote synthetic dataset %q: %d rows, %d warnings", name, res.Rows, len(res.Warnings))
}

// syntheticMatrixSource generates a deterministic sampleID column plus
// `probes` float columns, `samples` rows each, for exercising the loader and
// query paths without a real parser.
func syntheticMatrixSource(samples, probes int) loader.MatrixSource {
	return func() ([]loader.Field, error) {
		fields := make([]loader.Field, 0, probes+1)

		sampleRows := make([]loader.Row, samples)
		for i := range sampleRows {
			sampleRows[i] = loader.Row{Category: fmt.Sprintf("sample%d", i)}
		}
		fields = append(fields, loader.Field{
			Name:      "sampleID",
			ValueType: loader.ValueTypeCategory,
			Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(sampleRows), nil },
		})

		rnd := rand.New(rand.NewSource(1))
		for p := 0; p < probes; p++ {
			probeName := fmt.Sprintf("probe%d", p)
			rows := make([]loader.Row, samples)
			for i := range rows {
				rows[i] = loader.Row{Float: float32(rnd.NormFloat64())}
			}
			fields = append(fields, loader.Field{
				Name:      probeName,
				ValueType: loader.ValueTypeFloat,
				Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(rows), nil },
			})
		}
		return fields, nil
	}
}

// runLoadFiles implements the positional-file-argument path. File-format
// detection and parsing are out of scope (spec.md §1); each file is
// canonicalized and checked against the data root, then reported as
// unparsed. A per-file failure is logged and does not abort the batch
// (spec.md §4.5's error-handling note).
func runLoadFiles(files []string) {
	if len(files) == 0 {
		log.Fatal("xena: no input files given (use -t to synthesize test data instead)")
	}

	dataRoot, err := canonicalize(filepath.Dir(*dataPathFlag))
	if err != nil {
		log.Fatalf("xena: canonicalize data root: %v", err)
	}

	kind := "matrix"
	if *probemapFlag {
		kind = "probemap"
	}

	for _, path := range files {
		if err := checkInDataPath(dataRoot, path); err != nil {
			log.Printf("xena: %s: %v", path, err)
			continue
		}
		log.Printf("xena: %s %s: file-format parsing is not implemented in this build; "+
			"supply a loader.MatrixSource directly via the xena package API", kind, path)
	}
}

// canonicalize resolves path to an absolute, symlink-free form.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// checkInDataPath rejects any candidate path that canonicalizes to
// somewhere outside root (spec.md §9's in-data-path check).
func checkInDataPath(root, candidate string) error {
	resolved, err := canonicalize(candidate)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return fmt.Errorf("relativize against data root: %w", err)
	}
	if rel == ".." || (len(rel) >= 3 && rel[:3] == "../") {
		return fmt.Errorf("path %q escapes data root %q", candidate, root)
	}
	return nil
}
