package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ovokpus/regcopilot/internal/chunk"
	"github.com/ovokpus/regcopilot/internal/docparse"
	"github.com/ovokpus/regcopilot/internal/kb"
	"github.com/ovokpus/regcopilot/internal/output"
	"github.com/ovokpus/regcopilot/internal/store"
)

func newPreprocessCmd() *cobra.Command {
	var (
		inDir   string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Parse a corpus directory into a seed snapshot",
		Long: `Preprocess walks a directory tree of regulatory documents, parses and
chunks every supported file, and writes the snapshot the server seeds from
at startup.

Snapshots carry no vectors: embeddings depend on the API key the server
binds at runtime, so they are computed there.`,
		Example: `  # Chunk the corpus into the default snapshot file
  regcopilot preprocess --in ./regulatory_docs

  # Write to an explicit path
  regcopilot preprocess --in ./regulatory_docs --out ./data/corpus_snapshot.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPreprocess(ctx, cmd, inDir, outPath)
		},
	}

	cmd.Flags().StringVar(&inDir, "in", "", "Corpus directory to preprocess (required)")
	cmd.Flags().StringVar(&outPath, "out", "corpus_snapshot.json", "Snapshot output path")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func runPreprocess(ctx context.Context, cmd *cobra.Command, inDir, outPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	splitter := chunk.NewSplitterWithOptions(chunk.Options{
		Size:    cfg.Chunking.ChunkSize,
		Overlap: cfg.Chunking.ChunkOverlap,
	})

	out := output.New(cmd.OutOrStdout())

	files, err := corpusFiles(inDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported documents under %s (supported: %s)",
			inDir, strings.Join(docparse.SupportedExtensions(), ", "))
	}

	out.Statusf("🔄", "Preprocessing %d files from %s", len(files), inDir)

	var (
		entries    []store.SnapshotEntry
		subfolders = make(map[string]string)
		skipped    int
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		fragments, err := docparse.Parse(ctx, f.path, f.name, "")
		if err != nil {
			out.Warningf("%s: %v", f.rel, err)
			skipped++
			continue
		}
		chunks := splitter.SplitFragments(fragments)
		if len(chunks) == 0 {
			out.Warningf("%s: no extractable text, skipped", f.rel)
			skipped++
			continue
		}

		for _, c := range chunks {
			entries = append(entries, store.SnapshotEntry{Text: c.Text, Metadata: c.Metadata})
		}
		subfolders[f.name] = f.subfolder
		out.Statusf("📄", "%s: %d chunks", f.rel, len(chunks))
	}

	snap := kb.BuildSnapshot(entries)
	// The manifest is derived from chunk metadata, which does not know where
	// in the tree a file lived; patch the subfolders back in.
	for i := range snap.Metadata.ProcessedFiles {
		snap.Metadata.ProcessedFiles[i].Subfolder = subfolders[snap.Metadata.ProcessedFiles[i].Filename]
	}

	if err := kb.WriteSnapshot(outPath, snap); err != nil {
		return err
	}

	out.Successf("Wrote %s: %d documents, %d chunks (%d skipped)",
		outPath, snap.Metadata.TotalDocuments, snap.Metadata.TotalChunks, skipped)
	return nil
}

type corpusFile struct {
	path      string
	rel       string
	name      string
	subfolder string
}

// corpusFiles lists the supported documents under root, sorted by relative
// path so snapshots are reproducible run to run. Hidden files and
// directories are not corpus content.
func corpusFiles(root string) ([]corpusFile, error) {
	var files []corpusFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := strings.HasPrefix(d.Name(), ".") && path != root
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !docparse.IsSupported(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		subfolder := filepath.Dir(rel)
		if subfolder == "." {
			subfolder = ""
		}
		files = append(files, corpusFile{path: path, rel: rel, name: d.Name(), subfolder: subfolder})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}
