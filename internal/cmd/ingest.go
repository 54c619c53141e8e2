package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/retrieval"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file ...]",
	Short: "Load knowledge-base documents into the embedded index",
	Long: `Ingest reads plain-text files into the embedded knowledge index.
Blank-line-separated blocks within a file become individual chunks; the
file name becomes the source id.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.RetrievalURL != "" {
		return fmt.Errorf("an external retrieval service is configured; ingest there instead")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	var docs []retrieval.Document
	for _, path := range args {
		fileDocs, err := readDocuments(path)
		if err != nil {
			return err
		}
		docs = append(docs, fileDocs...)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no non-empty chunks found")
	}

	if err := eng.index.Ingest(ctx, docs); err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}
	fmt.Printf("Ingested %d chunks; index now holds %d.\n", len(docs), eng.index.Count())
	return nil
}

// readDocuments splits a file into blank-line-separated chunks.
func readDocuments(path string) ([]retrieval.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sourceID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var docs []retrieval.Document
	var block strings.Builder
	flush := func() {
		text := strings.TrimSpace(block.String())
		block.Reset()
		if text != "" {
			docs = append(docs, retrieval.Document{Content: text, SourceID: sourceID})
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block.WriteString(line)
		block.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	flush()
	return docs, nil
}
