package emitter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// Config controls corpus emission.
type Config struct {
	MaxTokens int // per spec.md §4.10's T; default DefaultMaxTokens
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
}

// Emitter renders ObjectRecords to Markdown, splits the result into
// token-bounded chunks, and writes the corpus as JSONL plus a schema
// snapshot, mirroring enhanced_document_organizer.py's
// save_enhanced_corpus (corpus file + summary file) but chunked instead
// of one document per object.
type Emitter struct {
	cfg     Config
	counter *tokenCounter
	logger  *ingestlog.Logger
}

// New constructs an Emitter. It loads the tiktoken encoding eagerly so
// a broken encoding table surfaces at startup rather than mid-run.
func New(cfg Config, logger *ingestlog.Logger) (*Emitter, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	counter, err := newTokenCounter()
	if err != nil {
		return nil, err
	}
	return &Emitter{cfg: cfg, counter: counter, logger: logger.With("component", "emitter")}, nil
}

// Emit renders every record, splits it into chunks, writes the chunks in
// (ref, part_index) order as JSONL at corpusPath, writes the full
// working-set snapshot (every ObjectRecord, keyed by ref) as canonical
// JSON at schemaPath, and — when markdownDir is non-empty — writes one
// Markdown file per object underneath it, mirroring
// enhanced_document_organizer.py's save_enhanced_corpus (which writes a
// schema file, a markdown-per-object tree, and the corpus file
// side-by-side rather than folding everything into one summary digest).
func (e *Emitter) Emit(records map[model.ObjectRef]model.ObjectRecord, corpusPath, schemaPath, markdownDir string) (int, error) {
	refs := make([]model.ObjectRef, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	var allChunks []model.Chunk
	for _, ref := range refs {
		rec := records[ref]
		doc := RenderDocument(rec)
		chunks, err := Split(ref, rec.ContentHash, doc, e.cfg.MaxTokens, e.counter)
		if err != nil {
			return 0, fmt.Errorf("split document for %s: %w", ref, err)
		}
		allChunks = append(allChunks, chunks...)

		if markdownDir != "" {
			if err := writeMarkdownFile(markdownDir, ref, doc); err != nil {
				return 0, err
			}
		}
	}

	if err := writeJSONL(corpusPath, allChunks); err != nil {
		return 0, err
	}

	if err := writeSchema(schemaPath, records); err != nil {
		return 0, err
	}

	e.logger.Info("emitted corpus", "objects", len(refs), "chunks", len(allChunks), "corpus_path", corpusPath, "schema_path", schemaPath)
	return len(allChunks), nil
}

func writeJSONL(path string, chunks []model.Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create corpus file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode chunk %s: %w", c.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush corpus file: %w", err)
	}
	return f.Sync()
}

// writeSchema writes the full working-set snapshot: every ObjectRecord
// produced this run, keyed by ref, exactly as spec.md §6's canonical
// schema.json requires (not a chunk-count digest).
func writeSchema(path string, records map[model.ObjectRef]model.ObjectRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema snapshot: %w", err)
	}
	return nil
}

// writeMarkdownFile writes one object's rendered document to
// dir/<ref>.md, creating dir if it doesn't already exist.
func writeMarkdownFile(dir string, ref model.ObjectRef, doc string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create markdown dir: %w", err)
	}
	path := filepath.Join(dir, string(ref)+".md")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write markdown for %s: %w", ref, err)
	}
	return nil
}
