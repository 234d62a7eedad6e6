package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/internal/models"
)

const documentExt = ".txt"

var (
	ErrDocumentsNotFound   = errors.New("documents folder not found")
	ErrNoDocuments         = errors.New("no .txt files found in documents folder")
	ErrNoReadableDocuments = errors.New("no readable .txt files in documents folder")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DocumentAggregator reads every .txt file of a folder into one knowledge base.
// It keeps no cache; callers decide how long a result lives.
type DocumentAggregator struct {
	logger *zap.SugaredLogger
}

func NewDocumentAggregator(logger *zap.SugaredLogger) *DocumentAggregator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DocumentAggregator{logger: logger}
}

// Load concatenates the documents of dir, each prefixed with a filename header.
// Unreadable files are skipped and reported in KnowledgeBase.Warnings.
func (a *DocumentAggregator) Load(ctx context.Context, dir string) (*models.KnowledgeBase, error) {
	names, err := ListDocuments(dir)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, ErrNoDocuments
	}

	kb := &models.KnowledgeBase{
		Documents: make([]models.Document, 0, len(names)),
	}

	var text strings.Builder
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := readDocument(filepath.Join(dir, name))
		if err != nil {
			warning := fmt.Sprintf("Could not read %s: %v", name, err)
			kb.Warnings = append(kb.Warnings, warning)
			a.logger.Warnw("skipping document", "file", name, "error", err)
			continue
		}

		text.WriteString("\n\n=== Document: ")
		text.WriteString(doc.Name)
		text.WriteString(" ===\n")
		text.WriteString(doc.Content)

		kb.Documents = append(kb.Documents, *doc)
	}

	if len(kb.Documents) == 0 {
		return nil, fmt.Errorf("%w: none of %d files could be read", ErrNoReadableDocuments, len(names))
	}

	kb.Text = text.String()
	kb.LoadedAt = time.Now().UTC()

	a.logger.Infow("knowledge base loaded", "dir", dir, "documents", kb.Count(), "skipped", len(kb.Warnings), "bytes", len(kb.Text))

	return kb, nil
}

// ListDocuments returns the .txt file names directly inside dir, sorted by name.
// Subdirectories are ignored.
func ListDocuments(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentsNotFound, dir)
		}
		return nil, fmt.Errorf("stat documents folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDocumentsNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list documents folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsDocumentFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// IsDocumentFile reports whether name carries the .txt extension, ignoring case.
func IsDocumentFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), documentExt)
}

func readDocument(path string) (*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errors.New("invalid UTF-8 content")
	}

	doc := &models.Document{
		Name:    filepath.Base(path),
		Path:    path,
		Content: string(data),
		Size:    int64(len(data)),
	}

	if info, err := os.Stat(path); err == nil {
		doc.ModTime = info.ModTime()
	}

	return doc, nil
}
