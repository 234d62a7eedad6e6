package models

import (
	"fmt"
	"time"
)

// Document is one plain-text file read from the documents folder.
type Document struct {
	Name    string
	Path    string
	Content string
	Size    int64
	ModTime time.Time
}

// KnowledgeBase is the concatenation of every readable document at load time.
// It is built once and never patched per document.
type KnowledgeBase struct {
	Text      string
	Documents []Document
	Warnings  []string
	LoadedAt  time.Time
}

func (kb *KnowledgeBase) Count() int {
	if kb == nil {
		return 0
	}
	return len(kb.Documents)
}

// Status is the human-readable load summary shown after aggregation.
func (kb *KnowledgeBase) Status() string {
	return fmt.Sprintf("Loaded %d documents", kb.Count())
}
