package handlers

import (
	"errors"

	"github.com/wuwenbin0122/kbagent/services"
)

// LoadErrorMessage turns a knowledge base load failure into the sentence shown to the user.
func LoadErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, services.ErrDocumentsNotFound):
		return "Documents folder not found"
	case errors.Is(err, services.ErrNoDocuments):
		return "No .txt files found in documents folder"
	case errors.Is(err, services.ErrNoReadableDocuments):
		return "No readable .txt files in documents folder"
	default:
		return "Could not load documents: " + err.Error()
	}
}
