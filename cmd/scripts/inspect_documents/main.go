package main

import (
	"context"
	"fmt"

	"github.com/wuwenbin0122/kbagent/config"
	"github.com/wuwenbin0122/kbagent/internal/utils"
	"github.com/wuwenbin0122/kbagent/services"
)

func main() {
	// the credential is not needed to inspect the folder
	cfg, err := config.Load()
	if cfg == nil {
		panic(err)
	}

	aggregator := services.NewDocumentAggregator(utils.Logger().Sugar())
	kb, err := aggregator.Load(context.Background(), cfg.DocumentsDir)
	if err != nil {
		panic(err)
	}

	fmt.Printf("folder: %s\n", cfg.DocumentsDir)
	fmt.Println("documents:")
	for _, doc := range kb.Documents {
		fmt.Printf("- %s (%d bytes, modified %s)\n", doc.Name, doc.Size, doc.ModTime.Format("2006-01-02 15:04"))
	}

	for _, warning := range kb.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}

	fmt.Printf("%s, %d characters of context\n", kb.Status(), len(kb.Text))
}
