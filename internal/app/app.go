// Package app wires the application together: provider setup, corpus
// loading, index construction, and the HTTP server.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/advisorhq/advisor/internal/api"
	"github.com/advisorhq/advisor/internal/config"
	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/pipeline"
	"github.com/advisorhq/advisor/internal/search"
)

// App is the application container. Setup populates it; Close releases
// everything it holds.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Corpus  *corpus.Repository
	Builder *index.Builder
	Index   *index.Index

	Engine   *search.Engine
	Selector *search.Selector
	Messages *message.Store
	Pipeline *pipeline.Pipeline
	Server   *api.Server
}

// Close shuts down all resources.
func (a *App) Close() error {
	if a.Messages != nil {
		if err := a.Messages.Close(); err != nil {
			a.Logger.Warn("closing message store", "error", err)
			return err
		}
	}
	return nil
}
