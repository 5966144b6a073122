// Package app wires the application together: an isolated logger, the HCL
// model loader, the assembly pipeline, and the bundle writer.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/epimorph/internal/assemble"
	"github.com/vk/epimorph/internal/ctxlog"
	"github.com/vk/epimorph/internal/hclmodel"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	loader *hclmodel.Loader
	config *Config
}

// NewApp is the constructor for the main application. Logs go to logW so
// the bundle written to outW stays machine-readable.
func NewApp(outW, logW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, logW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logger: logger,
		loader: hclmodel.NewLoader(),
		config: config,
	}
}

// Run loads the model, runs the expansion pipeline and writes the
// normalized bundle as JSON.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	m, err := a.loader.Load(ctx, a.config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	a.logger.Info("Model loaded.", "model", m.Name, "populations", len(m.Populations))

	bundle, err := assemble.Assemble(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to assemble model %q: %w", m.Name, err)
	}
	a.logger.Info("Model assembled.",
		"inputs", len(bundle.Inputs),
		"reactions", len(bundle.Reactions),
		"observations", len(bundle.Observations),
		"priors", len(bundle.Priors))

	out := a.outW
	if a.config.OutputPath != "" {
		f, err := os.Create(a.config.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	if a.config.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}
