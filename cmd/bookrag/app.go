package main

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/chunker"
	"bookrag/internal/config"
	"bookrag/internal/embedding"
	"bookrag/internal/extract"
	"bookrag/internal/generate"
	"bookrag/internal/service"
	"bookrag/internal/vectorstore/disk"
	"bookrag/internal/vectorstore/flat"
)

type app struct {
	cfg      *config.AppConfig
	cfgPath  string
	index    *flat.Index
	pipeline *service.Pipeline
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path == "" {
		return config.LoadDefault()
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// initLogger starts the process logger. Interactive commands turn off console
// output so log lines do not tear the terminal UI.
func initLogger(cfg *config.AppConfig, interactive bool) {
	console := cfg.Log.Console && !interactive
	logger.Init(
		cfg.Log.File,
		cfg.Log.Level,
		cfg.Log.FileCount,
		cfg.Log.FileSizeMB,
		cfg.Log.KeepDays,
		console,
	)
}

func newApp(ctx context.Context, cfgPath string, interactive bool) (*app, error) {
	cfg, path, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	initLogger(cfg, interactive)
	return buildApp(ctx, cfg, path)
}

func buildApp(ctx context.Context, cfg *config.AppConfig, path string) (*app, error) {
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", path),
		zap.String("document", cfg.Document.Path),
		zap.String("embedder", cfg.Embedder.Type),
		zap.String("generator", cfg.Generator.Type))

	ch, err := chunker.NewWordChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}
	loader, err := embedding.NewLoader(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	emb := embedding.New(cfg.Embedder.Model, cfg.Embedder.BatchSize, loader)
	idx := flat.New(disk.NewStorage(cfg.Index.Dir), emb.ModelID())
	gen, err := generate.New(ctx, cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	p, err := service.NewPipeline(service.Deps{
		Extractor:    extract.Default(),
		Chunker:      ch,
		Embedder:     emb,
		Index:        idx,
		Generator:    gen,
		DocumentPath: cfg.Document.Path,
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, cfgPath: path, index: idx, pipeline: p}, nil
}
