// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command rxsage starts the RxSage prescription digitization API server.
//
// The server extracts structured prescriptions from free text via an LLM,
// resolves every medicine, lab test, radiology order, and procedure against
// the SKU catalogs, and persists the result for the review frontend.
//
// Usage:
//
//	go run ./cmd/rxsage
//	go run ./cmd/rxsage -port 9090 -snapshot-dir ./snapshots
//
// Required environment:
//
//	GROQ_API_KEY - Groq API key for extraction and reranking
//
// Optional environment:
//
//	LLM_PROVIDER - "groq" (default) or "openai" (then OPENAI_API_KEY,
//	               OPENAI_MODEL, and RERANK_MODEL apply)
//	RERANK_MODEL - model for the clinical tie-break call
//	EMBEDDING_PROVIDER - "ollama" (default) or "openai"
//	EMBEDDING_SERVICE_URL, EMBEDDING_MODEL, EMBEDDING_API_KEY
//	RX_DATA_DIR - BadgerDB directory for prescription records
//
// Example requests:
//
//	curl http://localhost:5000/health
//
//	curl -X POST http://localhost:5000/extract \
//	  -H "Content-Type: application/json" \
//	  -d '{"prescription": "Tab Amlodipine 5mg OD x 30 days"}'
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rxsage/rxsage/services/embedding"
	"github.com/rxsage/rxsage/services/extraction"
	"github.com/rxsage/rxsage/services/llm"
	"github.com/rxsage/rxsage/services/matcher"
	"github.com/rxsage/rxsage/services/matcher/config"
	"github.com/rxsage/rxsage/services/prescription"
)

// defaultRerankModel is the small/fast model used only for the clinical
// tie-break. Extraction and advice stay on the client's default model.
// Groq model name; deployments on another LLM_PROVIDER set RERANK_MODEL.
const defaultRerankModel = "llama-3.1-8b-instant"

func main() {
	port := flag.Int("port", 5000, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	snapshotDir := flag.String("snapshot-dir", "snapshots", "Directory holding the per-group catalog snapshots")
	dataDir := flag.String("data-dir", "", "BadgerDB directory for prescription records (overrides RX_DATA_DIR)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger := slog.Default()

	tables := config.MustLoadAbbreviationTables()
	normalizer := matcher.NewNormalizerFromTables(tables)

	// Catalogs are the ground truth every cascade resolves against; a
	// missing or corrupt snapshot makes every answer wrong, so it is fatal.
	catalogs := map[matcher.Group]*matcher.CatalogIndex{}
	for _, group := range []matcher.Group{
		matcher.GroupMedicine, matcher.GroupLab, matcher.GroupRadiology, matcher.GroupProcedure,
	} {
		path := filepath.Join(*snapshotDir, string(group)+".json")
		cat, err := matcher.LoadCatalog(path, normalizer)
		if err != nil {
			slog.Error("Failed to load catalog snapshot",
				slog.String("group", string(group)),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		catalogs[group] = cat
		slog.Info("Catalog loaded",
			slog.String("group", string(group)),
			slog.Int("entries", cat.Len()),
			slog.Bool("semantic", cat.Semantic()),
		)
	}

	// Graceful degradation: without an embedding provider the deterministic
	// stages still run, only the semantic/ANN stages go dark.
	embedder, err := embedding.NewProviderFromEnv()
	if err != nil {
		slog.Warn("Embedding provider unavailable, semantic stages disabled",
			slog.String("error", err.Error()),
		)
		embedder = nil
	}

	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		slog.Error("LLM client configuration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rerankModel := os.Getenv("RERANK_MODEL")
	if rerankModel == "" {
		rerankModel = defaultRerankModel
	}
	reranker := matcher.NewReranker(llm.WithModel(llmClient, rerankModel), logger)

	medicineEngine := matcher.NewEngine(catalogs[matcher.GroupMedicine], normalizer, embedder, logger)
	labEngine := matcher.NewClinicalEngine(catalogs[matcher.GroupLab], nil, normalizer, embedder, reranker, tables.CoreClinicalTerms, logger)
	radiologyEngine := matcher.NewClinicalEngine(catalogs[matcher.GroupRadiology], catalogs[matcher.GroupProcedure], normalizer, embedder, reranker, tables.CoreClinicalTerms, logger)
	procedureEngine := matcher.NewClinicalEngine(catalogs[matcher.GroupProcedure], nil, normalizer, embedder, reranker, tables.CoreClinicalTerms, logger)

	db := openRecordDB(*dataDir)
	store, err := prescription.NewStore(db, logger)
	if err != nil {
		slog.Error("Failed to create record store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	extractor := extraction.NewExtractor(llmClient, logger)
	svc, err := prescription.NewService(prescription.ServiceConfig{
		Extractor: extractor,
		Medicine:  medicineEngine,
		Lab:       labEngine,
		Radiology: radiologyEngine,
		Procedure: procedureEngine,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to build prescription service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := prescription.NewHandlers(svc, catalogs, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("rxsage"))
	if *debug {
		router.Use(gin.Logger())
	}

	root := router.Group("/")
	prescription.RegisterRoutes(root, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down RxSage server")
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close record store", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting RxSage server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openRecordDB opens the prescription record store. An unusable on-disk
// path degrades to an in-memory DB so the service still answers extract
// requests; records then live only for the process lifetime.
func openRecordDB(dataDir string) *badger.DB {
	if dataDir == "" {
		dataDir = os.Getenv("RX_DATA_DIR")
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".rxsage", "records")
		}
	}

	if dataDir != "" {
		opts := badger.DefaultOptions(dataDir).WithLogger(nil)
		db, err := badger.Open(opts)
		if err == nil {
			slog.Info("Record store opened", slog.String("path", dataDir))
			return db
		}
		slog.Warn("Record store unavailable, falling back to in-memory records",
			slog.String("path", dataDir),
			slog.String("error", err.Error()),
		)
	}

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		slog.Error("Failed to open in-memory record store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return db
}
