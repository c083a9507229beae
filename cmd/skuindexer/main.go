// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command skuindexer builds and inspects catalog snapshot files.
//
// The indexer is the offline half of the matching pipeline: it reads a SKU
// CSV, embeds every description, L2-normalizes the vectors, and writes the
// snapshot JSON that the rxsage server loads at startup.
//
// Usage:
//
//	skuindexer build --csv medicine_sku.csv --group medicine --out snapshots/medicine.json
//	skuindexer build --csv lab_sku.csv --group lab --out snapshots/lab.json --no-embed
//	skuindexer inspect snapshots/medicine.json
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rxsage/rxsage/services/embedding"
	"github.com/rxsage/rxsage/services/matcher"
)

// embedConcurrency bounds parallel embedding calls during a build. The
// embedding service is the bottleneck; more workers just queue there.
const embedConcurrency = 8

var (
	csvPath  string
	groupStr string
	outPath  string
	descCol  string
	codeCol  string
	noEmbed  bool
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "skuindexer",
		Short: "Build and inspect RxSage catalog snapshots",
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Embed a SKU CSV and write a catalog snapshot",
		RunE:  runBuild,
	}
	buildCmd.Flags().StringVar(&csvPath, "csv", "", "SKU CSV path (required)")
	buildCmd.Flags().StringVar(&groupStr, "group", "", "Catalog group: medicine, lab, radiology, procedure (required)")
	buildCmd.Flags().StringVar(&outPath, "out", "", "Output snapshot path (required)")
	buildCmd.Flags().StringVar(&descCol, "desc-col", "medicine_desc", "CSV column holding the description")
	buildCmd.Flags().StringVar(&codeCol, "code-col", "sku_code", "CSV column holding the SKU code")
	buildCmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Skip embedding (deterministic stages only)")
	_ = buildCmd.MarkFlagRequired("csv")
	_ = buildCmd.MarkFlagRequired("group")
	_ = buildCmd.MarkFlagRequired("out")

	inspectCmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Print snapshot stats",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}

	root.AddCommand(buildCmd, inspectCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, _ []string) error {
	group, err := parseGroup(groupStr)
	if err != nil {
		return err
	}

	rows, err := readSKUCSV(csvPath, descCol, codeCol)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no SKU rows in %s", csvPath)
	}
	slog.Info("SKU rows loaded", slog.String("csv", csvPath), slog.Int("rows", len(rows)))

	snap := &matcher.Snapshot{
		Group:   group,
		BuiltAt: time.Now().UTC(),
		Entries: rows,
	}

	if !noEmbed {
		provider, err := embedding.NewProviderFromEnv()
		if err != nil {
			return fmt.Errorf("embedding provider: %w", err)
		}
		if err := embedEntries(cmd.Context(), provider, snap); err != nil {
			return err
		}
		snap.Model = provider.Model()
		snap.Dim = len(snap.Entries[0].Embedding)
	}

	if err := matcher.WriteSnapshot(outPath, snap); err != nil {
		return err
	}
	slog.Info("Snapshot written",
		slog.String("path", outPath),
		slog.String("group", string(group)),
		slog.Int("entries", len(snap.Entries)),
		slog.Int("dim", snap.Dim),
	)
	return nil
}

func runInspect(_ *cobra.Command, args []string) error {
	snap, err := matcher.ReadSnapshot(args[0])
	if err != nil {
		return err
	}

	embedded := 0
	for _, e := range snap.Entries {
		if len(e.Embedding) > 0 {
			embedded++
		}
	}

	fmt.Printf("group:     %s\n", snap.Group)
	fmt.Printf("built_at:  %s\n", snap.BuiltAt.Format(time.RFC3339))
	fmt.Printf("model:     %s\n", snap.Model)
	fmt.Printf("dim:       %d\n", snap.Dim)
	fmt.Printf("entries:   %d\n", len(snap.Entries))
	fmt.Printf("embedded:  %d\n", embedded)
	return nil
}

func parseGroup(s string) (matcher.Group, error) {
	switch matcher.Group(strings.ToLower(s)) {
	case matcher.GroupMedicine:
		return matcher.GroupMedicine, nil
	case matcher.GroupLab:
		return matcher.GroupLab, nil
	case matcher.GroupRadiology:
		return matcher.GroupRadiology, nil
	case matcher.GroupProcedure:
		return matcher.GroupProcedure, nil
	}
	return "", fmt.Errorf("unknown group %q (want medicine, lab, radiology, or procedure)", s)
}

// readSKUCSV reads (description, code) rows from a headered CSV. Column
// order is free; the header names select the columns.
func readSKUCSV(path, descCol, codeCol string) ([]matcher.SnapshotEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	descIdx, codeIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case descCol:
			descIdx = i
		case codeCol:
			codeIdx = i
		}
	}
	if descIdx == -1 || codeIdx == -1 {
		return nil, fmt.Errorf("csv header missing %q or %q columns", descCol, codeCol)
	}

	var entries []matcher.SnapshotEntry
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		desc := strings.TrimSpace(record[descIdx])
		if desc == "" {
			continue
		}
		entries = append(entries, matcher.SnapshotEntry{
			DisplayName: desc,
			Code:        strings.TrimSpace(record[codeIdx]),
		})
	}
	return entries, nil
}

// embedEntries fills in L2-normalized embeddings for every entry, in
// parallel with bounded concurrency. Any single failure aborts the build:
// a partially embedded snapshot is rejected by the server anyway.
func embedEntries(ctx context.Context, provider embedding.Provider, snap *matcher.Snapshot) error {
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i := range snap.Entries {
		g.Go(func() error {
			vec, err := provider.Embed(gctx, snap.Entries[i].DisplayName)
			if err != nil {
				return fmt.Errorf("embedding %q: %w", snap.Entries[i].DisplayName, err)
			}
			normalized := matcher.NormalizeVector(vec)
			if normalized == nil {
				return fmt.Errorf("zero embedding for %q", snap.Entries[i].DisplayName)
			}
			snap.Entries[i].Embedding = normalized
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Embeddings built",
		slog.Int("entries", len(snap.Entries)),
		slog.String("model", provider.Model()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}
