package main

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/catalog"
	"plant-sage/backend/internal/store"
)

func main() {
	var (
		dbURL      = flag.String("db", "", "SQLite path or postgres:// URL (defaults to DATABASE_URL, then data/plant-sage.db)")
		filePath   = flag.String("file", "", "CSV (name,category,points) or JSON catalog to import")
		seed       = flag.Bool("seed", false, "Load the built-in catalog when the store is empty")
		outputPath = flag.String("output", "", "Optional path to write the stored catalog as JSON")
		names      multiFlag
	)
	flag.Var(&names, "match", "Look up a plant name against the catalog (repeatable)")
	flag.Parse()

	if strings.TrimSpace(*dbURL) == "" {
		*dbURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if *dbURL == "" {
		*dbURL = filepath.FromSlash("data/plant-sage.db")
	}
	if *filePath == "" {
		*filePath = strings.TrimSpace(os.Getenv("CATALOG_SEED_PATH"))
	}

	if dir := filepath.Dir(*dbURL); !strings.Contains(*dbURL, "://") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create database directory: %v", err)
		}
	}
	db, err := store.Open(*dbURL, true)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	svc := catalog.NewService(db)
	switch {
	case *filePath != "":
		n, err := svc.LoadFile(*filePath)
		if err != nil {
			logrus.Fatalf("import %s: %v", *filePath, err)
		}
		logrus.WithFields(logrus.Fields{"file": *filePath, "plants": n}).Info("catalog import complete")
	case *seed:
		n, err := svc.SeedDefaults()
		if err != nil {
			logrus.Fatalf("seed catalog: %v", err)
		}
		logrus.WithField("seeded", n).Info("catalog seed complete")
	}

	for _, name := range names {
		m, ok := svc.BestMatch(name)
		entry := logrus.WithField("name", name)
		if !ok {
			entry.Info("no catalog match")
			continue
		}
		entry.WithFields(logrus.Fields{
			"match":      m.Name,
			"category":   m.Category,
			"points":     m.Points,
			"similarity": m.Similarity,
		}).Info("catalog match")
	}

	if *outputPath != "" {
		if err := writeCatalog(db, *outputPath); err != nil {
			logrus.Fatalf("write catalog: %v", err)
		}
		logrus.WithField("path", *outputPath).Info("catalog written to file")
	}
	logrus.WithField("plants", svc.Count()).Info("catalog ready")
}

func writeCatalog(db *store.Database, path string) error {
	rows, _, err := db.ListCatalog(0, 0)
	if err != nil {
		return err
	}
	entries := make([]catalog.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, catalog.Entry{Name: row.Name, Category: row.Category, Points: row.Points})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
