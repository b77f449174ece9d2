package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"gocutoff/adapters/postgres"
	"gocutoff/app"
	"gocutoff/internal/migration"
)

// migrate brings the schema up to date and imports run files written by "gocutoff run --json"
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [run_output_dir]")
	}

	databaseURL := os.Args[1]

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if len(os.Args) < 3 {
		return
	}
	runDir := os.Args[2]
	repo := postgres.NewRunRepository(db)

	files, err := findRunFiles(runDir)
	if err != nil {
		log.Fatalf("Failed to find run files: %v", err)
	}
	log.Printf("Found %d run files to import", len(files))

	imported := 0
	skipped := 0
	for _, file := range files {
		record, err := loadRunFromFile(file)
		if err != nil {
			log.Printf("Failed to load run from %s: %v", file, err)
			skipped++
			continue
		}

		if _, err := repo.GetRun(ctx, record.Result.RunID); err == nil {
			log.Printf("Run %s already stored, skipping %s", record.Result.RunID, filepath.Base(file))
			skipped++
			continue
		}

		if err := repo.SaveRun(ctx, record.Result, record.Model); err != nil {
			log.Printf("Failed to save run %s: %v", record.Result.RunID, err)
			skipped++
			continue
		}

		imported++
		log.Printf("Imported run %s from %s", record.Result.RunID, filepath.Base(file))
	}

	log.Printf("Import complete: %d imported, %d skipped", imported, skipped)
}

func findRunFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}

func loadRunFromFile(filePath string) (*app.RunRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var record app.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if record.Result == nil || record.Result.RunID.String() == "" {
		return nil, os.ErrInvalid
	}
	if record.Model == "" {
		record.Model = "unknown"
	}

	return &record, nil
}
