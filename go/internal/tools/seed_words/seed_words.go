package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/wordbank"
)

const schema = `
CREATE TABLE IF NOT EXISTS words (
  category TEXT NOT NULL,
  word     TEXT NOT NULL,
  PRIMARY KEY (category, word)
)`

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Database.Enabled() {
		fmt.Fprintln(os.Stderr, "no database configured, set WORDS_DATABASE_URL or DB_HOST")
		os.Exit(1)
	}

	// 1) Load the word list
	path := cfg.WordsFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	bank, err := wordbank.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read words: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert everything in one transaction
	var total, inserted int
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("create words table: %w", err)
		}
		for _, category := range bank.Categories() {
			for _, word := range bank.Words(category) {
				total++
				tag, err := tx.Exec(ctx,
					`INSERT INTO words (category, word) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
					category, word,
				)
				if err != nil {
					return fmt.Errorf("insert %s/%s: %w", category, word, err)
				}
				inserted += int(tag.RowsAffected())
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed, rolled back: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Words seed complete: %d categories, %d total, %d inserted, %d skipped\n",
		len(bank.Categories()), total, inserted, total-inserted,
	)
}
