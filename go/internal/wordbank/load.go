package wordbank

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"
)

var ErrNoWords = errors.New("word list contains no words")

// File is the on-disk word list layout. JSON documents parse as well since
// YAML is a superset of JSON.
type File struct {
	Categories map[string][]string `yaml:"categories"`
}

// LoadFile reads a word list from path.
func LoadFile(path string, opts ...Option) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}
	return Parse(data, opts...)
}

// Parse decodes a word list document.
func Parse(data []byte, opts ...Option) (*Bank, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse word list: %w", err)
	}

	bank := New(f.Categories, opts...)
	if len(bank.names) == 0 {
		return nil, ErrNoWords
	}
	return bank, nil
}

// Querier is the part of pgxpool.Pool used to read words.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const wordsQuery = `SELECT category, word FROM words ORDER BY category, word`

// LoadPostgres reads the words table. It is only ever read; game state is not
// stored in the database.
func LoadPostgres(ctx context.Context, db Querier, opts ...Option) (*Bank, error) {
	rows, err := db.Query(ctx, wordsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	defer rows.Close()

	categories := make(map[string][]string)
	for rows.Next() {
		var category, word string
		if err := rows.Scan(&category, &word); err != nil {
			return nil, fmt.Errorf("failed to scan word row: %w", err)
		}
		categories[category] = append(categories[category], word)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate words: %w", err)
	}

	bank := New(categories, opts...)
	if len(bank.names) == 0 {
		return nil, ErrNoWords
	}
	return bank, nil
}
