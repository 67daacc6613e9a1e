package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const MemoryUrl = ":memory:"

func isRemote(url string) bool {
	for _, prefix := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// Open connects to a local sqlite file (created when missing) or a remote libsql
// server and makes sure the schema exists.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("a database url was not specified")
	}

	var (
		database *sql.DB
		err      error
	)
	if isRemote(url) {
		database, err = sql.Open("libsql", url)
		if err != nil {
			return nil, err
		}
	} else {
		path := strings.TrimPrefix(url, "file:")
		if path != MemoryUrl {
			_, statErr := os.Stat(path)
			if os.IsNotExist(statErr) {
				f, err := os.Create(path)
				if err != nil {
					return nil, err
				}
				f.Close()
			}
		}

		database, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		// sqlite only allows one writer, a single connection also keeps an
		// in-memory database alive for the lifetime of the pool.
		database.SetMaxOpenConns(1)
		if path != MemoryUrl {
			_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL")
			if err != nil {
				database.Close()
				return nil, err
			}
		}
		_, err = database.ExecContext(ctx, "PRAGMA foreign_keys=ON")
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	_, err = database.ExecContext(ctx, Schema)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return database, nil
}
