package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/nixinstaller/pkg/stores"
)

// defaultJournalPath is $XDG_STATE_HOME/nix-installer/journal.db, falling
// back to ~/.local/state.
func defaultJournalPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "nix-installer", "journal.db")
}

// openJournal opens and migrates the journal store. It returns nil when
// journaling is disabled.
func (a *app) openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.noJournal {
		return nil, nil
	}
	if a.journalPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.journalPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.journalPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

// requireJournal is openJournal for commands that cannot work without one.
func (a *app) requireJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.noJournal {
		return nil, fmt.Errorf("this command needs the run journal, drop --no-journal")
	}
	return a.openJournal(ctx)
}
