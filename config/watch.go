package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store publishes the current snapshot to request handlers. Handlers read
// the pointer once per request; the watcher swaps it whole, so a request
// never mixes entities from one file version with permissions from
// another.
type Store struct {
	snap atomic.Pointer[Snapshot]
}

func NewStore(s *Snapshot) *Store {
	st := &Store{}
	st.snap.Store(s)
	return st
}

// Current returns the snapshot to serve this request with.
func (st *Store) Current() *Snapshot {
	return st.snap.Load()
}

// Swap publishes a new snapshot.
func (st *Store) Swap(s *Snapshot) {
	st.snap.Store(s)
}

// settleDelay batches the burst of filesystem events an editor save
// produces into one reload.
const settleDelay = 250 * time.Millisecond

// Watch reloads the configuration file whenever it changes and publishes
// the new entity/permission snapshot. Connection settings are fixed at
// boot; a changed connection is reported and left alone. A file that no
// longer loads keeps the running snapshot in place.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, boot *Config, store *Store, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory, not the file: editors that save by rename
	// replace the inode and would silently detach a file watch.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	base := filepath.Base(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pending:
			pending = nil
			reload(path, boot, store, log)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(settleDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", "error", err)
		}
	}
}

func reload(path string, boot *Config, store *Store, log *slog.Logger) {
	next, err := Load(path)
	if err != nil {
		log.Error("config reload failed, keeping the running snapshot", "error", err)
		return
	}
	if next.Connection != boot.Connection {
		log.Warn("database connection changed in config; the change takes effect on restart")
	}
	store.Swap(next.Snapshot)
	log.Info("config reloaded", "entities", len(next.Snapshot.Model.Entities()))
}
