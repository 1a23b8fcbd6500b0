package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Features []rules.Feature `yaml:"features"`
	Segments []rules.Segment `yaml:"segments,omitempty"`
}

// FileStore keeps features in a YAML document. Reads are served from memory; every write
// rewrites the file atomically. Watch reloads the document when it is edited by hand.
type FileStore struct {
	*MemoryStore

	path string
	log  zerolog.Logger

	// writeMu serializes write-then-persist sequences and reloads.
	writeMu sync.Mutex
	// current is the content hash of the document this store last wrote or loaded.
	current uint64
	known   bool
	watcher *fsnotify.Watcher
}

// NewFileStore opens path, creating an empty document if the file does not exist.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		log:         log.With().Str("component", "filestore").Str("path", path).Logger(),
	}
	if _, err := fs.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		fs.writeMu.Lock()
		err = fs.persist()
		fs.writeMu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// load reads the document into memory. It reports false without touching memory when the
// file still holds what this store last wrote, so the store's own renames are not reloads.
func (fs *FileStore) load() (bool, error) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		return false, err
	}
	sum := xxhash.Sum64(data)
	if fs.known && sum == fs.current {
		return false, nil
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", fs.path, err)
	}
	fs.MemoryStore.replace(doc.Features, doc.Segments)
	fs.current, fs.known = sum, true
	return true, nil
}

// persist writes to a temp file in the same directory and renames it over the original.
// The caller holds writeMu.
func (fs *FileStore) persist() error {
	features, segments := fs.MemoryStore.dump()
	data, err := yaml.Marshal(fileDocument{Features: features, Segments: segments})
	if err != nil {
		return fmt.Errorf("encode %s: %w", fs.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".flagrules-*.yaml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return err
	}
	fs.current, fs.known = xxhash.Sum64(data), true
	return nil
}

// update applies fn to memory and writes the file. If the write fails memory is restored,
// so a failed save leaves neither the new rule-set nor a bumped version behind.
func (fs *FileStore) update(fn func() error) error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	features, segments := fs.MemoryStore.dump()
	if err := fn(); err != nil {
		return err
	}
	if err := fs.persist(); err != nil {
		fs.MemoryStore.replace(features, segments)
		return fmt.Errorf("write %s: %w", fs.path, err)
	}
	return nil
}

// UpsertFeature creates or replaces a feature and writes the file.
func (fs *FileStore) UpsertFeature(ctx context.Context, f rules.Feature) (*rules.Feature, error) {
	var out *rules.Feature
	err := fs.update(func() (err error) {
		out, err = fs.MemoryStore.UpsertFeature(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEnvProperties replaces a rule-set and writes the file.
func (fs *FileStore) SaveEnvProperties(ctx context.Context, key, env string, props rules.EnvProperties, expectedVersion int64) (*rules.EnvProperties, error) {
	var out *rules.EnvProperties
	err := fs.update(func() (err error) {
		out, err = fs.MemoryStore.SaveEnvProperties(ctx, key, env, props, expectedVersion)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFeature removes a feature and writes the file.
func (fs *FileStore) DeleteFeature(ctx context.Context, key, env string) error {
	return fs.update(func() error {
		return fs.MemoryStore.DeleteFeature(ctx, key, env)
	})
}

// UpsertSegment creates or replaces a segment and writes the file.
func (fs *FileStore) UpsertSegment(ctx context.Context, s rules.Segment) error {
	return fs.update(func() error {
		return fs.MemoryStore.UpsertSegment(ctx, s)
	})
}

// Watch reloads the document whenever the file changes and then calls onReload.
// It returns once the watcher is running; the loop stops when ctx is done.
func (fs *FileStore) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so rename-over writes are seen.
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(fs.path), err)
	}
	fs.watcher = watcher

	go fs.watchLoop(ctx, onReload)
	return nil
}

func (fs *FileStore) watchLoop(ctx context.Context, onReload func()) {
	target := filepath.Clean(fs.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			changed, err := fs.load()
			if err != nil {
				fs.log.Error().Err(err).Msg("reload failed, keeping previous content")
				continue
			}
			if !changed {
				continue
			}
			fs.log.Info().Str("op", event.Op.String()).Msg("features reloaded")
			if onReload != nil {
				onReload()
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.log.Error().Err(err).Msg("file watch error")
		}
	}
}

// Close stops the watcher.
func (fs *FileStore) Close() error {
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}
