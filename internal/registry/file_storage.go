package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// FileStorage keeps the registry in a JSON file so it survives process
// restarts.  Every mutation rewrites the file through a temp file and a
// rename, so a crash never leaves a torn file behind.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

type fileDoc struct {
	Entries map[string]model.RegistryEntry `json:"entries"`
}

// NewFileStorage returns a FileStorage writing to path.  The directory is
// created on first write.
func NewFileStorage(path string) *FileStorage { return &FileStorage{path: path} }

func (f *FileStorage) load() (fileDoc, error) {
	doc := fileDoc{Entries: map[string]model.RegistryEntry{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode registry %s: %w", f.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]model.RegistryEntry{}
	}
	return doc, nil
}

func (f *FileStorage) save(doc fileDoc) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("mkdir registry dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".registry-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func (f *FileStorage) Add(_ context.Context, entry model.RegistryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	var cur *model.RegistryEntry
	if e, ok := doc.Entries[entry.TripKey]; ok {
		cur = &e
	}
	doc.Entries[entry.TripKey] = mergeEntry(cur, entry)
	return f.save(doc)
}

func (f *FileStorage) Remove(_ context.Context, tripKey string, seats []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	e, ok := doc.Entries[tripKey]
	if !ok {
		return nil
	}
	e.Seats = subtractSeats(e.Seats, seats)
	if len(e.Seats) == 0 {
		delete(doc.Entries, tripKey)
	} else {
		doc.Entries[tripKey] = e
	}
	return f.save(doc)
}

func (f *FileStorage) List(context.Context) ([]model.RegistryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]model.RegistryEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (f *FileStorage) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear registry: %w", err)
	}
	return nil
}
