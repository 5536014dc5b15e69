// Package registry persists the set of tracked creators as a JSON
// document and mediates all mutation of their records.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	errs "kemonod/pkg/errors"
	"kemonod/pkg/filter"
	"kemonod/pkg/timer"
)

// Artist is one tracked creator record.
type Artist struct {
	// ID is a stable internal identifier, independent of the platform's
	// user id which may collide across services.
	ID      string `json:"id"`
	Name    string `json:"name"`
	Alias   string `json:"alias,omitempty"`
	Service string `json:"service"`
	UserID  string `json:"user_id"`

	// URL is the creator's public page, kept so the registry file is
	// useful on its own.
	URL string `json:"url,omitempty"`

	// LastPostDate is the publish timestamp of the newest fully
	// processed post, in the platform's ISO-8601 form. Empty means the
	// whole history is still undownloaded.
	LastPostDate string `json:"last_post_date,omitempty"`

	// Timer overrides the global check schedule when set.
	Timer *timer.Schedule `json:"timer,omitempty"`

	// Filter is this creator's own filter. When UseGlobalFilter is true
	// it is ANDed with the global filter, otherwise it applies alone.
	Filter          *filter.Spec `json:"filter,omitempty"`
	UseGlobalFilter bool         `json:"use_global_filter"`

	// Overrides replaces selected naming/download settings per creator.
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Overrides holds per-creator replacements for global settings. Empty
// fields fall back to the global configuration.
type Overrides struct {
	DownloadDir        string `json:"download_dir,omitempty"`
	ArtistFolderFormat string `json:"artist_folder_format,omitempty"`
	PostFolderFormat   string `json:"post_folder_format,omitempty"`
	FileNameFormat     string `json:"file_name_format,omitempty"`
}

// DisplayName returns the alias when one is set, otherwise the name.
func (a *Artist) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Name
}

// Key returns the platform-unique service/user pair.
func (a *Artist) Key() string {
	return a.Service + "/" + a.UserID
}

type document struct {
	Artists []*Artist `json:"artists"`
}

// Store owns the persisted registry file. All methods are safe for
// concurrent use.
type Store struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	artists map[string]*Artist // keyed by Artist.ID
}

// NewStore creates a store backed by the given filesystem and file path.
// The file is loaded if it exists; a missing file yields an empty store.
func NewStore(fs afero.Fs, path string) (*Store, error) {
	s := &Store{
		fs:      fs,
		path:    path,
		artists: make(map[string]*Artist),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return &errs.Error{Type: errs.ErrorTypeFilesystem, Message: fmt.Sprintf("failed to check registry file: %v", err)}
	}
	if !exists {
		return nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return &errs.Error{Type: errs.ErrorTypeFilesystem, Message: fmt.Sprintf("failed to read registry file: %v", err)}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &errs.Error{Type: errs.ErrorTypeParsing, Message: fmt.Sprintf("failed to parse registry file: %v", err)}
	}

	for _, a := range doc.Artists {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		s.artists[a.ID] = a
	}

	return nil
}

// save writes the registry atomically via a temp file rename. Caller
// must hold the lock.
func (s *Store) save() error {
	doc := document{Artists: s.sorted()}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return &errs.Error{Type: errs.ErrorTypeParsing, Message: fmt.Sprintf("failed to marshal registry: %v", err)}
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return &errs.Error{Type: errs.ErrorTypeFilesystem, Message: fmt.Sprintf("failed to create registry directory: %v", err)}
	}

	tmpPath := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0644); err != nil {
		return &errs.Error{Type: errs.ErrorTypeFilesystem, Message: fmt.Sprintf("failed to write registry temp file: %v", err)}
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return &errs.Error{Type: errs.ErrorTypeFilesystem, Message: fmt.Sprintf("failed to replace registry file: %v", err)}
	}

	return nil
}

func (s *Store) sorted() []*Artist {
	list := make([]*Artist, 0, len(s.artists))
	for _, a := range s.artists {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Key() < list[j].Key()
	})
	return list
}

// Add registers a new creator. The ID is assigned here. Adding the same
// service/user pair twice is an error.
func (s *Store) Add(artist *Artist) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.artists {
		if existing.Key() == artist.Key() {
			return &errs.Error{Type: errs.ErrorTypeConfig, Message: fmt.Sprintf("artist %s already registered as %q", artist.Key(), existing.DisplayName())}
		}
	}

	if artist.ID == "" {
		artist.ID = uuid.New().String()
	}
	s.artists[artist.ID] = artist

	return s.save()
}

// Remove deregisters a creator by internal ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artists[id]; !ok {
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: fmt.Sprintf("artist %s not registered", id)}
	}
	delete(s.artists, id)

	return s.save()
}

// Get returns the creator with the given internal ID.
func (s *Store) Get(id string) (*Artist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artists[id]
	if !ok {
		return nil, false
	}
	copied := *a
	return &copied, true
}

// Find locates a creator by service/user pair, alias or name.
func (s *Store) Find(query string) (*Artist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.artists {
		if a.ID == query || a.Key() == query || a.Alias == query || a.Name == query {
			copied := *a
			return &copied, true
		}
	}
	return nil, false
}

// All returns every registered creator, sorted by name.
func (s *Store) All() []*Artist {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sorted()
	out := make([]*Artist, len(list))
	for i, a := range list {
		copied := *a
		out[i] = &copied
	}
	return out
}

// Len returns the number of registered creators.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artists)
}

// UpdateLastPostDate advances the creator's watermark. The update is
// refused when it would move the watermark backwards.
func (s *Store) UpdateLastPostDate(id, published string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artists[id]
	if !ok {
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: fmt.Sprintf("artist %s not registered", id)}
	}

	if published <= a.LastPostDate {
		return nil
	}
	a.LastPostDate = published

	return s.save()
}

// SetTimer replaces the creator's schedule. A nil schedule reverts the
// creator to the global timer.
func (s *Store) SetTimer(id string, schedule *timer.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artists[id]
	if !ok {
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: fmt.Sprintf("artist %s not registered", id)}
	}

	if schedule != nil {
		if err := schedule.Validate(); err != nil {
			return &errs.Error{Type: errs.ErrorTypeConfig, Message: fmt.Sprintf("invalid timer: %v", err)}
		}
	}
	a.Timer = schedule

	return s.save()
}

// SetFilter replaces the creator's filter spec.
func (s *Store) SetFilter(id string, spec *filter.Spec, useGlobal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artists[id]
	if !ok {
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: fmt.Sprintf("artist %s not registered", id)}
	}

	if spec != nil {
		if err := spec.Validate(); err != nil {
			return &errs.Error{Type: errs.ErrorTypeConfig, Message: fmt.Sprintf("invalid filter: %v", err)}
		}
	}
	a.Filter = spec
	a.UseGlobalFilter = useGlobal

	return s.save()
}
