package adapter

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Registry maps adapter ids, file extensions, and MIME types to adapter
// instances. It is read-mostly after startup; Register/Unregister are not
// safe under concurrent reads and are expected only during initialization.
type Registry struct {
	adapters     map[string]Adapter
	extensionMap map[string]string
	mimeMap      map[string]string
	registeredAt map[string]time.Time
	builtin      map[string]bool
	logger       *slog.Logger
}

// RegistryEntry is one row of a registry listing.
type RegistryEntry struct {
	Metadata     Metadata
	Builtin      bool
	RegisteredAt time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:     map[string]Adapter{},
		extensionMap: map[string]string{},
		mimeMap:      map[string]string{},
		registeredAt: map[string]time.Time{},
		builtin:      map[string]bool{},
		logger:       slog.Default().With("component", "adapter-registry"),
	}
}

// NewDefaultRegistry returns a registry with the built-in adapters
// registered in their canonical order: CSV, Excel, JSON, Parquet.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Adapter{NewCSVAdapter(), NewExcelAdapter(), NewJSONAdapter(), NewParquetAdapter()} {
		if err := r.Register(a, true); err != nil {
			// Built-in ids are unique by construction.
			panic(err)
		}
	}
	return r
}

// Register inserts an adapter, populating extension and MIME maps from its
// metadata. Registering an id twice fails with DuplicateAdapter.
func (r *Registry) Register(a Adapter, builtin bool) error {
	meta := a.Metadata()
	if _, exists := r.adapters[meta.ID]; exists {
		return &Error{
			Code:      CodeDuplicateAdapter,
			Message:   fmt.Sprintf("adapter %q is already registered; unregister it first or use a different id", meta.ID),
			AdapterID: meta.ID,
		}
	}

	r.adapters[meta.ID] = a
	r.registeredAt[meta.ID] = time.Now().UTC()
	r.builtin[meta.ID] = builtin

	for _, ext := range meta.Extensions {
		r.extensionMap[normalizeExt(ext)] = meta.ID
	}
	for _, mime := range meta.MIMETypes {
		r.mimeMap[strings.ToLower(mime)] = meta.ID
	}

	r.logger.Debug("adapter registered",
		"adapter_id", meta.ID,
		"extensions", strings.Join(meta.Extensions, ","),
		"builtin", builtin,
	)
	return nil
}

// Unregister removes an adapter and every extension/MIME mapping that
// points to it.
func (r *Registry) Unregister(id string) error {
	a, ok := r.adapters[id]
	if !ok {
		return &Error{
			Code:      CodeAdapterNotFound,
			Message:   fmt.Sprintf("adapter %q is not registered", id),
			AdapterID: id,
		}
	}

	meta := a.Metadata()
	for _, ext := range meta.Extensions {
		key := normalizeExt(ext)
		if r.extensionMap[key] == id {
			delete(r.extensionMap, key)
		}
	}
	for _, mime := range meta.MIMETypes {
		key := strings.ToLower(mime)
		if r.mimeMap[key] == id {
			delete(r.mimeMap, key)
		}
	}
	delete(r.adapters, id)
	delete(r.registeredAt, id)
	delete(r.builtin, id)
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, &Error{
			Code:      CodeAdapterNotFound,
			Message:   fmt.Sprintf("no adapter with id %q; available: %s", id, strings.Join(r.ids(), ", ")),
			AdapterID: id,
		}
	}
	return a, nil
}

// SelectFor auto-selects an adapter for a file. A MIME hint always takes
// precedence over extension inference.
func (r *Registry) SelectFor(path, mimeHint string) (Adapter, error) {
	if mimeHint != "" {
		if id, ok := r.mimeMap[strings.ToLower(mimeHint)]; ok {
			return r.adapters[id], nil
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := r.extensionMap[ext]; ok {
		return r.adapters[id], nil
	}
	return nil, &Error{
		Code:     CodeAdapterNotFound,
		Message:  fmt.Sprintf("no adapter for %q; registered extensions: %s", path, strings.Join(r.extensions(), ", ")),
		FilePath: path,
	}
}

// List returns registry entries sorted by adapter id.
func (r *Registry) List() []RegistryEntry {
	entries := make([]RegistryEntry, 0, len(r.adapters))
	for id, a := range r.adapters {
		entries = append(entries, RegistryEntry{
			Metadata:     a.Metadata(),
			Builtin:      r.builtin[id],
			RegisteredAt: r.registeredAt[id],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Metadata.ID < entries[j].Metadata.ID
	})
	return entries
}

func (r *Registry) ids() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) extensions() []string {
	exts := make([]string, 0, len(r.extensionMap))
	for ext := range r.extensionMap {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
