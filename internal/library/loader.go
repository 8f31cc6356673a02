package library

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/storage"
)

// Logger is the logging interface used by the loader.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Limits bounds what the loader will accept.
type Limits struct {
	MaxLibrarySize int // decoded bytes per library
	MaxLibraries   int
	MaxTotalBytes  int // resident ceiling; zero means MaxLibrarySize*MaxLibraries
}

// InUseChecker reports whether any slot is bound to an instance of a library.
type InUseChecker interface {
	LibraryInUse(name string) bool
}

// Info describes a loaded library.
type Info struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Size     int       `json:"size"`
	Kind     string    `json:"kind"`
	Template string    `json:"template"`
	LoadedAt time.Time `json:"loaded_at"`
}

type loaded struct {
	info    Info
	factory Factory
}

// persisted is the stored form of a library; Blob is the decoded manifest.
type persisted struct {
	Version  string    `cbor:"1,keyasint"`
	Blob     []byte    `cbor:"2,keyasint"`
	LoadedAt time.Time `cbor:"3,keyasint"`
}

// Loader installs driver libraries delivered as base64 CBOR bundles and hands
// out fresh driver instances. It never retains the instances it creates.
type Loader struct {
	mu        sync.RWMutex
	limits    Limits
	pins      driver.Pins
	templates map[string]Template
	libs      map[string]*loaded
	total     int
	checkers  []InUseChecker
	store     storage.Store
	logger    Logger
}

// New creates a loader whose templates drive hardware through pins.
//
// A zero MaxTotalBytes defaults to MaxLibrarySize * MaxLibraries. Bundles
// are not persisted until SetStore is called.
//
// Parameters:
//   - limits: Per-library and total size caps plus the library count
//   - pins: Line access handed to every instance a template builds
//
// Returns:
//   - *Loader: Loader with the built-in templates registered
func New(limits Limits, pins driver.Pins) *Loader {
	if limits.MaxTotalBytes == 0 {
		limits.MaxTotalBytes = limits.MaxLibrarySize * limits.MaxLibraries
	}
	return &Loader{
		limits:    limits,
		pins:      pins,
		templates: builtinTemplates(),
		libs:      make(map[string]*loaded),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (l *Loader) SetLogger(logger Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// SetStore sets the collaborator bundles are persisted to.
func (l *Loader) SetStore(s storage.Store) {
	l.mu.Lock()
	l.store = s
	l.mu.Unlock()
}

// AddInUseChecker registers a registry consulted by Unload.
func (l *Loader) AddInUseChecker(c InUseChecker) {
	l.mu.Lock()
	l.checkers = append(l.checkers, c)
	l.mu.Unlock()
}

// RegisterTemplate adds or replaces a template.
func (l *Loader) RegisterTemplate(name string, t Template) {
	l.mu.Lock()
	l.templates[name] = t
	l.mu.Unlock()
}

// LoadFromBinary validates and installs a library. Nothing is registered
// unless every check passes.
func (l *Loader) LoadFromBinary(ctx context.Context, name, version, payload string, declaredSize int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkCapacity(name); err != nil {
		return err
	}
	blob, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if declaredSize != len(blob) {
		return fmt.Errorf("%w: declared %d, decoded %d", ErrSizeMismatch, declaredSize, len(blob))
	}
	if err := l.install(name, version, blob, time.Now().UTC()); err != nil {
		return err
	}

	if l.store != nil {
		rec, err := cbor.Marshal(persisted{Version: version, Blob: blob, LoadedAt: l.libs[name].info.LoadedAt})
		if err == nil {
			err = l.store.Save(ctx, storage.KeyLibraryPrefix+name, rec)
		}
		if err != nil {
			l.remove(name)
			return fmt.Errorf("persisting library %s: %w", name, err)
		}
	}

	l.logger.Info("library loaded", "name", name, "version", version, "size", len(blob))
	return nil
}

func (l *Loader) checkCapacity(name string) error {
	if _, ok := l.libs[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	if len(l.libs) >= l.limits.MaxLibraries {
		return fmt.Errorf("%w (%d)", ErrTooManyLibraries, l.limits.MaxLibraries)
	}
	return nil
}

// install runs the size, manifest and template checks and registers the factory.
func (l *Loader) install(name, version string, blob []byte, loadedAt time.Time) error {
	size := len(blob)
	if size > l.limits.MaxLibrarySize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, l.limits.MaxLibrarySize)
	}
	if l.total+size > l.limits.MaxTotalBytes {
		return fmt.Errorf("%w: resident total would be %d of %d bytes", ErrTooLarge, l.total+size, l.limits.MaxTotalBytes)
	}

	bundle, err := decodeBundle(blob)
	if err != nil {
		return err
	}
	tmpl, ok := l.templates[bundle.Template]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, bundle.Template)
	}
	if tmpl.Kind != bundle.Kind {
		return fmt.Errorf("%w: template %s builds %s, bundle declares %s", ErrInvalidBundle, bundle.Template, tmpl.Kind, bundle.Kind)
	}
	factory, err := tmpl.Build(bundle, l.pins)
	if err != nil {
		return err
	}

	l.libs[name] = &loaded{
		info: Info{
			Name:     name,
			Version:  version,
			Size:     size,
			Kind:     bundle.Kind,
			Template: bundle.Template,
			LoadedAt: loadedAt,
		},
		factory: factory,
	}
	l.total += size
	return nil
}

func (l *Loader) remove(name string) {
	if lib, ok := l.libs[name]; ok {
		l.total -= lib.info.Size
		delete(l.libs, name)
	}
}

// CreateInstance returns a new, uninitialised driver from a loaded library.
func (l *Loader) CreateInstance(name string) (driver.Driver, error) {
	l.mu.RLock()
	lib, ok := l.libs[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return lib.factory(), nil
}

// DestroyInstance ends an instance created by CreateInstance.
func (l *Loader) DestroyInstance(name string, inst driver.Driver) error {
	if !l.IsLoaded(name) {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if inst == nil || !inst.Initialized() {
		return nil
	}
	return inst.End()
}

// Unload removes a library and its persisted bundle. It fails while any
// registry reports a slot bound to the library.
func (l *Loader) Unload(ctx context.Context, name string) error {
	// Checkers take their own locks, so consult them without holding l.mu.
	l.mu.RLock()
	_, ok := l.libs[name]
	checkers := append([]InUseChecker(nil), l.checkers...)
	store := l.store
	l.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	for _, c := range checkers {
		if c.LibraryInUse(name) {
			return fmt.Errorf("%w: %s", ErrLibraryInUse, name)
		}
	}
	if store != nil {
		if err := store.Delete(ctx, storage.KeyLibraryPrefix+name); err != nil {
			return fmt.Errorf("deleting persisted library %s: %w", name, err)
		}
	}

	l.mu.Lock()
	l.remove(name)
	logger := l.logger
	l.mu.Unlock()

	logger.Info("library unloaded", "name", name)
	return nil
}

// IsLoaded reports whether name is installed.
func (l *Loader) IsLoaded(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.libs[name]
	return ok
}

// Version returns the installed version of name.
func (l *Loader) Version(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lib, ok := l.libs[name]
	if !ok {
		return "", false
	}
	return lib.info.Version, true
}

// List returns the loaded libraries sorted by name.
func (l *Loader) List() []Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Info, 0, len(l.libs))
	for _, lib := range l.libs {
		out = append(out, lib.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TotalBytes returns the resident size of all loaded libraries.
func (l *Loader) TotalBytes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Restore reinstalls every persisted library. Records that no longer pass
// validation (limits shrank, template removed) are skipped and logged.
func (l *Loader) Restore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}

	keys, err := l.store.Keys(ctx, storage.KeyLibraryPrefix)
	if err != nil {
		return fmt.Errorf("listing persisted libraries: %w", err)
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, storage.KeyLibraryPrefix)
		data, err := l.store.Load(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading persisted library %s: %w", name, err)
		}

		var rec persisted
		if err := cbor.Unmarshal(data, &rec); err != nil {
			l.logger.Warn("skipping unreadable persisted library", "name", name, "error", err)
			continue
		}
		if err := l.checkCapacity(name); err != nil {
			l.logger.Warn("skipping persisted library", "name", name, "error", err)
			continue
		}
		if err := l.install(name, rec.Version, rec.Blob, rec.LoadedAt); err != nil {
			l.logger.Warn("skipping persisted library", "name", name, "error", err)
			continue
		}
		l.logger.Info("library restored", "name", name, "version", rec.Version)
	}
	return nil
}
