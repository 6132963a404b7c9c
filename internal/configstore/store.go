package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/magiconair/properties"
	"go.uber.org/zap"
)

// DefaultFileName is the properties file read from the configuration directory.
const DefaultFileName = "influxdb.properties"

// ErrNotLoaded is returned by Load when the file could not be read and the
// store keeps its previous snapshot.
var ErrNotLoaded = errors.New("configuration file not loaded")

// Option configures a Store.
type Option func(*Store)

// WithEnvPrefix overrides the prefix of the environment override variables.
func WithEnvPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.envPrefix = prefix
		}
	}
}

// WithLookupEnv replaces the environment lookup, primarily for tests.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(s *Store) {
		if lookup != nil {
			s.lookupEnv = lookup
		}
	}
}

// Store holds the current Snapshot for one properties file.
type Store struct {
	path      string
	envPrefix string
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger

	// mu serializes file reads so Load and Reload never interleave.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	// resolved caches Settings for the installed snapshot, so defaults are
	// only warned about once per file version.
	resolved atomic.Pointer[resolvedSettings]
}

type resolvedSettings struct {
	snap     *Snapshot
	settings Settings
}

// New creates a store for dir/fileName with an empty snapshot installed.
// Nothing is read until Load is called.
func New(dir, fileName string, logger *zap.Logger, opts ...Option) *Store {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:      filepath.Join(dir, fileName),
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptySnapshot)
	return s
}

// Path returns the properties file location.
func (s *Store) Path() string {
	return s.path
}

// EnvPrefix returns the prefix used for override variables.
func (s *Store) EnvPrefix() string {
	return s.envPrefix
}

// Snapshot returns the currently installed snapshot. It never returns nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Load performs the initial read of the properties file. On failure the
// previous snapshot stays installed, the problem is logged at error level and
// ErrNotLoaded is returned for callers that want to report it.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		s.logger.Error("not able to load configuration file",
			zap.String("path", s.absPath()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrNotLoaded, err)
	}

	s.current.Store(snap)
	s.logger.Info("configuration loaded",
		zap.String("path", s.absPath()),
		zap.Int("keys", snap.Len()),
	)
	return nil
}

// Reload reads the file again, installs the result and returns the diff
// against the snapshot that was installed before. When the file cannot be
// read the current snapshot is kept, the failure is logged at debug level and
// returned so the caller can count it.
func (s *Store) Reload() ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.read()
	if err != nil {
		s.logger.Debug("not able to reload configuration file",
			zap.String("path", s.absPath()),
			zap.Error(err),
		)
		return nil, err
	}

	prev := s.current.Swap(next)
	changes := Diff(prev, next)
	for _, c := range changes {
		s.logChange(c)
	}
	return changes, nil
}

// Settings resolves the export settings of the installed snapshot. The result
// is computed once per snapshot.
func (s *Store) Settings() Settings {
	snap := s.Snapshot()
	if r := s.resolved.Load(); r != nil && r.snap == snap {
		return r.settings.clone()
	}
	settings := NewView(snap, s.logger).Settings()
	s.resolved.Store(&resolvedSettings{snap: snap, settings: settings})
	return settings.clone()
}

func (s *Store) read() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}

	values, err := parseProperties(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	applyEnvOverrides(values, s.envPrefix, s.lookupEnv)
	return NewSnapshot(values), nil
}

// parseProperties reads Java properties syntax: '#' and '!' comments, '=',
// ':' or whitespace separators, and a key on its own maps to an empty value.
// ${...} references are kept verbatim.
func parseProperties(data []byte) (map[string]string, error) {
	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func (s *Store) logChange(c Change) {
	oldValue, newValue := c.Old, c.New
	if c.Key == KeyAuth {
		oldValue, newValue = redact(oldValue), redact(newValue)
	}
	switch c.Kind {
	case Changed:
		s.logger.Debug("configuration changed",
			zap.String("key", c.Key),
			zap.String("from", oldValue),
			zap.String("to", newValue),
		)
	case Removed:
		s.logger.Debug("configuration removed", zap.String("key", c.Key))
	case Added:
		s.logger.Debug("configuration added",
			zap.String("key", c.Key),
			zap.String("value", newValue),
		)
	}
}

func (s *Store) absPath() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return s.path
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "****"
}
