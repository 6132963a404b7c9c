package configstore

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Recognized keys.
const (
	KeyMode              = "mode"
	KeyHost              = "host"
	KeyPort              = "port"
	KeyProtocol          = "protocol"
	KeyReportingInterval = "reportingInterval"
	KeyPrefix            = "prefix"
	KeyDatabase          = "database"
	KeyConnectTimeout    = "connectTimeout"
	KeyAuth              = "auth"
	KeyTags              = "tags"
)

// Defaults substituted when a key is absent or unparsable.
const (
	DefaultMode              = "http"
	DefaultHost              = "localhost"
	DefaultPort              = 8086
	DefaultProtocol          = "http"
	DefaultReportingInterval = 1 // seconds
	DefaultPrefix            = ""
	DefaultDatabase          = "hivemq"
	DefaultConnectTimeout    = 5000 // milliseconds
)

// ExportKeys lists every key whose change requires the exporter to be rebuilt.
var ExportKeys = []string{
	KeyMode,
	KeyHost,
	KeyPort,
	KeyProtocol,
	KeyReportingInterval,
	KeyPrefix,
	KeyDatabase,
	KeyAuth,
	KeyConnectTimeout,
	KeyTags,
}

// View binds typed accessors to a single snapshot, so a group of reads sees
// one consistent configuration.
type View struct {
	snap   *Snapshot
	logger *zap.Logger
}

// View returns accessors over the currently installed snapshot.
func (s *Store) View() View {
	return View{snap: s.Snapshot(), logger: s.logger}
}

// NewView wraps an arbitrary snapshot.
func NewView(snap *Snapshot, logger *zap.Logger) View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return View{snap: snap, logger: logger}
}

func (s *Store) Mode() string            { return s.View().Mode() }
func (s *Store) Host() string            { return s.View().Host() }
func (s *Store) Port() int               { return s.View().Port() }
func (s *Store) Protocol() string        { return s.View().Protocol() }
func (s *Store) ReportingInterval() int  { return s.View().ReportingInterval() }
func (s *Store) Prefix() string          { return s.View().Prefix() }
func (s *Store) Database() string        { return s.View().Database() }
func (s *Store) ConnectTimeout() int     { return s.View().ConnectTimeout() }
func (s *Store) Auth() (string, bool)    { return s.View().Auth() }
func (s *Store) Tags() map[string]string { return s.View().Tags() }

// Mode returns the sender mode: http, tcp or udp.
func (v View) Mode() string {
	return v.stringOr(KeyMode, DefaultMode, true)
}

func (v View) Host() string {
	return v.stringOr(KeyHost, DefaultHost, true)
}

func (v View) Port() int {
	return v.intOr(KeyPort, DefaultPort)
}

// Protocol only warns about a missing value when the mode is http, since the
// other senders never use it.
func (v View) Protocol() string {
	return v.protocol(v.Mode())
}

func (v View) protocol(mode string) string {
	if p, ok := v.snap.Get(KeyProtocol); ok {
		return p
	}
	if mode == DefaultMode {
		v.logger.Warn("no protocol configured, using default", zap.String("default", DefaultProtocol))
	}
	return DefaultProtocol
}

// ReportingInterval is the export period in seconds.
func (v View) ReportingInterval() int {
	return v.positiveIntOr(KeyReportingInterval, DefaultReportingInterval)
}

func (v View) Prefix() string {
	return v.stringOr(KeyPrefix, DefaultPrefix, false)
}

func (v View) Database() string {
	return v.stringOr(KeyDatabase, DefaultDatabase, true)
}

// ConnectTimeout is the sender connect (and HTTP read) timeout in milliseconds.
func (v View) ConnectTimeout() int {
	return v.positiveIntOr(KeyConnectTimeout, DefaultConnectTimeout)
}

// Auth returns the user:password pair for the HTTP sender, if configured.
func (v View) Auth() (string, bool) {
	return v.snap.Get(KeyAuth)
}

// Tags parses the tags key as k1=v1;k2=v2. Malformed pairs are logged and
// skipped.
func (v View) Tags() map[string]string {
	raw, ok := v.snap.Get(KeyTags)
	if !ok {
		return map[string]string{}
	}
	return parseTags(raw, v.logger)
}

func (v View) stringOr(key, def string, warn bool) string {
	if s, ok := v.snap.Get(key); ok {
		return s
	}
	if warn {
		v.logger.Warn("configuration key not set, using default",
			zap.String("key", key),
			zap.String("default", def),
		)
	}
	return def
}

func (v View) intOr(key string, def int) int {
	raw, ok := v.snap.Get(key)
	if !ok {
		v.logger.Warn("configuration key not set, using default",
			zap.String("key", key),
			zap.Int("default", def),
		)
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.logger.Error("invalid integer in configuration, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Int("default", def),
		)
		return def
	}
	return n
}

func (v View) positiveIntOr(key string, def int) int {
	n := v.intOr(key, def)
	if n <= 0 {
		v.logger.Error("configuration value must be positive, using default",
			zap.String("key", key),
			zap.Int("value", n),
			zap.Int("default", def),
		)
		return def
	}
	return n
}

func parseTags(raw string, logger *zap.Logger) map[string]string {
	tags := map[string]string{}
	if raw == "" {
		return tags
	}
	for _, pair := range strings.Split(raw, ";") {
		k, val, found := strings.Cut(pair, "=")
		if !found || k == "" || val == "" || strings.Contains(val, "=") {
			logger.Warn("invalid tag format, skipping", zap.String("tag", pair))
			continue
		}
		tags[k] = val
	}
	return tags
}
