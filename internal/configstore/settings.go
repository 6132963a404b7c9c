package configstore

import (
	"maps"
	"time"
)

// Settings is every export-affecting value read from one snapshot.
type Settings struct {
	Mode              string            `json:"mode"`
	Host              string            `json:"host"`
	Port              int               `json:"port"`
	Protocol          string            `json:"protocol"`
	ReportingInterval time.Duration     `json:"reportingInterval"`
	Prefix            string            `json:"prefix"`
	Database          string            `json:"database"`
	ConnectTimeout    time.Duration     `json:"connectTimeout"`
	Auth              string            `json:"auth,omitempty"`
	HasAuth           bool              `json:"hasAuth"`
	Tags              map[string]string `json:"tags"`
}

// Settings resolves all accessors against the view's snapshot.
func (v View) Settings() Settings {
	mode := v.Mode()
	auth, hasAuth := v.Auth()
	return Settings{
		Mode:              mode,
		Host:              v.Host(),
		Port:              v.Port(),
		Protocol:          v.protocol(mode),
		ReportingInterval: time.Duration(v.ReportingInterval()) * time.Second,
		Prefix:            v.Prefix(),
		Database:          v.Database(),
		ConnectTimeout:    time.Duration(v.ConnectTimeout()) * time.Millisecond,
		Auth:              auth,
		HasAuth:           hasAuth,
		Tags:              v.Tags(),
	}
}

// Equal reports whether two settings would build the same exporter.
func (s Settings) Equal(o Settings) bool {
	return s.Mode == o.Mode &&
		s.Host == o.Host &&
		s.Port == o.Port &&
		s.Protocol == o.Protocol &&
		s.ReportingInterval == o.ReportingInterval &&
		s.Prefix == o.Prefix &&
		s.Database == o.Database &&
		s.ConnectTimeout == o.ConnectTimeout &&
		s.Auth == o.Auth &&
		s.HasAuth == o.HasAuth &&
		maps.Equal(s.Tags, o.Tags)
}

func (s Settings) clone() Settings {
	out := s
	out.Tags = maps.Clone(s.Tags)
	return out
}

// Redacted returns a copy that is safe to log or serve.
func (s Settings) Redacted() Settings {
	out := s
	out.Auth = redact(s.Auth)
	out.Tags = maps.Clone(s.Tags)
	return out
}
