package configstore

import "strings"

// DefaultEnvPrefix is prepended to the override variable of every key,
// e.g. INFLUXDB_EXPORT_HOST.
const DefaultEnvPrefix = "INFLUXDB_EXPORT"

// envSuffixes maps each recognized key to the suffix of its override variable.
var envSuffixes = map[string]string{
	KeyMode:              "MODE",
	KeyHost:              "HOST",
	KeyPort:              "PORT",
	KeyProtocol:          "PROTOCOL",
	KeyReportingInterval: "REPORTING_INTERVAL",
	KeyPrefix:            "PREFIX",
	KeyDatabase:          "DATABASE",
	KeyConnectTimeout:    "CONNECTION_TIMEOUT",
	KeyAuth:              "AUTH",
	KeyTags:              "TAGS",
}

// EnvVarName returns the override variable for key, or "" when the key has
// no override.
func EnvVarName(prefix, key string) string {
	suffix, ok := envSuffixes[key]
	if !ok {
		return ""
	}
	return strings.TrimSuffix(prefix, "_") + "_" + suffix
}

// applyEnvOverrides replaces file values with set environment variables. A
// variable that is set to the empty string still overrides.
func applyEnvOverrides(values map[string]string, prefix string, lookup func(string) (string, bool)) {
	for key := range envSuffixes {
		if v, ok := lookup(EnvVarName(prefix, key)); ok {
			values[key] = v
		}
	}
}
