// Package configstore owns the hot-reloadable export configuration. It reads a
// key=value properties file, applies environment variable overrides and keeps
// the result as an immutable Snapshot behind an atomically swapped pointer.
// Reload computes a three-way diff against the installed snapshot so that
// callers can notify subscribers about changed, added and removed keys.
package configstore
