// Package application wires the sidecar together: the properties-file store,
// the change notifier, the reload scheduler, the reporter lifecycle and the
// admin HTTP server. Start and Stop are the host lifecycle hooks.
package application
