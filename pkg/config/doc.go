// Package config loads and validates visionflow settings.
//
// Settings are read once, at graph-build time, from a YAML file. The engine
// receives the resulting values as an explicit read-only configuration; no
// component performs ambient configuration lookups during execution. A
// fsnotify-based watcher supports the validate --watch development flow.
package config
