// Package logging keeps the runtime-adjustable log levels of the gateway.
//
// Every logger handed out by Levels shares one base handler but filters on
// its own slog.LevelVar, so changing one level affects only that logger.
// Loggers live in two name spaces: component loggers (publisher, broker,
// supervisor, admin) and device loggers, one per photometer, shared by that
// device's reader, sampler and queue. The loggers carry no attributes of
// their own; each component adds its component and device keys.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/c360/photgw/errors"
)

// Space selects a logger name space.
type Space string

// Logger name spaces. The values double as admin API path segments.
const (
	SpaceComponent Space = "loggers"
	SpaceDevice    Space = "ploggers"
)

// Component logger names.
const (
	Main       = "main"
	Supervisor = "supervisor"
	Publisher  = "publisher"
	Broker     = "broker"
	Admin      = "admin"
)

// Components lists the component loggers created at startup.
var Components = []string{Main, Supervisor, Publisher, Broker, Admin}

// Entry is one logger and its level, as listed by the admin API.
type Entry struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

// ParseLevel accepts debug, info, warn/warning, error and critical,
// case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LevelName renders a level the way ParseLevel reads it.
func LevelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "debug"
	case l <= slog.LevelInfo:
		return "info"
	case l <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// Levels is the registry of adjustable loggers. It is safe for concurrent
// use.
type Levels struct {
	base     slog.Handler
	fallback slog.Level

	mu     sync.RWMutex
	spaces map[Space]map[string]*slog.LevelVar
}

// New creates a registry over base. Loggers registered without an explicit
// level start at fallback. base should itself accept every level.
func New(base slog.Handler, fallback slog.Level) *Levels {
	return &Levels{
		base:     base,
		fallback: fallback,
		spaces: map[Space]map[string]*slog.LevelVar{
			SpaceComponent: {},
			SpaceDevice:    {},
		},
	}
}

// Component returns the logger for a component, registering it on first use.
func (l *Levels) Component(name string) *slog.Logger {
	return l.logger(SpaceComponent, name, nil)
}

// Device returns the logger for a photometer, registering it on first use
// with the given level.
func (l *Levels) Device(name string, level slog.Level) *slog.Logger {
	return l.logger(SpaceDevice, name, &level)
}

func (l *Levels) logger(space Space, name string, level *slog.Level) *slog.Logger {
	l.mu.Lock()
	v, ok := l.spaces[space][name]
	if !ok {
		v = new(slog.LevelVar)
		v.Set(l.fallback)
		l.spaces[space][name] = v
	}
	if level != nil {
		v.Set(*level)
	}
	l.mu.Unlock()

	return slog.New(&levelHandler{next: l.base, level: v})
}

// Get returns the level of a registered logger.
func (l *Levels) Get(space Space, name string) (slog.Level, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.spaces[space][name]
	if !ok {
		return 0, false
	}
	return v.Level(), true
}

// Set changes the level of a registered logger. Unknown names are rejected
// so a typo does not silently create a logger nobody uses.
func (l *Levels) Set(space Space, name string, level slog.Level) error {
	l.mu.RLock()
	v, ok := l.spaces[space][name]
	l.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%s %q not available", space, name), "logging", "Set", "logger lookup")
	}
	v.Set(level)
	return nil
}

// List returns the loggers of a space sorted by name.
func (l *Levels) List(space Space) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.spaces[space]))
	for name, v := range l.spaces[space] {
		out = append(out, Entry{Name: name, Level: LevelName(v.Level())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Apply sets every named level that is registered in space and reports the
// names it did not know.
func (l *Levels) Apply(space Space, levels map[string]slog.Level) []string {
	var unknown []string
	for name, level := range levels {
		if err := l.Set(space, name, level); err != nil {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// levelHandler filters records below its own level before the base handler
// sees them.
type levelHandler struct {
	next  slog.Handler
	level slog.Leveler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.next.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{next: h.next.WithGroup(name), level: h.level}
}
