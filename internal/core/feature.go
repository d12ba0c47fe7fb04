package core

import (
	"context"
	"net/http"
)

// Feature is a unit of the watcher process with its own lifecycle and routes.
// The registry calls Init once at startup and Shutdown once on exit, in
// reverse order.
type Feature interface {
	Name() string
	Description() string
	Enabled() bool

	// Init prepares storage and starts background work. An error wrapping a
	// FATAL_INIT AppError stops the process.
	Init(ctx context.Context) error

	// Routes are mounted on the status API; they must be read-only.
	Routes() []Route

	// Shutdown stops background work and releases every resource the
	// feature created, within ctx's deadline.
	Shutdown(ctx context.Context) error
}

// Route is one HTTP endpoint a feature contributes to the status API
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// BaseFeature carries the name, description and logger every feature needs.
// Features embed it and override Init, Routes and Shutdown.
type BaseFeature struct {
	name        string
	description string
	enabled     bool
	logger      *Logger
}

func NewBaseFeature(name, description string, enabled bool, logger *Logger) *BaseFeature {
	return &BaseFeature{
		name:        name,
		description: description,
		enabled:     enabled,
		logger:      logger,
	}
}

func (f *BaseFeature) Name() string {
	return f.name
}

func (f *BaseFeature) Description() string {
	return f.description
}

func (f *BaseFeature) Enabled() bool {
	return f.enabled
}

// Logger returns a logger tagged with the feature name
func (f *BaseFeature) Logger() *Logger {
	return f.logger.ForFeature(f.name)
}

func (f *BaseFeature) Init(ctx context.Context) error {
	f.Logger().Info("Initializing feature")
	return nil
}

func (f *BaseFeature) Routes() []Route {
	return nil
}

func (f *BaseFeature) Shutdown(ctx context.Context) error {
	f.Logger().Info("Shutting down feature")
	return nil
}
