// Package env holds the Environment struct: the one place every
// component-wide collaborator (logger, settings, manifest, thread
// pools) lives, passed explicitly to every component constructor
// instead of being reached through package-level singletons. DariaDB
// reaches its manifest, thread manager, and chunk pool through global
// singletons; this collects them into one struct whose lifecycle the
// engine owns.
package env

import (
	"go.uber.org/zap"

	"github.com/chronoflux/tsengine/manifest"
	"github.com/chronoflux/tsengine/settings"
	"github.com/chronoflux/tsengine/threadpool"
)

// Environment bundles the engine's ambient collaborators.
type Environment struct {
	Root     string
	Logger   *zap.Logger
	Settings settings.Settings
	Manifest *manifest.Manifest
	Pools    *threadpool.Manager
}

// Open loads or creates root's settings and manifest, starts the
// thread pools, and returns the assembled Environment. logger must not
// be nil; callers that don't want logging pass zap.NewNop().
func Open(root string, logger *zap.Logger) (*Environment, error) {
	s, err := settings.Load(root)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Open(root)
	if err != nil {
		return nil, err
	}

	return &Environment{
		Root:     root,
		Logger:   logger,
		Settings: s,
		Manifest: m,
		Pools:    threadpool.NewManager(),
	}, nil
}

// Close stops the thread pools, draining pending work first.
func (e *Environment) Close() {
	e.Pools.Stop()
}
