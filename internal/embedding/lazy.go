package embedding

import (
	"context"
	"sync"
)

// Lazy defers provider construction until the first Embed call and
// guarantees the construction runs exactly once even under concurrent
// first use. Loading an embedding backend can be expensive (remote model
// warm-up, local model load), so the service wires a Lazy instance once
// per process and shares it across requests.
//
// Dimension and Name are served from configuration so callers can size
// stores before the provider has ever been used.
type Lazy struct {
	build     func() (Provider, error)
	dimension int
	name      string

	once sync.Once
	p    Provider
	err  error
}

// NewLazy wraps a provider constructor. dimension and name describe the
// provider that build will return.
func NewLazy(name string, dimension int, build func() (Provider, error)) *Lazy {
	return &Lazy{build: build, dimension: dimension, name: name}
}

func (l *Lazy) init() {
	l.once.Do(func() {
		l.p, l.err = l.build()
	})
}

// Embed initializes the underlying provider on first call and delegates.
func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	l.init()
	if l.err != nil {
		return nil, l.err
	}
	return l.p.Embed(ctx, texts)
}

// Dimension returns the configured vector length without initializing.
func (l *Lazy) Dimension() int { return l.dimension }

// Name returns the configured provider name without initializing.
func (l *Lazy) Name() string { return l.name }
