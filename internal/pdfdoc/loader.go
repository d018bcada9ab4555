// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdfdoc

import (
	"fmt"
	"sync"
)

// Factory produces an Author. It may fail, for example when an external
// capability is unavailable.
type Factory func() (Author, error)

// Loader acquires an Author lazily. Concurrent callers share a single load;
// a failed load is not remembered, so the next call tries again.
type Loader struct {
	factory Factory

	mu     sync.Mutex
	author Author
	loads  int
}

// NewLoader returns a Loader backed by factory.
func NewLoader(factory Factory) *Loader {
	return &Loader{factory: factory}
}

// DefaultLoader returns a Loader for the statically linked fpdf Author.
func DefaultLoader(pageWidthMM, pageHeightMM float64) *Loader {
	return NewLoader(func() (Author, error) {
		return NewFPDF(pageWidthMM, pageHeightMM), nil
	})
}

// Author returns the cached Author, loading it on first use.
func (l *Loader) Author() (Author, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.author != nil {
		return l.author, nil
	}
	if l.factory == nil {
		return nil, fmt.Errorf("no document author configured")
	}

	l.loads++
	a, err := l.factory()
	if err != nil {
		return nil, fmt.Errorf("loading document author: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("loading document author: factory returned no author")
	}
	l.author = a
	return a, nil
}

// Loads reports how many times the factory has been invoked.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
