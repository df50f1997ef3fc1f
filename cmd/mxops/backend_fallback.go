//go:build !mxnet

package main

import (
	"github.com/gomx/gomx/pkg/engine"
	"github.com/gomx/gomx/pkg/engine/fallback"
)

// Without the mxnet build tag there is no native library; use the pure-Go
// backend.
func newBackend() engine.Backend {
	return fallback.New()
}
