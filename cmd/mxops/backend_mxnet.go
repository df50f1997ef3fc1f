//go:build mxnet

package main

import (
	"github.com/gomx/gomx/pkg/engine"
	"github.com/gomx/gomx/pkg/engine/mxnet/capi"
)

func newBackend() engine.Backend {
	return capi.New()
}
