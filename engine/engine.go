// Copyright 2026 The Ember Authors. All rights reserved.

// Package engine implements GPU resource streaming: the
// staging, upload and pixel-transcode pipeline that sits
// between CPU-side asset data and the renderer.
package engine

import "strings"

// ID identifies an engine-level entity (e.g., the render
// target that produced a texture).
// The zero value means "no entity".
type ID uint64

// MaxBatch is the default number of upload batches that
// may be in flight on the GPU at once.
// It matches the frame pipelining depth of the renderer.
const MaxBatch = 3

// Config is used to configure a Graphics context.
// The zero value is usable.
type Config struct {
	// The maximum number of upload batches in flight.
	// FlushUploads blocks when the limit is reached.
	//
	// Default is MaxBatch.
	MaxBatch int

	// The number of transcode invocations that may be
	// pending at once across all in-flight batches.
	//
	// Default is 256.
	MaxTranscode int
}

const (
	dflMaxBatch     = MaxBatch
	dflMaxTranscode = 256
)

// sanitize returns a copy of c with defaults applied.
// A nil c yields the default configuration.
func (c *Config) sanitize() Config {
	var cfg Config
	if c != nil {
		cfg = *c
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = dflMaxBatch
	}
	if cfg.MaxTranscode <= 0 {
		cfg.MaxTranscode = dflMaxTranscode
	}
	return cfg
}

// matchName reports whether a driver name matches the
// requested name string. It is case insensitive, and the
// empty string matches anything.
func matchName(drvName, name string) bool {
	return strings.Contains(strings.ToLower(drvName), strings.ToLower(name))
}
