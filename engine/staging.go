// Copyright 2026 The Ember Authors. All rights reserved.

package engine

import "github.com/embergfx/ember/driver"

// stagingAlign is the allocation granularity of staging
// buffers.
const stagingAlign = 16

// newStaging creates a host-visible buffer holding data,
// sized to len(data) rounded up to stagingAlign.
// The buffer serves exactly one upload: it is either the
// source of a single copy command or the texel input of a
// single transcode dispatch, and is destroyed when the
// batch that consumed it retires.
// usg must include driver.UCopySrc or driver.UTexelData
// according to how the upload will read it.
func (g *Graphics) newStaging(data []byte, usg driver.Usage) (driver.Buffer, error) {
	if len(data) == 0 {
		// Callers skip empty payloads.
		panic("newStaging: len(data) == 0")
	}
	n := (int64(len(data)) + stagingAlign - 1) &^ (stagingAlign - 1)
	buf, err := g.gpu.NewBuffer(n, true, usg)
	if err != nil {
		return nil, err
	}
	p := buf.Bytes()
	if p == nil {
		buf.Destroy()
		return nil, driver.ErrNoHostMemory
	}
	copy(p, data)
	return buf, nil
}
