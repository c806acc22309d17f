// Copyright 2026 The Ember Authors. All rights reserved.

package mockgpu

import "github.com/embergfx/ember/driver"

// drv implements driver.Driver for the mock GPU.
type drv struct{ gpu *GPU }

var mockDrv drv

func init() { driver.Register(&mockDrv) }

func (d *drv) Open() (driver.GPU, error) {
	if d.gpu == nil {
		d.gpu = New()
	}
	return d.gpu, nil
}

func (d *drv) Name() string { return "mock" }

func (d *drv) Close() { d.gpu = nil }
