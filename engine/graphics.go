// Copyright 2026 The Ember Authors. All rights reserved.

package engine

import (
	"errors"
	"log/slog"

	"github.com/embergfx/ember/driver"
)

const gfxPrefix = "graphics: "

var errNoDriver = errors.New(gfxPrefix + "driver not found")

// Graphics combines a GPU with the upload machinery.
// It owns the pending upload queues, the staging buffers
// backing them and the pixel transcoder state.
//
// A Graphics must not be shared between goroutines that
// record or flush uploads; all methods assume a single
// logical frame-update caller. The only internal
// concurrency is the retire goroutine, which runs after
// the GPU reports batch completion.
type Graphics struct {
	gpu    driver.GPU
	limits driver.Limits
	conv   *transcoder

	bufUploads []bufferUpload
	imgUploads []imageUpload

	// Resources recorded by the direct path that retire
	// with the next committed batch.
	pendRetire []driver.Destroyer
	pendCopies []int

	// Free batches. Acquiring all of them means no work
	// is in flight.
	batches chan *batch
	done    chan *driver.WorkItem
	reaped  chan struct{}
	nbatch  int
}

// batch is one flush's command buffer plus the transient
// resources that must outlive its execution.
type batch struct {
	cb     driver.CmdBuffer
	wk     *driver.WorkItem
	retire []driver.Destroyer
	// Transcoder descriptor copies to release.
	convCopies []int
}

// New creates a Graphics context from an open GPU.
// It allocates the transcode pipeline and the command
// buffers used by FlushUploads.
func New(gpu driver.GPU, cfg *Config) (*Graphics, error) {
	c := cfg.sanitize()
	conv, err := newTranscoder(gpu, c.MaxTranscode)
	if err != nil {
		return nil, err
	}
	g := &Graphics{
		gpu:     gpu,
		limits:  gpu.Limits(),
		conv:    conv,
		batches: make(chan *batch, c.MaxBatch),
		done:    make(chan *driver.WorkItem, c.MaxBatch),
		reaped:  make(chan struct{}),
		nbatch:  c.MaxBatch,
	}
	for i := 0; i < c.MaxBatch; i++ {
		cb, err := gpu.NewCmdBuffer()
		if err != nil {
			for j := 0; j < i; j++ {
				b := <-g.batches
				b.cb.Destroy()
			}
			conv.destroy()
			return nil, err
		}
		b := &batch{cb: cb}
		b.wk = &driver.WorkItem{Work: []driver.CmdBuffer{cb}, Custom: b}
		g.batches <- b
	}
	go g.reap()
	return g, nil
}

// Open creates a Graphics context from a registered driver
// whose name contains name (case insensitive; the empty
// string matches any driver).
func Open(name string, cfg *Config) (*Graphics, error) {
	for _, d := range driver.Drivers() {
		if !matchName(d.Name(), name) {
			continue
		}
		gpu, err := d.Open()
		if err != nil {
			continue
		}
		return New(gpu, cfg)
	}
	return nil, errNoDriver
}

// GPU returns the driver.GPU that g operates.
func (g *Graphics) GPU() driver.GPU { return g.gpu }

// Limits returns the GPU limits.
// This value is retrieved only once. It must not be
// changed by the caller.
func (g *Graphics) Limits() *driver.Limits { return &g.limits }

// reap destroys the transient resources of completed
// batches and returns their command buffers to the pool.
// It runs until g.done is closed by Close.
func (g *Graphics) reap() {
	for wk := range g.done {
		b := wk.Custom.(*batch)
		if wk.Err != nil {
			slog.Error("upload batch failed", "err", wk.Err)
		}
		for _, x := range b.retire {
			x.Destroy()
		}
		b.retire = b.retire[:0]
		for _, cpy := range b.convCopies {
			g.conv.releaseCopy(cpy)
		}
		b.convCopies = b.convCopies[:0]
		wk.Err = nil
		g.batches <- b
	}
	close(g.reaped)
}

// Close waits for in-flight batches to complete and then
// destroys everything the context owns.
// Pending uploads that were never flushed are dropped.
func (g *Graphics) Close() {
	// Taking every batch from the pool implies that the
	// reaper has processed all committed work.
	bs := make([]*batch, g.nbatch)
	for i := range bs {
		bs[i] = <-g.batches
	}
	close(g.done)
	<-g.reaped
	for _, b := range bs {
		b.cb.Destroy()
	}
	g.DropUploads()
	for _, x := range g.pendRetire {
		x.Destroy()
	}
	g.pendRetire = nil
	g.pendCopies = nil
	g.conv.destroy()
	*g = Graphics{}
}
