// Copyright 2026 The Ember Authors. All rights reserved.

package mockgpu

import (
	"fmt"

	"github.com/embergfx/ember/driver"
)

// CmdBuffer records commands as closures and executes
// them when its GPU commits the work.
type CmdBuffer struct {
	gpu       *GPU
	recording bool
	ended     bool
	cmds      []func() error

	pl     *Pipeline
	table  *DescTable
	copies []int
}

func (c *CmdBuffer) Begin() error {
	if c.recording {
		panic("mockgpu: Begin while recording")
	}
	if c.ended {
		panic("mockgpu: Begin of pending command buffer")
	}
	c.recording = true
	return nil
}

func (c *CmdBuffer) IsRecording() bool { return c.recording }

func (c *CmdBuffer) record(cmd func() error) {
	if !c.recording {
		panic("mockgpu: command recorded outside Begin/End")
	}
	c.cmds = append(c.cmds, cmd)
}

func (c *CmdBuffer) SetPipeline(pl driver.Pipeline) {
	if !c.recording {
		panic("mockgpu: command recorded outside Begin/End")
	}
	c.pl = pl.(*Pipeline)
}

func (c *CmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	if !c.recording {
		panic("mockgpu: command recorded outside Begin/End")
	}
	c.table = table.(*DescTable)
	c.copies = append([]int{}, heapCopy...)
}

// Dispatch executes the RGB to RGBA transcode that the
// engine's compute shader performs, one group per
// destination texel: it reads 3-byte pixels from the
// bound texel buffer and stores them in the bound storage
// image with an opaque alpha channel.
func (c *CmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	c.gpu.count(func(n *Counts) { n.Dispatch++ })
	pl, table, copies := c.pl, c.table, append([]int{}, c.copies...)
	c.record(func() error {
		if pl == nil || table == nil || len(copies) == 0 {
			return errUnbound
		}
		if grpCountZ != 1 {
			panic("mockgpu: Dispatch with depth != 1")
		}
		h := table.heaps[0]
		src := h.copies[copies[0]][0]
		dst := h.copies[copies[0]][1]
		if src.buf == nil || dst.view == nil {
			return errUnbound
		}
		if src.pf != driver.R8un {
			panic("mockgpu: Dispatch source is not a R8un texel buffer")
		}
		src.buf.use()
		img := dst.view.img
		img.use()
		if err := img.requireLayout(dst.view.layer, 1, dst.view.level, 1, driver.LCommon, "Dispatch"); err != nil {
			return err
		}
		s := src.buf.b[src.off : src.off+src.size]
		d := img.data[img.sub(dst.view.layer, dst.view.level)]
		for y := 0; y < grpCountY; y++ {
			for x := 0; x < grpCountX; x++ {
				si := 3 * (y*grpCountX + x)
				di := 4 * (y*img.size.Width + x)
				d[di] = s[si]
				d[di+1] = s[si+1]
				d[di+2] = s[si+2]
				d[di+3] = 0xff
			}
		}
		return nil
	})
}

func (c *CmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	c.gpu.count(func(n *Counts) { n.CopyBuffer++ })
	p := *param
	c.record(func() error {
		from, to := p.From.(*Buffer), p.To.(*Buffer)
		from.use()
		to.use()
		copy(to.b[p.ToOff:p.ToOff+p.Size], from.b[p.FromOff:])
		return nil
	})
}

func (c *CmdBuffer) CopyImage(param *driver.ImageCopy) {
	c.gpu.count(func(n *Counts) { n.CopyImage++ })
	p := *param
	c.record(func() error {
		from, to := p.From.(*Image), p.To.(*Image)
		from.use()
		to.use()
		if from.pf.Size() != to.pf.Size() {
			panic("mockgpu: CopyImage with mismatched pixel sizes")
		}
		layers := max(p.Layers, 1)
		if err := from.requireLayout(p.FromLayer, layers, p.FromLevel, 1, driver.LCopySrc, "CopyImage"); err != nil {
			return err
		}
		if err := to.requireLayout(p.ToLayer, layers, p.ToLevel, 1, driver.LCopyDst, "CopyImage"); err != nil {
			return err
		}
		ps := from.pf.Size()
		for i := 0; i < layers; i++ {
			s := from.data[from.sub(p.FromLayer+i, p.FromLevel)]
			d := to.data[to.sub(p.ToLayer+i, p.ToLevel)]
			for z := 0; z < max(p.Size.Depth, 1); z++ {
				for y := 0; y < p.Size.Height; y++ {
					si := ps * (((p.FromOff.Z+z)*from.size.Height+p.FromOff.Y+y)*from.size.Width + p.FromOff.X)
					di := ps * (((p.ToOff.Z+z)*to.size.Height+p.ToOff.Y+y)*to.size.Width + p.ToOff.X)
					copy(d[di:di+ps*p.Size.Width], s[si:])
				}
			}
		}
		return nil
	})
}

func (c *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	c.gpu.count(func(n *Counts) { n.CopyBufToImg++ })
	p := *param
	c.record(func() error {
		buf, img := p.Buf.(*Buffer), p.Img.(*Image)
		buf.use()
		img.use()
		layers := max(p.Layers, 1)
		if err := img.requireLayout(p.Layer, layers, p.Level, 1, driver.LCopyDst, "CopyBufToImg"); err != nil {
			return err
		}
		eachRow(&p, img, func(bufOff int64, imgOff, n int, data []byte) {
			copy(data[imgOff:imgOff+n], buf.b[bufOff:])
		})
		return nil
	})
}

func (c *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {
	c.gpu.count(func(n *Counts) { n.CopyImgToBuf++ })
	p := *param
	c.record(func() error {
		buf, img := p.Buf.(*Buffer), p.Img.(*Image)
		buf.use()
		img.use()
		layers := max(p.Layers, 1)
		if err := img.requireLayout(p.Layer, layers, p.Level, 1, driver.LCopySrc, "CopyImgToBuf"); err != nil {
			return err
		}
		eachRow(&p, img, func(bufOff int64, imgOff, n int, data []byte) {
			copy(buf.b[bufOff:bufOff+int64(n)], data[imgOff:])
		})
		return nil
	})
}

// eachRow walks the rows of a buffer/image copy, calling
// f with the buffer offset, image offset and byte count
// of each row alongside the subresource's pixel storage.
// Stride parameters are given in pixels; zero means
// tightly packed.
func eachRow(p *driver.BufImgCopy, img *Image, f func(bufOff int64, imgOff, n int, data []byte)) {
	ps := img.pf.Size()
	rowStrd := p.RowStrd
	if rowStrd == 0 {
		rowStrd = p.Size.Width
	}
	slcStrd := p.SlcStrd
	if slcStrd == 0 {
		slcStrd = rowStrd * p.Size.Height
	}
	depth := max(p.Size.Depth, 1)
	for i := 0; i < max(p.Layers, 1); i++ {
		data := img.data[img.sub(p.Layer+i, p.Level)]
		layerOff := p.BufOff + int64(ps*slcStrd*depth*i)
		for z := 0; z < depth; z++ {
			for y := 0; y < p.Size.Height; y++ {
				bufOff := layerOff + int64(ps*(slcStrd*z+rowStrd*y))
				imgOff := ps * (((p.ImgOff.Z+z)*img.size.Height+p.ImgOff.Y+y)*img.size.Width + p.ImgOff.X)
				f(bufOff, imgOff, ps*p.Size.Width, data)
			}
		}
	}
}

func (c *CmdBuffer) Update(buf driver.Buffer, off int64, data []byte) {
	if len(data)%4 != 0 || len(data) > driver.UpdateLimit {
		panic(fmt.Sprintf("mockgpu: Update with invalid data length %d", len(data)))
	}
	c.gpu.count(func(n *Counts) { n.Update++ })
	b := buf.(*Buffer)
	d := append([]byte{}, data...)
	c.record(func() error {
		b.use()
		copy(b.b[off:], d)
		return nil
	})
}

func (c *CmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	c.gpu.count(func(n *Counts) { n.Fill++ })
	b := buf.(*Buffer)
	c.record(func() error {
		b.use()
		for i := off; i < off+size; i++ {
			b.b[i] = value
		}
		return nil
	})
}

func (c *CmdBuffer) Barrier(b []driver.Barrier) {
	c.gpu.count(func(n *Counts) { n.Barrier++ })
	c.record(func() error { return nil })
}

func (c *CmdBuffer) Transition(t []driver.Transition) {
	c.gpu.count(func(n *Counts) { n.Transition++ })
	ts := append([]driver.Transition{}, t...)
	c.record(func() error {
		for i := range ts {
			img := ts[i].Img.(*Image)
			img.use()
			if ts[i].LayoutBefore != driver.LUndefined {
				if err := img.requireLayout(ts[i].Layer, ts[i].Layers, ts[i].Level, ts[i].Levels, ts[i].LayoutBefore, "Transition"); err != nil {
					return err
				}
			}
			for l := ts[i].Layer; l < ts[i].Layer+ts[i].Layers; l++ {
				for v := ts[i].Level; v < ts[i].Level+ts[i].Levels; v++ {
					img.layout[img.sub(l, v)] = ts[i].LayoutAfter
				}
			}
		}
		return nil
	})
}

func (c *CmdBuffer) End() error {
	if !c.recording {
		panic("mockgpu: End without Begin")
	}
	c.recording = false
	c.ended = true
	return nil
}

func (c *CmdBuffer) Reset() error {
	c.recording = false
	c.ended = false
	c.cmds = nil
	c.pl = nil
	c.table = nil
	c.copies = nil
	return nil
}

func (c *CmdBuffer) Destroy() { c.Reset() }
