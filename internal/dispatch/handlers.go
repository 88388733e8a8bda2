package dispatch

import (
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/protocol"
)

// handler applies a length-validated payload. It returns the number of
// pixels written and whether a refresh was requested.
type handler func(d *Dispatcher, c *protocol.Cursor) (int, bool, error)

var handlers = map[protocol.Opcode]handler{
	protocol.OpSetOne:       (*Dispatcher).setOne,
	protocol.OpClear:        (*Dispatcher).clear,
	protocol.OpSetMany:      (*Dispatcher).setMany,
	protocol.OpSetAll:       (*Dispatcher).setAll,
	protocol.OpSetManyColor: (*Dispatcher).setManyColor,
	protocol.OpShow:         (*Dispatcher).show,
}

func (d *Dispatcher) setOne(c *protocol.Cursor) (int, bool, error) {
	id, err := c.Uint16()
	if err != nil {
		return 0, false, err
	}
	col, err := c.Color()
	if err != nil {
		return 0, false, err
	}

	d.diagf("Set the colour of LED %d to (%d, %d, %d)", id, col.R, col.G, col.B)
	n, err := d.applyBatch([]protocol.LED{{ID: id, Color: col}})
	return n, false, err
}

func (d *Dispatcher) clear(_ *protocol.Cursor) (int, bool, error) {
	d.diag("Clear all LEDs")
	d.fb.Clear()
	return d.fb.Len(), false, nil
}

func (d *Dispatcher) setMany(c *protocol.Cursor) (int, bool, error) {
	n, err := c.Uint16()
	if err != nil {
		return 0, false, err
	}

	leds := make([]protocol.LED, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := c.Uint16()
		if err != nil {
			return 0, false, err
		}
		col, err := c.Color()
		if err != nil {
			return 0, false, err
		}
		leds = append(leds, protocol.LED{ID: id, Color: col})
	}

	d.diagf("Set the colour of %d LEDs", n)
	applied, err := d.applyBatch(leds)
	return applied, false, err
}

func (d *Dispatcher) setAll(c *protocol.Cursor) (int, bool, error) {
	pixels := make([]framebuffer.Color, d.fb.Len())
	for i := range pixels {
		col, err := c.Color()
		if err != nil {
			return 0, false, err
		}
		pixels[i] = col
	}

	d.diag("Set the colour of all LEDs")
	applied := 0
	for i, col := range pixels {
		// Positional: padding pixels are written too so the buffer
		// matches the driver layout byte for byte.
		if err := d.fb.Set(i, col); err == nil {
			applied++
		}
	}
	return applied, false, nil
}

func (d *Dispatcher) setManyColor(c *protocol.Cursor) (int, bool, error) {
	n, err := c.Uint16()
	if err != nil {
		return 0, false, err
	}
	col, err := c.Color()
	if err != nil {
		return 0, false, err
	}

	leds := make([]protocol.LED, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := c.Uint16()
		if err != nil {
			return 0, false, err
		}
		leds = append(leds, protocol.LED{ID: id, Color: col})
	}

	d.diagf("Set the colour of %d LEDs to (%d, %d, %d)", n, col.R, col.G, col.B)
	applied, err := d.applyBatch(leds)
	return applied, false, err
}

func (d *Dispatcher) show(_ *protocol.Cursor) (int, bool, error) {
	d.diag("Show LED updates now")
	return 0, true, nil
}

// applyBatch validates every id before writing any of them, then applies
// the batch according to the batch policy. Later writes to the same id win.
func (d *Dispatcher) applyBatch(leds []protocol.LED) (int, error) {
	var rejected protocol.IndexErrors
	valid := make([]bool, len(leds))

	for i, l := range leds {
		if err := d.checkIndex(int(l.ID)); err != nil {
			d.diag(err.Error())
			rejected = append(rejected, err)
			continue
		}
		valid[i] = true
	}

	if len(rejected) > 0 && d.config.BatchPolicy == AllOrNothing {
		d.diagf("Batch of %d LEDs dropped", len(leds))
		return 0, rejected
	}

	applied := 0
	for i, l := range leds {
		if !valid[i] {
			continue
		}
		if err := d.fb.Set(int(l.ID), l.Color); err == nil {
			applied++
		}
	}

	if len(rejected) > 0 {
		return applied, rejected
	}
	return applied, nil
}

// checkIndex rejects ids beyond the framebuffer and, with segment checking,
// ids that address padding after a short segment.
func (d *Dispatcher) checkIndex(index int) error {
	if !d.fb.InRange(index) {
		return &protocol.OutOfRangeError{Index: index, Limit: d.fb.Len()}
	}
	if !d.config.SegmentCheck {
		return nil
	}
	seg, pos, ok := d.profile.Locate(index)
	if !ok {
		return &protocol.SegmentGapError{
			Index:    index,
			Segment:  seg,
			Position: pos,
			Length:   d.profile.Segments[seg].Length,
		}
	}
	return nil
}
