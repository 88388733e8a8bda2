// Package profile describes the addressable-LED geometry of one controller.
//
// A Profile is selected once at startup and never changes while the
// controller runs. Offsets are derived from the segment lengths so they
// cannot drift out of sync with them.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"ledstrip-controller/internal/protocol"
)

// Segment is one physical strip attached to the controller.
type Segment struct {
	// Length is the number of LEDs physically present on the strip.
	Length int `yaml:"length" json:"length"`
	// Offset is the first logical index of the strip.
	Offset int `yaml:"-" json:"offset"`
}

// Profile is the static geometry of one controller instance.
type Profile struct {
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
	// MaxSegmentLength is the per-segment stride of the padded layout.
	MaxSegmentLength int `json:"maxSegmentLength"`
	// Padded lays segments out at multiples of MaxSegmentLength to match
	// driver memory, leaving gaps after shorter segments.
	Padded bool `json:"padded"`

	total       int
	addressable int
}

// New builds a profile from per-segment lengths. When padded is set every
// segment starts at a multiple of the longest segment.
func New(name string, lengths []int, padded bool) (*Profile, error) {
	if len(lengths) == 0 {
		return nil, fmt.Errorf("profile %q: at least one segment is required", name)
	}

	p := &Profile{
		Name:     name,
		Segments: make([]Segment, len(lengths)),
		Padded:   padded,
	}

	for i, n := range lengths {
		if n <= 0 {
			return nil, fmt.Errorf("profile %q: segment %d has invalid length %d", name, i, n)
		}
		if n > p.MaxSegmentLength {
			p.MaxSegmentLength = n
		}
		p.total += n
	}

	offset := 0
	for i, n := range lengths {
		if padded {
			offset = i * p.MaxSegmentLength
		}
		p.Segments[i] = Segment{Length: n, Offset: offset}
		offset += n
	}

	if padded {
		p.addressable = len(lengths) * p.MaxSegmentLength
	} else {
		p.addressable = p.total
	}

	if p.addressable > MaxAddressable {
		return nil, fmt.Errorf("profile %q: %d addressable LEDs exceeds the %d an LA message can carry", name, p.addressable, MaxAddressable)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MaxAddressable is the largest framebuffer whose LA message still fits
// the acknowledgement's 16-bit length field.
const MaxAddressable = (protocol.MaxMessageSize - protocol.OpcodeSize) / protocol.ColorSize

// TotalLEDs is the number of physically present LEDs.
func (p *Profile) TotalLEDs() int { return p.total }

// Addressable is the framebuffer length, including padding gaps.
func (p *Profile) Addressable() int { return p.addressable }

// SegmentCount returns the number of strip segments.
func (p *Profile) SegmentCount() int { return len(p.Segments) }

// Locate maps a logical index to its segment and position within it.
// ok is false for indices beyond the framebuffer and for padding gaps.
func (p *Profile) Locate(index int) (segment, position int, ok bool) {
	if index < 0 || index >= p.addressable {
		return 0, 0, false
	}
	if p.Padded {
		segment = index / p.MaxSegmentLength
		position = index % p.MaxSegmentLength
		return segment, position, position < p.Segments[segment].Length
	}
	// Offsets are strictly increasing.
	segment = sort.Search(len(p.Segments), func(i int) bool {
		s := p.Segments[i]
		return s.Offset+s.Length > index
	})
	return segment, index - p.Segments[segment].Offset, true
}

// Validate checks the offset invariants.
func (p *Profile) Validate() error {
	prev := -1
	for i, s := range p.Segments {
		if s.Offset <= prev {
			return fmt.Errorf("profile %q: segment %d offset %d is not increasing", p.Name, i, s.Offset)
		}
		if p.Padded && s.Offset != i*p.MaxSegmentLength {
			return fmt.Errorf("profile %q: segment %d offset %d, want %d", p.Name, i, s.Offset, i*p.MaxSegmentLength)
		}
		prev = s.Offset
	}
	last := p.Segments[len(p.Segments)-1]
	if !p.Padded && last.Offset+last.Length != p.total {
		return fmt.Errorf("profile %q: segments end at %d, total is %d", p.Name, last.Offset+last.Length, p.total)
	}
	return nil
}

func (p *Profile) String() string {
	lengths := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		lengths[i] = fmt.Sprint(s.Length)
	}
	return fmt.Sprintf("%s[%s padded=%t addressable=%d]", p.Name, strings.Join(lengths, ","), p.Padded, p.addressable)
}
