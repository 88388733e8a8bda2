package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledstrip-controller/internal/protocol"
)

func TestBuiltinsAreValid(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Lookup(name)
			require.NoError(t, err)
			assert.NoError(t, p.Validate())
		})
	}
}

func TestSingleProfile(t *testing.T) {
	p, err := Lookup(Single)
	require.NoError(t, err)

	assert.Equal(t, 7, p.TotalLEDs())
	assert.Equal(t, 7, p.Addressable())
	assert.Equal(t, 1, p.SegmentCount())
	assert.Equal(t, 7, p.MaxSegmentLength)
}

func TestOctoProfilePadding(t *testing.T) {
	p, err := Lookup(Octo)
	require.NoError(t, err)

	assert.Equal(t, 8, p.SegmentCount())
	assert.Equal(t, 120, p.MaxSegmentLength)
	assert.Equal(t, 8*120, p.Addressable())
	assert.Equal(t, 60+72+45+90+120+30+88+64, p.TotalLEDs())

	for i, s := range p.Segments {
		assert.Equal(t, i*120, s.Offset, "segment %d", i)
	}
}

func TestUnpaddedOffsets(t *testing.T) {
	p, err := New("custom", []int{3, 5, 2}, false)
	require.NoError(t, err)

	assert.Equal(t, []Segment{{3, 0}, {5, 3}, {2, 8}}, p.Segments)
	assert.Equal(t, 10, p.Addressable())
	assert.NoError(t, p.Validate())
}

func TestLocate(t *testing.T) {
	padded, err := New("padded", []int{3, 5}, true)
	require.NoError(t, err)
	flat, err := New("flat", []int{3, 5}, false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		p        *Profile
		index    int
		segment  int
		position int
		ok       bool
	}{
		{"padded first", padded, 0, 0, 0, true},
		{"padded end of short segment", padded, 2, 0, 2, true},
		{"padded gap", padded, 3, 0, 3, false},
		{"padded second segment", padded, 5, 1, 0, true},
		{"padded last", padded, 9, 1, 4, true},
		{"padded beyond", padded, 10, 0, 0, false},
		{"flat second segment", flat, 3, 1, 0, true},
		{"flat last", flat, 7, 1, 4, true},
		{"flat beyond", flat, 8, 0, 0, false},
		{"negative", flat, -1, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, pos, ok := tt.p.Locate(tt.index)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.segment, seg)
				assert.Equal(t, tt.position, pos)
			}
		})
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New("empty", nil, false)
	assert.Error(t, err)

	_, err = New("zero", []int{4, 0}, false)
	assert.Error(t, err)

	_, err = New("huge", []int{40000, 40000}, false)
	assert.Error(t, err)
}

func TestAddressableFitsOneSetAllMessage(t *testing.T) {
	assert.LessOrEqual(t, protocol.OpcodeSize+MaxAddressable*protocol.ColorSize, protocol.MaxMessageSize)

	p, err := New("largest", []int{MaxAddressable}, false)
	require.NoError(t, err)
	assert.Equal(t, MaxAddressable, p.Addressable())

	_, err = New("too big", []int{MaxAddressable + 1}, false)
	assert.Error(t, err)

	_, err = New("30k", []int{30000}, false)
	assert.Error(t, err)

	// Padding counts: two segments padded to the longest overflow.
	_, err = New("padded", []int{1, MaxAddressable/2 + 1}, true)
	assert.Error(t, err)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nope")
	assert.Error(t, err)
}
