package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/protocol"
)

// recorder collects diagnostics for assertions.
type recorder struct {
	msgs []string
}

func (r *recorder) Diagnostic(msg string) { r.msgs = append(r.msgs, msg) }

func (r *recorder) contains(sub string) bool {
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func newDispatcher(t *testing.T, name string, opts ...Option) (*Dispatcher, *recorder) {
	t.Helper()
	p, err := profile.Lookup(name)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(p, framebuffer.New(p.Addressable()), append([]Option{WithDiagnostics(rec)}, opts...)...)
	require.NoError(t, err)
	return d, rec
}

var red = framebuffer.Color{R: 255}

func TestSetOneRoundTrip(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	msg := []byte{'L', '1', 0, 3, 10, 20, 30}

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, protocol.OpSetOne, res.Opcode)
	assert.False(t, res.Refresh)
	assert.Equal(t, []byte{0, 7, 0, 0, 0, 188}, res.Response.Bytes())

	want := make([]framebuffer.Color, 7)
	want[3] = framebuffer.Color{R: 10, G: 20, B: 30}
	assert.Equal(t, want, d.Framebuffer().Snapshot())
}

func TestSetManyColorBatch(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	msg, err := protocol.BuildSetManyColor(red, 1, 5)
	require.NoError(t, err)
	require.Len(t, msg, 11)

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Applied)
	want := make([]framebuffer.Color, 7)
	want[1], want[5] = red, red
	assert.Equal(t, want, d.Framebuffer().Snapshot())
}

func TestSetMany(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	msg, err := protocol.BuildSetMany([]protocol.LED{
		{ID: 0, Color: framebuffer.Color{R: 1}},
		{ID: 6, Color: framebuffer.Color{G: 2}},
	})
	require.NoError(t, err)

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, framebuffer.Color{R: 1}, d.Framebuffer().At(0))
	assert.Equal(t, framebuffer.Color{G: 2}, d.Framebuffer().At(6))
}

func TestSetManyZeroIsNoOp(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	d.Framebuffer().Fill(red)

	res := d.Dispatch([]byte{'L', 'N', 0, 0})

	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Applied)
	for _, c := range d.Framebuffer().Snapshot() {
		assert.Equal(t, red, c)
	}
}

func TestDuplicateIDLastWriteWins(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	msg, err := protocol.BuildSetMany([]protocol.LED{
		{ID: 2, Color: framebuffer.Color{R: 1}},
		{ID: 2, Color: framebuffer.Color{B: 9}},
	})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(msg).Err)
	assert.Equal(t, framebuffer.Color{B: 9}, d.Framebuffer().At(2))
}

func TestSetAll(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	pixels := make([]framebuffer.Color, 7)
	for i := range pixels {
		pixels[i] = framebuffer.Color{R: uint8(i), G: uint8(i * 2), B: uint8(i * 3)}
	}
	msg, err := protocol.BuildSetAll(pixels)
	require.NoError(t, err)
	require.Len(t, msg, 2+3*7)

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, 7, res.Applied)
	assert.Equal(t, pixels, d.Framebuffer().Snapshot())
}

func TestSetAllPaddedProfile(t *testing.T) {
	d, _ := newDispatcher(t, profile.Octo)
	p := d.Profile()
	pixels := make([]framebuffer.Color, p.SegmentCount()*p.MaxSegmentLength)
	for i := range pixels {
		pixels[i] = red
	}
	msg, err := protocol.BuildSetAll(pixels)
	require.NoError(t, err)

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, len(pixels), res.Applied)
}

func TestClearIsIdempotent(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	d.Framebuffer().Fill(red)

	require.NoError(t, d.Dispatch(protocol.BuildClear()).Err)
	once := d.Framebuffer().Snapshot()
	require.NoError(t, d.Dispatch(protocol.BuildClear()).Err)

	assert.Equal(t, make([]framebuffer.Color, 7), once)
	assert.Equal(t, once, d.Framebuffer().Snapshot())
}

func TestShowRequestsRefresh(t *testing.T) {
	d, rec := newDispatcher(t, profile.Single)

	res := d.Dispatch(protocol.BuildShow())

	require.NoError(t, res.Err)
	assert.True(t, res.Refresh)
	assert.True(t, rec.contains("Show"))
}

func TestOnlyShowRefreshes(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	setMany, _ := protocol.BuildSetMany([]protocol.LED{{ID: 1}})
	setColor, _ := protocol.BuildSetManyColor(red, 1)
	setAll, _ := protocol.BuildSetAll(make([]framebuffer.Color, 7))

	for _, msg := range [][]byte{protocol.BuildSetOne(1, red), protocol.BuildClear(), setMany, setColor, setAll} {
		assert.False(t, d.Dispatch(msg).Refresh, string(msg[:2]))
	}
}

func TestLengthMismatch(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want int
	}{
		{"L1 short", []byte{'L', '1', 0, 3, 10, 20}, 7},
		{"L1 long", []byte{'L', '1', 0, 3, 10, 20, 30, 40}, 7},
		{"LC with payload", []byte{'L', 'C', 0}, 2},
		{"SN with payload", []byte{'S', 'N', 1}, 2},
		{"LN count disagrees", []byte{'L', 'N', 0, 2, 0, 1, 1, 2, 3}, 14},
		{"LN missing count", []byte{'L', 'N'}, 4},
		{"LA short", []byte{'L', 'A', 1, 2, 3}, 23},
		{"CN count disagrees", []byte{'C', 'N', 0, 1, 1, 2, 3}, 9},
		{"CN truncated color", []byte{'C', 'N', 0, 0, 1}, 7},
		{"empty", []byte{}, 2},
		{"single byte", []byte{'L'}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := newDispatcher(t, profile.Single)
			d.Framebuffer().Fill(red)
			before := d.Framebuffer().Snapshot()

			res := d.Dispatch(tt.msg)

			var mismatch *protocol.LengthMismatchError
			require.ErrorAs(t, res.Err, &mismatch)
			assert.Equal(t, len(tt.msg), mismatch.Got)
			assert.Equal(t, tt.want, mismatch.Want)
			assert.False(t, res.Refresh)
			assert.Equal(t, before, d.Framebuffer().Snapshot())
			assert.Equal(t, protocol.NewResponse(tt.msg), res.Response)
			assert.True(t, rec.contains("bytes received,"), "diagnostics: %v", rec.msgs)
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	for _, msg := range [][]byte{[]byte("ZZ"), []byte("ZZ12345"), {'Z', 'Z', 0xFF}} {
		d, rec := newDispatcher(t, profile.Single)

		res := d.Dispatch(msg)

		var unknown *protocol.UnknownOpcodeError
		require.ErrorAs(t, res.Err, &unknown)
		assert.Equal(t, "ZZ", unknown.Tag)
		assert.True(t, rec.contains("'ZZ'"))
		assert.Equal(t, make([]framebuffer.Color, 7), d.Framebuffer().Snapshot())
		assert.Equal(t, uint16(len(msg)), res.Response.Length)
		assert.Equal(t, protocol.Checksum(msg), res.Response.Checksum)
	}
}

func TestResponseAlwaysReflectsReceivedBytes(t *testing.T) {
	d, _ := newDispatcher(t, profile.Single)
	msgs := [][]byte{
		protocol.BuildSetOne(99, red),
		protocol.BuildShow(),
		{'L', 'N', 0xFF, 0xFF},
		[]byte("??"),
		nil,
	}
	for _, msg := range msgs {
		res := d.Dispatch(msg)
		assert.Equal(t, uint16(len(msg)), res.Response.Length)
		assert.Equal(t, protocol.Checksum(msg), res.Response.Checksum)
	}
}

func TestSetAllLargestProfile(t *testing.T) {
	p, err := profile.New("largest", []int{profile.MaxAddressable}, false)
	require.NoError(t, err)
	d, err := New(p, framebuffer.New(p.Addressable()), WithDiagnostics(&recorder{}))
	require.NoError(t, err)

	pixels := make([]framebuffer.Color, p.Addressable())
	for i := range pixels {
		pixels[i] = red
	}
	msg, err := protocol.BuildSetAll(pixels)
	require.NoError(t, err)

	res := d.Dispatch(msg)

	require.NoError(t, res.Err)
	assert.Equal(t, p.Addressable(), res.Applied)
	assert.Equal(t, len(msg), int(res.Response.Length))
}

func TestOversizedMessageRejected(t *testing.T) {
	d, rec := newDispatcher(t, profile.Single)
	msg := make([]byte, protocol.MaxMessageSize+1)
	copy(msg, "LA")

	res := d.Dispatch(msg)

	var mismatch *protocol.LengthMismatchError
	require.ErrorAs(t, res.Err, &mismatch)
	assert.Equal(t, len(msg), mismatch.Got)
	assert.Equal(t, protocol.MaxMessageSize, mismatch.Want)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, uint16(protocol.MaxMessageSize), res.Response.Length)
	assert.Equal(t, make([]framebuffer.Color, 7), d.Framebuffer().Snapshot())
	assert.True(t, rec.contains("bytes received,"), "diagnostics: %v", rec.msgs)
}

func TestOutOfRangeRejected(t *testing.T) {
	d, rec := newDispatcher(t, profile.Single)

	res := d.Dispatch(protocol.BuildSetOne(7, red))

	var oor *protocol.OutOfRangeError
	require.ErrorAs(t, res.Err, &oor)
	assert.Equal(t, 7, oor.Index)
	assert.Equal(t, 7, oor.Limit)
	assert.Equal(t, 0, res.Applied)
	assert.True(t, rec.contains("out of range"))
	assert.Equal(t, make([]framebuffer.Color, 7), d.Framebuffer().Snapshot())
}

func TestBatchPolicies(t *testing.T) {
	msg, err := protocol.BuildSetManyColor(red, 1, 900, 2)
	require.NoError(t, err)

	t.Run("best effort skips only the bad id", func(t *testing.T) {
		d, _ := newDispatcher(t, profile.Single)
		res := d.Dispatch(msg)

		var errs protocol.IndexErrors
		require.ErrorAs(t, res.Err, &errs)
		assert.Len(t, errs, 1)
		assert.Equal(t, 2, res.Applied)
		assert.Equal(t, red, d.Framebuffer().At(1))
		assert.Equal(t, red, d.Framebuffer().At(2))
	})

	t.Run("all or nothing drops the batch", func(t *testing.T) {
		d, _ := newDispatcher(t, profile.Single, WithBatchPolicy(AllOrNothing))
		res := d.Dispatch(msg)

		require.Error(t, res.Err)
		assert.Equal(t, 0, res.Applied)
		assert.Equal(t, make([]framebuffer.Color, 7), d.Framebuffer().Snapshot())
	})
}

func TestSegmentGap(t *testing.T) {
	// Segment 0 of the octo board has 60 LEDs in a 120-wide stride.
	gap := uint16(70)
	inSegment := uint16(120 + 71)

	t.Run("checked", func(t *testing.T) {
		d, _ := newDispatcher(t, profile.Octo)
		res := d.Dispatch(protocol.BuildSetOne(gap, red))

		var gapErr *protocol.SegmentGapError
		require.ErrorAs(t, res.Err, &gapErr)
		assert.Equal(t, 0, gapErr.Segment)
		assert.Equal(t, 60, gapErr.Length)
		assert.Equal(t, framebuffer.Black, d.Framebuffer().At(int(gap)))

		require.NoError(t, d.Dispatch(protocol.BuildSetOne(inSegment, red)).Err)
		assert.Equal(t, red, d.Framebuffer().At(int(inSegment)))
	})

	t.Run("unchecked", func(t *testing.T) {
		d, _ := newDispatcher(t, profile.Octo, WithSegmentCheck(false))
		require.NoError(t, d.Dispatch(protocol.BuildSetOne(gap, red)).Err)
		assert.Equal(t, red, d.Framebuffer().At(int(gap)))

		var oor *protocol.OutOfRangeError
		require.ErrorAs(t, d.Dispatch(protocol.BuildSetOne(960, red)).Err, &oor)
	})
}

func TestDiagnosticsSequence(t *testing.T) {
	d, rec := newDispatcher(t, profile.Single)
	d.Dispatch(protocol.BuildSetOne(3, framebuffer.Color{R: 10, G: 20, B: 30}))

	require.Len(t, rec.msgs, 3)
	assert.Equal(t, "Command of length 7 bytes received", rec.msgs[0])
	assert.Equal(t, "Set the colour of LED 3 to (10, 20, 30)", rec.msgs[1])
	assert.Equal(t, "Checksum: 188", rec.msgs[2])
}

func TestNewRejectsMismatchedFramebuffer(t *testing.T) {
	p, err := profile.Lookup(profile.Single)
	require.NoError(t, err)

	_, err = New(p, framebuffer.New(3))
	assert.Error(t, err)
	_, err = New(nil, framebuffer.New(3))
	assert.Error(t, err)
}

func TestParseBatchPolicy(t *testing.T) {
	p, err := ParseBatchPolicy("all-or-nothing")
	require.NoError(t, err)
	assert.Equal(t, AllOrNothing, p)

	p, err = ParseBatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, p)

	_, err = ParseBatchPolicy("sometimes")
	assert.Error(t, err)
}
