package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frame"
)

func TestDecodeWindowUpdate(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := []byte{0x00, 0x00, 0x04, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x10}
	f, n, err := frame.Decode(b)
	a.NoError(err)
	a.Equal(len(b), n)
	a.Equal(&frame.WindowUpdateFrame{StreamID: 1, Increment: 16}, f)
}

func TestDecodeWindowUpdateReservedBit(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	// выставлены зарезервированные биты и в stream id, и в инкременте
	b := []byte{0x00, 0x00, 0x04, 0x08, 0x00, 0x80, 0x00, 0x00, 0x01, 0x80, 0x00, 0x00, 0x10}
	f, _, err := frame.Decode(b)
	a.NoError(err)
	a.Equal(&frame.WindowUpdateFrame{StreamID: 1, Increment: 16}, f)
}

func TestDecodeWindowUpdateZeroIncrement(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := []byte{0x00, 0x00, 0x04, 0x08, 0x00, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00}
	_, _, err := frame.Decode(b)
	a.Equal(frame.StreamError{StreamID: 5, Code: http2.ErrCodeProtocol}, err)

	b = []byte{0x00, 0x00, 0x04, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, _, err = frame.Decode(b)
	a.Equal(frame.ConnError{http2.ErrCodeProtocol, "connection window increment of 0"}, err)
}

func TestDecodeWindowUpdateBadLength(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := []byte{0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x10}
	_, _, err := frame.Decode(b)
	var connErr frame.ConnError
	a.ErrorAs(err, &connErr)
	a.Equal(http2.ErrCodeFrameSize, connErr.Code)
}

func TestDecodeIncomplete(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	full := (&frame.PingFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}).Append(nil)
	for i := 0; i < len(full); i++ {
		_, n, err := frame.Decode(full[:i])
		a.ErrorIs(err, frame.ErrIncomplete)
		a.Zero(n)
	}

	f, n, err := frame.Decode(full)
	a.NoError(err)
	a.Equal(len(full), n)
	a.Equal(&frame.PingFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}, f)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	frames := []frame.Frame{
		&frame.DataFrame{StreamID: 1, Data: []byte("hello"), EndStream: true},
		&frame.DataFrame{StreamID: 3, Data: []byte("padded"), PadLength: 7},
		&frame.HeadersFrame{StreamID: 5, BlockFragment: []byte{0x82, 0x86}, EndStream: true, EndHeaders: true},
		&frame.HeadersFrame{
			StreamID:      7,
			BlockFragment: []byte{0x82},
			EndHeaders:    true,
			Priority:      frame.Priority{Dep: 5, Exclusive: true, Weight: 31},
			PadLength:     2,
		},
		&frame.PriorityFrame{StreamID: 9, Priority: frame.Priority{Dep: 7, Weight: 255}},
		&frame.RSTStreamFrame{StreamID: 11, Code: http2.ErrCodeCancel},
		&frame.SettingsFrame{Settings: frame.Settings{
			{ID: http2.SettingInitialWindowSize, Val: 1 << 20},
			{ID: http2.SettingID(0xf000), Val: 42},
		}},
		&frame.SettingsFrame{Ack: true},
		&frame.PushPromiseFrame{StreamID: 13, PromiseID: 14, BlockFragment: []byte{0x82}, EndHeaders: true},
		&frame.PingFrame{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		&frame.PingFrame{Ack: true, Data: [8]byte{1}},
		&frame.GoAwayFrame{LastStreamID: 15, Code: http2.ErrCodeEnhanceYourCalm, DebugData: []byte("calm down")},
		&frame.WindowUpdateFrame{StreamID: 0, Increment: 1<<31 - 1},
		&frame.ContinuationFrame{StreamID: 17, BlockFragment: []byte{0x82}, EndHeaders: true},
		&frame.UnknownFrame{Type: http2.FrameType(0xbb), Flags: 0x3, StreamID: 19, Payload: []byte("opaque")},
	}

	for _, f := range frames {
		f := f
		t.Run(f.Header().Type.String(), func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)

			b := f.Append(nil)
			got, n, err := frame.Decode(b)
			a.NoError(err)
			a.Equal(len(b), n)
			a.Equal(f, got)
		})
	}
}

// Кодек должен понимать байты, которые пишет эталонный фреймер x/net, и
// наоборот.
func TestAgainstReferenceFramer(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	r := require.New(t)

	buf := bytes.NewBuffer(nil)
	framer := http2.NewFramer(buf, buf)

	r.NoError(framer.WriteData(1, true, []byte("data payload")))
	r.NoError(framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      3,
		BlockFragment: []byte{0x82, 0x86, 0x84},
		EndHeaders:    true,
	}))
	r.NoError(framer.WriteRSTStream(5, http2.ErrCodeRefusedStream))
	r.NoError(framer.WriteSettings(http2.Setting{ID: http2.SettingMaxFrameSize, Val: 32768}))
	r.NoError(framer.WritePing(false, [8]byte{0xde, 0xad, 0xbe, 0xef}))
	r.NoError(framer.WriteGoAway(7, http2.ErrCodeNo, []byte("bye")))
	r.NoError(framer.WriteWindowUpdate(0, 100))

	b := buf.Bytes()
	want := []frame.Frame{
		&frame.DataFrame{StreamID: 1, Data: []byte("data payload"), EndStream: true},
		&frame.HeadersFrame{StreamID: 3, BlockFragment: []byte{0x82, 0x86, 0x84}, EndHeaders: true},
		&frame.RSTStreamFrame{StreamID: 5, Code: http2.ErrCodeRefusedStream},
		&frame.SettingsFrame{Settings: frame.Settings{{ID: http2.SettingMaxFrameSize, Val: 32768}}},
		&frame.PingFrame{Data: [8]byte{0xde, 0xad, 0xbe, 0xef}},
		&frame.GoAwayFrame{LastStreamID: 7, Code: http2.ErrCodeNo, DebugData: []byte("bye")},
		&frame.WindowUpdateFrame{StreamID: 0, Increment: 100},
	}
	for _, w := range want {
		f, n, err := frame.Decode(b)
		r.NoError(err)
		b = b[n:]
		a.Equal(w, f)
	}
	a.Empty(b)

	// обратное направление: наши байты читает x/net
	buf.Reset()
	wu := &frame.WindowUpdateFrame{StreamID: 9, Increment: 16}
	buf.Write(wu.Append(nil))
	got, err := framer.ReadFrame()
	r.NoError(err)
	wuf, ok := got.(*http2.WindowUpdateFrame)
	r.True(ok)
	a.Equal(uint32(9), wuf.StreamID)
	a.Equal(uint32(16), wuf.Increment)
}

func TestDecodePaddingExceedsPayload(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	// DATA на стриме 1: длина 2, pad length 5 > остатка пейлоада
	b := []byte{0x00, 0x00, 0x02, 0x00, byte(http2.FlagDataPadded), 0x00, 0x00, 0x00, 0x01, 0x05, 0x00}
	_, _, err := frame.Decode(b)
	var connErr frame.ConnError
	a.ErrorAs(err, &connErr)
	a.Equal(http2.ErrCodeProtocol, connErr.Code)
}

func TestDecodeOnConnectionStream(t *testing.T) {
	t.Parallel()

	// фреймы уровня стрима со stream id == 0 фатальны для соединения
	for name, b := range map[string][]byte{
		"data":    {0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff},
		"headers": {0x00, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x82},
		"rst":     {0x00, 0x00, 0x04, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	} {
		b := b
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)
			_, _, err := frame.Decode(b)
			var connErr frame.ConnError
			a.ErrorAs(err, &connErr)
			a.Equal(http2.ErrCodeProtocol, connErr.Code)
		})
	}

	// и наоборот: фреймы уровня соединения с ненулевым stream id
	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)
		b := []byte{0x00, 0x00, 0x08, 0x06, 0x00, 0x00, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
		_, _, err := frame.Decode(b)
		var connErr frame.ConnError
		a.ErrorAs(err, &connErr)
		a.Equal(http2.ErrCodeProtocol, connErr.Code)
	})
}

func TestStreamID(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	a.True(frame.StreamID(1).Valid())
	a.True(frame.MaxStreamID.Valid())
	a.False(frame.StreamID(1 << 31).Valid())

	a.True(frame.StreamID(1).ClientInitiated())
	a.True(frame.StreamID(2).ServerInitiated())
	a.False(frame.StreamID(0).ClientInitiated())
	a.False(frame.StreamID(0).ServerInitiated())
}
