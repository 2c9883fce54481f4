package mux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frame"
	"github.com/ozontech/h2mux/frameheader"
)

type splitFrame struct {
	head    frameheader.FrameHeader
	payload []byte
}

// collectFrames скармливает wire сплиттеру кусками по chunkSize и собирает
// фреймы обратно.
func collectFrames(t *testing.T, wire []byte, chunkSize int) []splitFrame {
	t.Helper()

	var (
		got []splitFrame
		cur []byte
	)
	s := newSplitter()
	for offset := 0; offset < len(wire); {
		end := offset + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		s.feed(wire[offset:end])
		offset = end

	inner:
		for {
			payload, status := s.next()
			switch status {
			case headIncomplete:
				break inner
			case payloadIncomplete:
				cur = append(cur, payload...)
				break inner
			case frameDone, frameDoneBufEmpty:
				cur = append(cur, payload...)
				head := make(frameheader.FrameHeader, 9)
				copy(head, s.header())
				got = append(got, splitFrame{head, cur})
				cur = nil
				if status == frameDoneBufEmpty {
					break inner
				}
			}
		}
	}
	return got
}

func TestSplitter(t *testing.T) {
	t.Parallel()

	var wire []byte
	wire = (&frame.WindowUpdateFrame{StreamID: 1, Increment: 16}).Append(wire)
	wire = (&frame.DataFrame{StreamID: 1, Data: []byte("hello world")}).Append(wire)
	wire = (&frame.DataFrame{StreamID: 3, EndStream: true}).Append(wire) // пустой пейлоад
	wire = (&frame.PingFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}).Append(wire)
	wire = (&frame.GoAwayFrame{LastStreamID: 5, Code: http2.ErrCodeNo, DebugData: []byte("bye")}).Append(wire)

	want := []struct {
		typ     http2.FrameType
		stream  uint32
		payload []byte
	}{
		{http2.FrameWindowUpdate, 1, []byte{0, 0, 0, 16}},
		{http2.FrameData, 1, []byte("hello world")},
		{http2.FrameData, 3, nil},
		{http2.FramePing, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{http2.FrameGoAway, 0, append([]byte{0, 0, 0, 5, 0, 0, 0, 0}, "bye"...)},
	}

	// нарезка произвольного размера не должна влиять на результат
	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		got := collectFrames(t, wire, chunkSize)
		require.Len(t, got, len(want), "chunk size %d", chunkSize)
		for i, w := range want {
			assert.Equal(t, w.typ, got[i].head.Type(), "chunk size %d, frame %d", chunkSize, i)
			assert.Equal(t, w.stream, got[i].head.StreamID(), "chunk size %d, frame %d", chunkSize, i)
			assert.Equal(t, len(w.payload), got[i].head.Length(), "chunk size %d, frame %d", chunkSize, i)
			assert.True(t, bytes.Equal(w.payload, got[i].payload), "chunk size %d, frame %d", chunkSize, i)
		}
	}
}

func TestSplitterHeaderValidDuringPayload(t *testing.T) {
	t.Parallel()

	wire := (&frame.DataFrame{StreamID: 9, Data: bytes.Repeat([]byte{0xaa}, 100)}).Append(nil)

	s := newSplitter()
	s.feed(wire[:30])
	payload, status := s.next()
	require.Equal(t, payloadIncomplete, status)
	require.Len(t, payload, 21)

	// заголовок доступен уже на первом куске
	assert.Equal(t, http2.FrameData, s.header().Type())
	assert.Equal(t, uint32(9), s.header().StreamID())
	assert.Equal(t, 100, s.header().Length())

	s.feed(wire[30:])
	payload, status = s.next()
	require.Equal(t, frameDoneBufEmpty, status)
	assert.Len(t, payload, 79)
	assert.Equal(t, uint32(9), s.header().StreamID())
}
