package frameheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"
)

func TestFill(t *testing.T) {
	h := NewFrameHeader()
	h.Fill(4, http2.FrameWindowUpdate, 0, 1)
	assert.Equal(t, []byte{0, 0, 4, 0x8, 0, 0, 0, 0, 1}, []byte(h))

	assert.Equal(t, 4, h.Length())
	assert.Equal(t, http2.FrameWindowUpdate, h.Type())
	assert.Equal(t, http2.Flags(0), h.Flags())
	assert.Equal(t, uint32(1), h.StreamID())
}

func TestAccessors(t *testing.T) {
	h := NewFrameHeader()
	h.SetLength(0xabcdef)
	h.SetType(http2.FrameData)
	h.SetFlags(http2.FlagDataEndStream)
	h.SetStreamID(0x7fffffff)

	assert.Equal(t, 0xabcdef, h.Length())
	assert.Equal(t, http2.FrameData, h.Type())
	assert.True(t, h.Flags().Has(http2.FlagDataEndStream))
	assert.Equal(t, uint32(0x7fffffff), h.StreamID())
}

func TestReservedBit(t *testing.T) {
	h := NewFrameHeader()
	h.SetStreamID(1<<31 | 3)
	assert.Equal(t, uint32(3), h.StreamID(), "запись обнуляет зарезервированный бит")
	assert.Zero(t, h[5]&0x80)

	// входящий фрейм с выставленным зарезервированным битом
	raw := FrameHeader{0, 0, 0, byte(http2.FrameData), 0, 0x80, 0, 0, 5}
	assert.Equal(t, uint32(5), raw.StreamID(), "чтение игнорирует зарезервированный бит")
}
