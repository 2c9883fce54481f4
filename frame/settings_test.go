package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frame"
)

func TestSettingsValue(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	ss := frame.Settings{
		{ID: http2.SettingInitialWindowSize, Val: 100},
		{ID: http2.SettingMaxFrameSize, Val: 16384},
		{ID: http2.SettingInitialWindowSize, Val: 200},
	}

	// при повторе id действует последнее значение
	v, ok := ss.Value(http2.SettingInitialWindowSize)
	a.True(ok)
	a.Equal(uint32(200), v)

	v, ok = ss.Value(http2.SettingMaxFrameSize)
	a.True(ok)
	a.Equal(uint32(16384), v)

	_, ok = ss.Value(http2.SettingMaxConcurrentStreams)
	a.False(ok)
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	ok := []frame.Settings{
		{},
		{{ID: http2.SettingEnablePush, Val: 0}},
		{{ID: http2.SettingEnablePush, Val: 1}},
		{{ID: http2.SettingInitialWindowSize, Val: 1<<31 - 1}},
		{{ID: http2.SettingMaxFrameSize, Val: 16384}},
		{{ID: http2.SettingMaxFrameSize, Val: 1<<24 - 1}},
		// неизвестные id валидны всегда
		{{ID: http2.SettingID(0xf00d), Val: 0xffffffff}},
	}
	for _, ss := range ok {
		assert.NoError(t, ss.Validate(), "%v", ss)
	}

	bad := []struct {
		ss   frame.Settings
		code http2.ErrCode
	}{
		{frame.Settings{{ID: http2.SettingEnablePush, Val: 2}}, http2.ErrCodeProtocol},
		{frame.Settings{{ID: http2.SettingInitialWindowSize, Val: 1 << 31}}, http2.ErrCodeFlowControl},
		{frame.Settings{{ID: http2.SettingMaxFrameSize, Val: 16383}}, http2.ErrCodeProtocol},
		{frame.Settings{{ID: http2.SettingMaxFrameSize, Val: 1 << 24}}, http2.ErrCodeProtocol},
	}
	for _, tc := range bad {
		err := tc.ss.Validate()
		var connErr frame.ConnError
		if assert.ErrorAs(t, err, &connErr, "%v", tc.ss) {
			assert.Equal(t, tc.code, connErr.Code, "%v", tc.ss)
		}
	}
}

func TestSettingsWireOrder(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	ss := frame.Settings{
		{ID: http2.SettingMaxFrameSize, Val: 32768},
		{ID: http2.SettingID(0xbeef), Val: 7},
		{ID: http2.SettingMaxFrameSize, Val: 65536},
	}
	b := (&frame.SettingsFrame{Settings: ss}).Append(nil)

	f, n, err := frame.Decode(b)
	a.NoError(err)
	a.Equal(len(b), n)
	// порядок и повторы сохраняются как есть, вместе с неизвестными id
	a.Equal(&frame.SettingsFrame{Settings: ss}, f)
}

func TestSettingsAckWithPayload(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := []byte{0x00, 0x00, 0x06, 0x04, byte(http2.FlagSettingsAck), 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01}
	_, _, err := frame.Decode(b)
	var connErr frame.ConnError
	a.ErrorAs(err, &connErr)
	a.Equal(http2.ErrCodeFrameSize, connErr.Code)
}

func TestSettingsBadLength(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	// длина 5 не кратна 6 октетам на пару
	b := []byte{0x00, 0x00, 0x05, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00}
	_, _, err := frame.Decode(b)
	var connErr frame.ConnError
	a.ErrorAs(err, &connErr)
	a.Equal(http2.ErrCodeFrameSize, connErr.Code)
}
