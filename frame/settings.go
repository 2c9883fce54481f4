package frame

import (
	"encoding/binary"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/consts"
)

// Settings - пары параметров из фрейма SETTINGS в порядке следования на
// проводе. Неизвестные id сохраняются, применяющая сторона их игнорирует.
type Settings []http2.Setting

func parseSettingsPayload(payload []byte) Settings {
	ss := make(Settings, 0, len(payload)/6)
	for len(payload) >= 6 {
		ss = append(ss, http2.Setting{
			ID:  http2.SettingID(binary.BigEndian.Uint16(payload)),
			Val: binary.BigEndian.Uint32(payload[2:]),
		})
		payload = payload[6:]
	}
	return ss
}

func (ss Settings) Append(dst []byte) []byte {
	for _, s := range ss {
		dst = append(dst,
			byte(s.ID>>8), byte(s.ID),
			byte(s.Val>>24), byte(s.Val>>16), byte(s.Val>>8), byte(s.Val),
		)
	}
	return dst
}

func (ss Settings) Value(id http2.SettingID) (uint32, bool) {
	// последнее значение побеждает
	var (
		val uint32
		ok  bool
	)
	for _, s := range ss {
		if s.ID == id {
			val, ok = s.Val, true
		}
	}
	return val, ok
}

func (ss Settings) Validate() error {
	for _, s := range ss {
		switch s.ID {
		case http2.SettingEnablePush:
			if s.Val > 1 {
				return ConnError{http2.ErrCodeProtocol, "SETTINGS_ENABLE_PUSH must be 0 or 1"}
			}
		case http2.SettingInitialWindowSize:
			if s.Val > consts.MaxWindowSize {
				return ConnError{http2.ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE exceeds maximum window"}
			}
		case http2.SettingMaxFrameSize:
			if s.Val < consts.DefaultMaxFrameSize || s.Val > consts.MaxFrameSizeUpperBound {
				return ConnError{http2.ErrCodeProtocol, "SETTINGS_MAX_FRAME_SIZE out of range"}
			}
		}
	}
	return nil
}
