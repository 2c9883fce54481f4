package frame

import (
	"strconv"

	"golang.org/x/net/http2"
)

// StreamError затрагивает один стрим: соединение продолжает жить,
// стрим завершается RST_STREAM с указанным кодом.
type StreamError struct {
	StreamID StreamID
	Code     http2.ErrCode
}

func (e StreamError) Error() string {
	return "stream " + strconv.FormatUint(uint64(e.StreamID), 10) +
		" error: " + e.Code.String()
}

// ConnError фатальна для соединения: отправляется GOAWAY и соединение
// закрывается.
type ConnError struct {
	Code   http2.ErrCode
	Reason string
}

func (e ConnError) Error() string {
	return "connection error (" + e.Code.String() + "): " + e.Reason
}

// GoAwayError возвращается когда GOAWAY прислал пир.
type GoAwayError struct {
	Code         http2.ErrCode
	LastStreamID StreamID
	DebugData    []byte
}

func (e GoAwayError) Error() string {
	return "go away (" + e.Code.String() + "): " + string(e.DebugData)
}
