package streams

import (
	"errors"
	"sync"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frame"
	"github.com/ozontech/h2mux/mux/flowcontrol"
	"github.com/ozontech/h2mux/mux/types"
)

var (
	// ErrSendOnClosedStream - отправка в стрим, закрытый с нашей стороны.
	ErrSendOnClosedStream = errors.New("send on closed stream")
	// ErrHeadersNotSent - тело нельзя слать до блока хедеров.
	ErrHeadersNotSent = errors.New("headers not sent yet")
	// ErrTrailersWithoutEnd - повторный блок хедеров обязан закрывать стрим.
	ErrTrailersWithoutEnd = errors.New("second header block must end the stream")
)

// Stream - один логический обмен поверх соединения. Переходы состояний
// защищены блокировкой: прием идет из горутины чтения, отправка - из
// горутин приложения.
//
// Методы Recv* возвращают либо nil, либо ошибку стрима (сброс одного
// стрима), либо ошибку соединения (фатальную). Методы Sent* возвращают
// локальные ошибки: нарушивший порядок вызовов узнает об этом сразу,
// до проводов.
type Stream struct {
	id frame.StreamID

	mu       sync.Mutex
	state    State
	recvDone bool // первый блок хедеров пира завершен
	sentDone bool // наш первый блок хедеров отправлен

	fc   types.FlowControl // окно отправки
	recv *flowcontrol.Recv // окно приема; трогает только горутина чтения

	receiver types.StreamReceiver
}

func newStream(id frame.StreamID, sendWin, recvWin uint32) *Stream {
	return &Stream{
		id:   id,
		fc:   flowcontrol.NewFlowControl(sendWin),
		recv: flowcontrol.NewRecv(recvWin),
	}
}

func (s *Stream) ID() frame.StreamID      { return s.id }
func (s *Stream) FC() types.FlowControl   { return s.fc }
func (s *Stream) Recv() *flowcontrol.Recv { return s.recv }

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) SetReceiver(r types.StreamReceiver) {
	s.mu.Lock()
	s.receiver = r
	s.mu.Unlock()
}

func (s *Stream) Receiver() types.StreamReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver
}

// RecvHeaders - пир прислал блок хедеров: открытие стрима либо трейлеры.
func (s *Stream) RecvHeaders(endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateOpen
	case StateReservedRemote:
		s.state = StateHalfClosedLocal
	case StateOpen, StateHalfClosedLocal:
		// повторный блок бывает только трейлерами, а трейлеры закрывают стрим
		if s.recvDone && !endStream {
			return frame.StreamError{StreamID: s.id, Code: http2.ErrCodeProtocol}
		}
	case StateReservedLocal:
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "HEADERS on reserved stream"}
	default: // HalfClosedRemote, Closed
		return frame.StreamError{StreamID: s.id, Code: http2.ErrCodeStreamClosed}
	}
	s.recvDone = true
	if endStream {
		s.recvClosedLocked()
	}
	return nil
}

// RecvData - пир прислал DATA.
func (s *Stream) RecvData(endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen, StateHalfClosedLocal:
		if !s.recvDone {
			// тело раньше хедеров
			return frame.StreamError{StreamID: s.id, Code: http2.ErrCodeProtocol}
		}
	case StateHalfClosedRemote, StateClosed:
		return frame.StreamError{StreamID: s.id, Code: http2.ErrCodeStreamClosed}
	default: // Idle, Reserved*
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "DATA on " + s.state.String() + " stream"}
	}
	if endStream {
		s.recvClosedLocked()
	}
	return nil
}

// RecvPushPromise - пир зарезервировал этот стрим обещанием пуша.
func (s *Stream) RecvPushPromise() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "PUSH_PROMISE on " + s.state.String() + " stream"}
	}
	s.state = StateReservedRemote
	return nil
}

// SentHeaders - приложение отправляет блок хедеров.
func (s *Stream) SentHeaders(endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateOpen
	case StateReservedLocal:
		s.state = StateHalfClosedRemote
	case StateOpen, StateHalfClosedRemote:
		if s.sentDone && !endStream {
			return ErrTrailersWithoutEnd
		}
	default:
		return ErrSendOnClosedStream
	}
	s.sentDone = true
	if endStream {
		s.sentClosedLocked()
	}
	return nil
}

// SentData - приложение отправляет кусок тела.
func (s *Stream) SentData(endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen, StateHalfClosedRemote:
		if !s.sentDone {
			return ErrHeadersNotSent
		}
	default:
		return ErrSendOnClosedStream
	}
	if endStream {
		s.sentClosedLocked()
	}
	return nil
}

// SentPushPromise резервирует локальный стрим под пуш.
func (s *Stream) SentPushPromise() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrSendOnClosedStream
	}
	s.state = StateReservedLocal
	return nil
}

// Close переводит стрим в Closed из любого состояния и возвращает прежнее.
// Окно отправки гасится: застрявшие в Wait отправители получают отказ.
func (s *Stream) Close() State {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()
	s.fc.Disable()
	return prev
}

func (s *Stream) recvClosedLocked() {
	switch s.state {
	case StateOpen:
		s.state = StateHalfClosedRemote
	case StateHalfClosedLocal:
		s.state = StateClosed
	}
}

func (s *Stream) sentClosedLocked() {
	switch s.state {
	case StateOpen:
		s.state = StateHalfClosedLocal
	case StateHalfClosedRemote:
		s.state = StateClosed
	}
}
