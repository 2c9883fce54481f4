package mux

import "github.com/ozontech/h2mux/frameheader"

// splitter восстанавливает границы фреймов из потока чтений произвольной
// нарезки. Заголовок копится в собственном буфере, пейлоад отдается
// кусками без копирования.
type splitter struct {
	partial     frameheader.FrameHeader // недобранный заголовок
	head        frameheader.FrameHeader
	payloadLeft int
	buf         []byte
}

type splitStatus int

const (
	// frameDone - фрейм дочитан, в буфере есть еще данные.
	frameDone splitStatus = iota
	// frameDoneBufEmpty - фрейм дочитан ровно на границе буфера.
	frameDoneBufEmpty
	// headIncomplete - заголовок недобран, нужен новый буфер.
	headIncomplete
	// payloadIncomplete - отдан кусок пейлоада, продолжение в новом буфере.
	payloadIncomplete
)

func newSplitter() *splitter {
	return &splitter{partial: make([]byte, 0, 9)}
}

// feed подкладывает новый буфер. Зовется только когда предыдущий исчерпан:
// после headIncomplete, payloadIncomplete или frameDoneBufEmpty.
func (s *splitter) feed(b []byte) {
	s.buf = b
}

// header валиден с момента выдачи первого куска пейлоада и до следующего
// вызова next по новому фрейму.
func (s *splitter) header() frameheader.FrameHeader {
	return s.head
}

func (s *splitter) next() ([]byte, splitStatus) {
	partialLen := len(s.partial)
	if partialLen != 9 {
		bufLen := len(s.buf)
		needToFill := 9 - partialLen
		if bufLen < needToFill {
			s.partial = append(s.partial, s.buf...)
			return nil, headIncomplete
		}

		s.partial = append(s.partial, s.buf[:needToFill]...)
		s.buf = s.buf[needToFill:]
		s.payloadLeft = s.partial.Length()
	}
	s.head = s.partial

	bufLen := len(s.buf)
	if bufLen > s.payloadLeft {
		payload := s.buf[:s.payloadLeft]
		s.buf = s.buf[s.payloadLeft:]
		s.partial = s.partial[:0]
		return payload, frameDone
	}

	if bufLen == s.payloadLeft {
		payload := s.buf
		s.buf = nil
		s.partial = s.partial[:0]
		return payload, frameDoneBufEmpty
	}

	s.payloadLeft -= bufLen
	payload := s.buf
	s.buf = nil
	return payload, payloadIncomplete
}
