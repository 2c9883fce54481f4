// Package framelog пишет трассу фреймов соединения в json lines.
package framelog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frameheader"
)

type Direction uint8

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// Entry - одно событие трассы: заголовок фрейма плюс направление и время.
type Entry struct {
	Time     time.Time
	Dir      Direction
	Type     http2.FrameType
	Flags    http2.Flags
	StreamID uint32
	Length   int
}

func (e Entry) appendJSON(b []byte) []byte {
	b = append(b, `{"ts":`...)
	b = strconv.AppendInt(b, e.Time.UnixMicro(), 10)
	b = append(b, `,"dir":"`...)
	b = append(b, e.Dir.String()...)
	b = append(b, `","type":"`...)
	b = append(b, e.Type.String()...)
	b = append(b, `","flags":`...)
	b = strconv.AppendUint(b, uint64(e.Flags), 10)
	b = append(b, `,"stream":`...)
	b = strconv.AppendUint(b, uint64(e.StreamID), 10)
	b = append(b, `,"len":`...)
	b = strconv.AppendInt(b, int64(e.Length), 10)
	return append(b, "}\n"...)
}

var frameTypes = make(map[string]http2.FrameType)

func init() {
	for t := http2.FrameData; t <= http2.FrameContinuation; t++ {
		frameTypes[t.String()] = t
	}
}

// ParseEntry разбирает одну строку трассы.
func ParseEntry(data []byte) (Entry, error) {
	var e Entry
	in := jlexer.Lexer{Data: data}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		switch key {
		case "ts":
			e.Time = time.UnixMicro(in.Int64())
		case "dir":
			if in.UnsafeString() == DirOut.String() {
				e.Dir = DirOut
			}
		case "type":
			e.Type = frameTypes[in.UnsafeString()]
		case "flags":
			e.Flags = http2.Flags(in.Uint8())
		case "stream":
			e.StreamID = in.Uint32()
		case "len":
			e.Length = int(in.Int64())
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	return e, in.Error()
}

// Writer собирает события из горутин соединений и пишет их одной своей.
// Log никогда не блокирует: не успевающий писатель теряет события, а не
// тормозит чтение соединения.
type Writer struct {
	ch      chan Entry
	w       *bufio.Writer
	line    []byte
	dropped atomic.Uint64
}

func New(w io.Writer) *Writer {
	return &Writer{
		ch: make(chan Entry, 1024),
		w:  bufio.NewWriter(w),
	}
}

func (l *Writer) Log(dir Direction, fh frameheader.FrameHeader) {
	e := Entry{
		Time:     time.Now(),
		Dir:      dir,
		Type:     fh.Type(),
		Flags:    fh.Flags(),
		StreamID: fh.StreamID(),
		Length:   fh.Length(),
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped возвращает количество потерянных событий.
func (l *Writer) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *Writer) Run() error {
	for e := range l.ch {
		l.line = e.appendJSON(l.line[:0])
		if _, err := l.w.Write(l.line); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return l.w.Flush()
}

// Close останавливает Run. Звать только после остановки всех соединений,
// пишущих в этот лог.
func (l *Writer) Close() error {
	close(l.ch)
	return nil
}
