package mux

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/ozontech/h2mux/consts"
	"github.com/ozontech/h2mux/utils/pool"
)

// wframe - готовые к записи байты одного фрейма (или неразрывной связки
// фреймов, как HEADERS с хвостом CONTINUATION). Пулованный буфер
// возвращается в пул после записи.
type wframe struct {
	buf    []byte
	pooled bool
}

type writeCmd struct {
	bufs net.Buffers
	ret  [][]byte // пулованные буферы, возвращаемые после записи
}

// writer копит исходящие фреймы и пишет их одним writev. Контрольные
// фреймы идут отдельным каналом и уходят впереди накопленного батча.
type writer struct {
	nc io.Writer

	controlCh chan []byte
	frameCh   chan wframe
	writeCh   chan writeCmd

	bufs *pool.Free[[]byte]

	disableBatching bool
	closed          chan struct{}
}

func newWriter(nc io.Writer, disableBatching bool) *writer {
	return &writer{
		nc:        nc,
		controlCh: make(chan []byte, consts.ControlQueueSize),
		frameCh:   make(chan wframe, consts.WriteQueueSize),
		writeCh:   make(chan writeCmd),
		bufs: pool.NewSize(func() []byte {
			return make([]byte, 0, consts.WriteBufferSize)
		}, 16),
		disableBatching: disableBatching,
		closed:          make(chan struct{}),
	}
}

// acquire выдает пустой буфер под сборку фрейма.
func (w *writer) acquire() []byte {
	return w.bufs.Acquire()[:0]
}

// enqueue ставит фрейм в общую очередь записи.
func (w *writer) enqueue(f wframe) error {
	select {
	case w.frameCh <- f:
		return nil
	case <-w.closed:
		return ErrConnClosed
	}
}

// control ставит фрейм в приоритетную очередь.
func (w *writer) control(b []byte) error {
	select {
	case w.controlCh <- b:
		return nil
	case <-w.closed:
		return ErrConnClosed
	}
}

func (w *writer) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.batchLoop(ctx)
	return w.writeLoop(ctx)
}

func (w *writer) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.writeCh:
			_, err := cmd.bufs.WriteTo(w.nc)
			for _, b := range cmd.ret {
				w.bufs.Release(b)
			}
			if err != nil {
				return err
			}
		}
	}
}

func (w *writer) batchLoop(ctx context.Context) {
	defer close(w.closed)

	rot := newRotator()
	buffers, ret := rot.rotate()

	lastWrite := time.Now()
	doWrite := func(b net.Buffers) {
		if len(b) == 0 {
			return
		}

		select {
		case w.writeCh <- writeCmd{b, ret}:
		case <-ctx.Done():
			return
		}
		buffers, ret = rot.rotate()
		lastWrite = time.Now()
	}

	timer := time.NewTimer(consts.SendBatchTimeout)
	defer timer.Stop()
	for {
		timer.Reset(consts.SendBatchTimeout - time.Since(lastWrite))
		select {
		case b := <-w.controlCh:
			// контрольный фрейм должен записаться первым
			buffers[0] = b
			doWrite(buffers)
		default:
			select {
			case b := <-w.controlCh:
				buffers[0] = b
				doWrite(buffers)
			case f := <-w.frameCh:
				if 1+len(buffers) > cap(buffers) {
					doWrite(buffers[1:])
				}
				buffers = append(buffers, f.buf)
				if f.pooled {
					ret = append(ret, f.buf)
				}
				if w.disableBatching {
					doWrite(buffers[1:])
				}
			case <-ctx.Done():
				doWrite(buffers[1:])
				return
			// time.After аллоцирует память в куче т.к. на каждый вызов создает канал
			// => сильно медленее переиспользования таймера
			case <-timer.C:
				doWrite(buffers[1:])
			}
		}
	}
}

type rotatorItem struct {
	buffers [consts.ChunksBufferSize][]byte
	ret     [consts.ChunksBufferSize][]byte
}

type rotator struct {
	// net.Buffers.WriteTo может уменьшать капасити слайса,
	// поэтому, чтобы переиспользовать память используется массив, с которого создается слайс
	current *rotatorItem
	next    *rotatorItem
}

func newRotator() *rotator {
	return &rotator{new(rotatorItem), new(rotatorItem)}
}

func (r *rotator) rotate() ([][]byte, [][]byte) {
	r.current, r.next = r.next, r.current
	return r.current.buffers[:1], r.current.ret[:0]
}
