package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/h2mux/consts"
	"github.com/ozontech/h2mux/frame"
	"github.com/ozontech/h2mux/framelog"
	"github.com/ozontech/h2mux/frameheader"
	"github.com/ozontech/h2mux/mux/streams"
	"github.com/ozontech/h2mux/mux/types"
	"github.com/ozontech/h2mux/utils/intern"
)

// dataState - прогресс разбора текущего DATA. Тело отдается приложению
// кусками по мере чтения, без накопления фрейма целиком.
type dataState struct {
	stream    *streams.Stream // nil - куски отбрасываем, но окна учитываем
	id        frame.StreamID
	length    int // полный пейлоад, вместе с паддингом
	offset    int
	dataEnd   int // конец полезных данных; -1, пока не прочитан pad length
	padded    bool
	endStream bool
}

// blockState - незавершенный блок хедеров. Пока блок не закрыт флагом
// END_HEADERS, на соединении легален только CONTINUATION того же стрима.
type blockState struct {
	active    bool
	id        frame.StreamID
	stream    *streams.Stream // nil - блок декодируем ради таблицы, но не отдаем
	endStream bool
}

type reader struct {
	conn *Conn
	nc   io.Reader

	split *splitter
	buf1  []byte
	buf2  []byte

	// остаток байтов, дочитанных при рукопожатии вместе с SETTINGS пира
	initial []byte

	pending []byte // накопление пейлоада всех фреймов, кроме DATA
	inFrame bool

	hpackDec *hpack.Decoder
	names    *intern.LRU

	data  dataState
	block blockState

	lastRead atomic.Int64 // unixnano последнего успешного чтения
}

func newReader(c *Conn, nc io.Reader, headerTableSize uint32) *reader {
	r := &reader{
		conn:  c,
		nc:    nc,
		split: newSplitter(),
		buf1:  make([]byte, consts.RecieveBufferSize),
		buf2:  make([]byte, consts.RecieveBufferSize),
		names: intern.New(consts.HeaderNameCacheSize),
	}
	r.hpackDec = hpack.NewDecoder(headerTableSize, r.onField)
	r.lastRead.Store(time.Now().UnixNano())
	return r
}

func (r *reader) last() time.Time {
	return time.Unix(0, r.lastRead.Load())
}

// run читает соединение в две горутины: одна сидит в сисколе чтения,
// вторая разбирает предыдущий буфер. Буферов два, меняются по кругу.
func (r *reader) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ch := make(chan []byte)

	g.Go(func() error {
		for b := range ch {
			if err := r.process(b); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(ch)
		if len(r.initial) > 0 {
			select {
			case ch <- r.initial:
				r.initial = nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for ctx.Err() == nil {
			if err := r.read(ctx, ch, r.buf1); err != nil {
				return err
			}
			if err := r.read(ctx, ch, r.buf2); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (r *reader) read(ctx context.Context, ch chan<- []byte, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := r.nc.Read(buf)
	if err != nil {
		return fmt.Errorf("conn read: %w", err)
	}
	r.lastRead.Store(time.Now().UnixNano())
	select {
	case ch <- buf[:n]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *reader) process(buf []byte) error {
	r.split.feed(buf)
	for {
		payload, status := r.split.next()
		if status == headIncomplete {
			return nil
		}
		fh := r.split.header()

		if !r.inFrame {
			if err := r.begin(fh); err != nil {
				return err
			}
			r.inFrame = true
		}

		done := status == frameDone || status == frameDoneBufEmpty
		if err := r.chunk(fh, payload, done); err != nil {
			return err
		}
		if done {
			r.inFrame = false
		}
		if status != frameDone {
			return nil
		}
	}
}

// begin валидирует заголовок фрейма и готовит состояние под его пейлоад.
func (r *reader) begin(fh frameheader.FrameHeader) error {
	c := r.conn
	c.stats.FrameIn(9 + fh.Length())
	if c.flog != nil {
		c.flog.Log(framelog.DirIn, fh)
	}

	if fh.Length() > int(c.conf.MaxFrameSize) {
		return frame.ConnError{Code: http2.ErrCodeFrameSize, Reason: "frame exceeds SETTINGS_MAX_FRAME_SIZE"}
	}

	if r.block.active && (fh.Type() != http2.FrameContinuation || frame.StreamID(fh.StreamID()) != r.block.id) {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "header block interrupted"}
	}

	switch fh.Type() {
	case http2.FrameData:
		return r.beginData(fh)
	case http2.FrameContinuation:
		if !r.block.active {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "CONTINUATION without open header block"}
		}
		r.pending = r.pending[:0]
		return nil
	default:
		r.pending = r.pending[:0]
		return nil
	}
}

func (r *reader) chunk(fh frameheader.FrameHeader, payload []byte, done bool) error {
	if fh.Type() == http2.FrameData {
		return r.chunkData(payload, done)
	}

	r.pending = append(r.pending, payload...)
	if !done {
		return nil
	}

	f, err := frame.Parse(fh, r.pending)
	if err != nil {
		var se frame.StreamError
		if errors.As(err, &se) {
			return r.conn.streamError(se)
		}
		return err
	}
	return r.dispatch(f)
}

func (r *reader) beginData(fh frameheader.FrameHeader) error {
	c := r.conn
	id := frame.StreamID(fh.StreamID())
	if id == 0 {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "DATA on stream 0"}
	}
	length := fh.Length()

	// окно приема соединения списывается целиком по заголовку,
	// не дожидаясь тела
	if err := c.recvConn.Consume(uint32(length)); err != nil {
		return frame.ConnError{Code: http2.ErrCodeFlowControl, Reason: "connection receive window overrun"}
	}

	d := &r.data
	*d = dataState{
		id:        id,
		length:    length,
		dataEnd:   length,
		padded:    fh.Flags().Has(http2.FlagDataPadded),
		endStream: fh.Flags().Has(http2.FlagDataEndStream),
	}
	if d.padded {
		if length == 0 {
			return frame.ConnError{Code: http2.ErrCodeFrameSize, Reason: "padded DATA without pad length octet"}
		}
		d.dataEnd = -1
	}

	st := c.store.Get(id)
	if st == nil {
		// по закрытому стриму фреймы опаздывать могут, по несуществующему - нет
		if !c.store.Used(id) {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "DATA on idle stream"}
		}
		return c.streamError(frame.StreamError{StreamID: id, Code: http2.ErrCodeStreamClosed})
	}

	if err := st.RecvData(d.endStream); err != nil {
		var se frame.StreamError
		if errors.As(err, &se) {
			return c.streamError(se)
		}
		return err
	}
	if err := st.Recv().Consume(uint32(length)); err != nil {
		return c.streamError(frame.StreamError{StreamID: id, Code: http2.ErrCodeFlowControl})
	}
	d.stream = st
	return nil
}

func (r *reader) chunkData(payload []byte, done bool) error {
	d := &r.data
	start := d.offset
	d.offset += len(payload)

	if d.padded && d.dataEnd == -1 {
		padLen := int(payload[0])
		if padLen > d.length-1 {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "padding exceeds frame payload"}
		}
		d.dataEnd = d.length - padLen
	}

	if st := d.stream; st != nil {
		dataStart := 0
		if d.padded {
			dataStart = 1
		}
		// пересечение куска [start, offset) с полезными данными [dataStart, dataEnd)
		lo, hi := start, d.offset
		if lo < dataStart {
			lo = dataStart
		}
		if hi > d.dataEnd {
			hi = d.dataEnd
		}
		var data []byte
		if lo < hi {
			data = payload[lo-start : hi-start]
		}
		if len(data) > 0 || (done && d.endStream) {
			if recv := st.Receiver(); recv != nil {
				recv.OnData(data, done && d.endStream)
			}
		}
	}

	if done {
		return r.endData()
	}
	return nil
}

func (r *reader) endData() error {
	c := r.conn
	d := &r.data

	if refund := c.recvConn.Refund(); refund > 0 {
		if err := c.sendWindowUpdate(0, refund); err != nil {
			return err
		}
	}
	st := d.stream
	if st == nil {
		return nil
	}
	if !d.endStream {
		if refund := st.Recv().Refund(); refund > 0 {
			if err := c.sendWindowUpdate(d.id, refund); err != nil {
				return err
			}
		}
		return nil
	}
	c.retireIfClosed(st)
	return nil
}

func (r *reader) dispatch(f frame.Frame) error {
	switch f := f.(type) {
	case *frame.HeadersFrame:
		return r.onHeaders(f)
	case *frame.ContinuationFrame:
		// begin уже убедился, что блок открыт и стрим совпадает
		return r.blockFragment(f.BlockFragment, f.EndHeaders)
	case *frame.RSTStreamFrame:
		return r.onRSTStream(f)
	case *frame.SettingsFrame:
		return r.onSettings(f)
	case *frame.PingFrame:
		return r.onPing(f)
	case *frame.GoAwayFrame:
		return r.onGoAway(f)
	case *frame.WindowUpdateFrame:
		return r.onWindowUpdate(f)
	case *frame.PushPromiseFrame:
		// мы всегда объявляем ENABLE_PUSH=0
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "PUSH_PROMISE with push disabled"}
	case *frame.PriorityFrame:
		r.conn.log.Debug("priority frame ignored", zapStreamID(f.StreamID))
		return nil
	case *frame.UnknownFrame:
		// неизвестные типы обязаны игнорироваться
		return nil
	default:
		// DATA сюда не доходит, он разбирается потоково
		return nil
	}
}

func (r *reader) onHeaders(f *frame.HeadersFrame) error {
	c := r.conn
	id := f.StreamID

	st := c.store.Get(id)
	if st == nil {
		if c.localID(id) {
			if !c.store.Used(id) {
				return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "HEADERS on idle stream"}
			}
			// стрим уже закрыт: блок все равно декодируем, чтобы не
			// рассинхронизировать таблицу hpack
			if err := c.streamError(frame.StreamError{StreamID: id, Code: http2.ErrCodeStreamClosed}); err != nil {
				return err
			}
			return r.beginBlock(f, nil)
		}
		return r.acceptStream(f)
	}

	if err := st.RecvHeaders(f.EndStream); err != nil {
		var se frame.StreamError
		if errors.As(err, &se) {
			if err := c.streamError(se); err != nil {
				return err
			}
			return r.beginBlock(f, nil)
		}
		return err
	}
	return r.beginBlock(f, st)
}

// acceptStream заводит стрим, открытый пиром.
func (r *reader) acceptStream(f *frame.HeadersFrame) error {
	c := r.conn
	id := f.StreamID

	if !c.peerID(id) {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "peer opened stream with local id parity"}
	}

	refuse := func(code http2.ErrCode) error {
		if err := c.streamError(frame.StreamError{StreamID: id, Code: code}); err != nil {
			return err
		}
		return r.beginBlock(f, nil)
	}

	if c.goingAway() {
		// после GOAWAY новые стримы не принимаем, но id считаем использованным
		if st, err := c.store.OpenPeer(id); err != nil {
			var ce frame.ConnError
			if errors.As(err, &ce) {
				return err
			}
		} else {
			st.Close()
			c.store.Close(id)
		}
		return refuse(http2.ErrCodeRefusedStream)
	}

	st, err := c.store.OpenPeer(id)
	if err != nil {
		var se frame.StreamError
		if errors.As(err, &se) {
			return refuse(se.Code)
		}
		return err
	}

	var recv types.StreamReceiver
	if c.handler != nil {
		recv = c.handler.Accept(c, id)
	}
	if recv == nil {
		st.Close()
		c.store.Close(id)
		return refuse(http2.ErrCodeRefusedStream)
	}
	st.SetReceiver(recv)
	c.stats.StreamOpened()

	if err := st.RecvHeaders(f.EndStream); err != nil {
		var se frame.StreamError
		if errors.As(err, &se) {
			if err := c.streamError(se); err != nil {
				return err
			}
			return r.beginBlock(f, nil)
		}
		return err
	}
	return r.beginBlock(f, st)
}

func (r *reader) beginBlock(f *frame.HeadersFrame, st *streams.Stream) error {
	r.block = blockState{
		active:    true,
		id:        f.StreamID,
		stream:    st,
		endStream: f.EndStream,
	}
	return r.blockFragment(f.BlockFragment, f.EndHeaders)
}

// blockFragment скармливает кусок блока hpack-декодеру. Для отброшенных
// стримов эмиссия полей выключается, но таблица декодера живет дальше.
func (r *reader) blockFragment(frag []byte, endHeaders bool) error {
	b := &r.block
	r.hpackDec.SetEmitEnabled(b.stream != nil)
	if _, err := r.hpackDec.Write(frag); err != nil {
		return frame.ConnError{Code: http2.ErrCodeCompression, Reason: "hpack: " + err.Error()}
	}
	if !endHeaders {
		return nil
	}

	b.active = false
	if err := r.hpackDec.Close(); err != nil {
		return frame.ConnError{Code: http2.ErrCodeCompression, Reason: "hpack: " + err.Error()}
	}
	if st := b.stream; st != nil {
		if recv := st.Receiver(); recv != nil {
			recv.OnHeadersEnd(b.endStream)
		}
		if b.endStream {
			r.conn.retireIfClosed(st)
		}
	}
	return nil
}

// onField - эмиссия одного поля из hpack-декодера.
func (r *reader) onField(f hpack.HeaderField) {
	st := r.block.stream
	if st == nil {
		return
	}
	if recv := st.Receiver(); recv != nil {
		recv.OnHeader(r.names.GetOrAdd(f.Name), f.Value)
	}
}

func (r *reader) onRSTStream(f *frame.RSTStreamFrame) error {
	c := r.conn
	st := c.store.Get(f.StreamID)
	if st == nil {
		if !c.store.Used(f.StreamID) {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "RST_STREAM on idle stream"}
		}
		return nil // опоздавший сброс по уже закрытому стриму
	}

	prev := st.Close()
	if prev == streams.StateIdle {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "RST_STREAM on idle stream"}
	}
	c.stats.ResetIn()
	if recv := st.Receiver(); recv != nil {
		recv.OnReset(f.Code)
	}
	if c.store.Close(f.StreamID) {
		c.stats.StreamClosed()
	}
	return nil
}

func (r *reader) onSettings(f *frame.SettingsFrame) error {
	c := r.conn
	if f.Ack {
		if !c.settingsPending.CompareAndSwap(true, false) {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "unexpected SETTINGS ack"}
		}
		return nil
	}
	if err := f.Settings.Validate(); err != nil {
		return err
	}
	if err := c.applySettings(f.Settings); err != nil {
		return err
	}
	return c.sendControl(settingsAckBytes)
}

func (r *reader) onPing(f *frame.PingFrame) error {
	c := r.conn
	if f.Ack {
		c.pongs.settle(f.Data)
		return nil
	}
	c.stats.Ping()
	// эхо с тем же пейлоадом
	return c.sendControl((&frame.PingFrame{Ack: true, Data: f.Data}).Append(nil))
}

func (r *reader) onGoAway(f *frame.GoAwayFrame) error {
	ga := frame.GoAwayError{
		Code:         f.Code,
		LastStreamID: f.LastStreamID,
		DebugData:    append([]byte(nil), f.DebugData...),
	}
	if f.Code != http2.ErrCodeNo {
		return ga
	}
	// вежливое прощание: дорабатываем начатое, нового не открываем
	r.conn.log.Info("peer is going away", zap.Uint32("last_stream_id", uint32(ga.LastStreamID)))
	r.conn.remoteGoAway(ga)
	return nil
}

func (r *reader) onWindowUpdate(f *frame.WindowUpdateFrame) error {
	c := r.conn
	if f.StreamID == 0 {
		if err := c.fcConn.Add(f.Increment); err != nil {
			return frame.ConnError{Code: http2.ErrCodeFlowControl, Reason: "connection window overflow"}
		}
		return nil
	}

	st := c.store.Get(f.StreamID)
	if st == nil {
		if !c.store.Used(f.StreamID) {
			return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "WINDOW_UPDATE on idle stream"}
		}
		return nil // грейс-период закрытого стрима
	}
	if st.State() == streams.StateIdle {
		return frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "WINDOW_UPDATE on idle stream"}
	}
	if err := st.FC().Add(f.Increment); err != nil {
		return c.streamError(frame.StreamError{StreamID: f.StreamID, Code: http2.ErrCodeFlowControl})
	}
	return nil
}
