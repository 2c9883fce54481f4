// Package mux мультиплексирует логические стримы поверх одного
// net.Conn по бинарному фреймовому протоколу.
package mux

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/h2mux/consts"
	"github.com/ozontech/h2mux/frame"
	"github.com/ozontech/h2mux/framelog"
	"github.com/ozontech/h2mux/frameheader"
	"github.com/ozontech/h2mux/mux/flowcontrol"
	"github.com/ozontech/h2mux/mux/streams"
	"github.com/ozontech/h2mux/mux/types"
	"github.com/ozontech/h2mux/stats"
	"github.com/ozontech/h2mux/utils/hpackwrap"
)

var (
	// ErrConnClosed - соединение уже остановлено.
	ErrConnClosed = errors.New("connection closed")
	// ErrUnknownStream - операция по стриму, которого нет среди живых.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrGoAway - попытка открыть стрим после обмена GOAWAY.
	ErrGoAway = errors.New("connection is going away")
	// ErrIdleTimeout - на соединении слишком долго не было входящих байтов.
	ErrIdleTimeout = errors.New("connection idle timeout")
)

var (
	clientPreface    = []byte(http2.ClientPreface)
	settingsAckBytes = (&frame.SettingsFrame{Ack: true}).Append(nil)
)

func zapStreamID(id frame.StreamID) zap.Field {
	return zap.Uint32("stream-id", uint32(id))
}

var connID atomic.Uint32

// Conn - одно мультиплексированное соединение. Горутины приложения
// открывают стримы и шлют в них, горутина чтения раздает входящие события
// в StreamReceiver стримов.
type Conn struct {
	nc   net.Conn
	conf Config
	log  *zap.Logger

	server  bool
	handler types.Handler

	store    *streams.Store
	fcConn   types.FlowControl // окно отправки соединения
	recvConn *flowcontrol.Recv // окно приема соединения; трогает горутина чтения

	reader *reader
	writer *writer

	// порядок хедерных блоков на проводе обязан совпадать с порядком
	// кодирования, поэтому кодирование и постановка в очередь идут под
	// одной блокировкой
	encMu    sync.Mutex
	hpackEnc *hpackwrap.Wrapper
	encBuf   bytes.Buffer

	peerMaxFrame    atomic.Uint32
	settingsPending atomic.Bool
	goAwaySent      atomic.Bool
	goAwayRecv      atomic.Bool

	pongs pongTable

	stats *stats.Stats
	flog  *framelog.Writer

	closeOnce sync.Once
	closeFlag atomic.Bool
	closeErr  error
}

var _ types.StreamWriter = (*Conn)(nil)

// NewClient создает клиентскую сторону соединения. handler может быть
// nil: пуши выключены, сервер сам стримы не открывает.
func NewClient(nc net.Conn, handler types.Handler, conf Config, log *zap.Logger) *Conn {
	return newConn(nc, false, handler, conf, log)
}

// NewServer создает серверную сторону соединения.
func NewServer(nc net.Conn, handler types.Handler, conf Config, log *zap.Logger) *Conn {
	return newConn(nc, true, handler, conf, log)
}

func newConn(nc net.Conn, server bool, handler types.Handler, conf Config, log *zap.Logger) *Conn {
	conf = conf.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		nc:       nc,
		conf:     conf,
		log:      log.Named("mux").With(zap.Uint32("conn-id", connID.Add(1))),
		server:   server,
		handler:  handler,
		store:    streams.NewStore(server, conf.MaxConcurrentStreams, conf.InitialWindowSize, conf.GracePeriod),
		fcConn:   flowcontrol.NewFlowControl(consts.DefaultInitialWindowSize),
		recvConn: flowcontrol.NewRecv(conf.ConnWindow),
		hpackEnc: hpackwrap.New(),
		stats:    conf.Stats,
		flog:     conf.FrameLog,
	}
	if c.stats == nil {
		c.stats = stats.New()
	}
	c.peerMaxFrame.Store(consts.DefaultMaxFrameSize)
	c.reader = newReader(c, nc, conf.HeaderTableSize)
	c.writer = newWriter(nc, conf.DisableSendBatching)
	c.log.Debug("connection created")
	return c
}

// Stats возвращает счетчики соединения.
func (c *Conn) Stats() *stats.Stats { return c.stats }

// handshake обменивается префейсом и фреймами SETTINGS. Обе половины идут
// параллельно: писать свой SETTINGS можно, не дожидаясь чужого.
func (c *Conn) handshake(ctx context.Context) error {
	deadline := time.Now().Add(consts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}

	local := frame.Settings{
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingInitialWindowSize, Val: c.conf.InitialWindowSize},
		{ID: http2.SettingMaxFrameSize, Val: c.conf.MaxFrameSize},
		{ID: http2.SettingHeaderTableSize, Val: c.conf.HeaderTableSize},
	}
	if c.conf.MaxConcurrentStreams != 0 {
		local = append(local, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: c.conf.MaxConcurrentStreams})
	}

	var peer frame.Settings
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !c.server {
			// we should not check n, because Write must return error on n < len(clientPreface)
			if _, err := c.nc.Write(clientPreface); err != nil {
				return fmt.Errorf("write preface: %w", err)
			}
		}
		c.settingsPending.Store(true)
		buf := (&frame.SettingsFrame{Settings: local}).Append(nil)
		// окно приема соединения добирается до сконфигурированного
		// сразу, не дожидаясь первых данных
		if extra := c.conf.ConnWindow - consts.DefaultInitialWindowSize; extra > 0 {
			buf = (&frame.WindowUpdateFrame{StreamID: 0, Increment: extra}).Append(buf)
		}
		if _, err := c.nc.Write(buf); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
		c.countOut(buf)
		return nil
	})
	g.Go(func() error {
		if c.server {
			pre := make([]byte, len(clientPreface))
			if _, err := io.ReadFull(c.nc, pre); err != nil {
				return fmt.Errorf("read preface: %w", err)
			}
			if !bytes.Equal(pre, clientPreface) {
				return errors.New("protocol error: bad client preface")
			}
		}
		f, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("read settings frame: %w", err)
		}
		sf, ok := f.(*frame.SettingsFrame)
		if !ok || sf.Ack {
			return errors.New("protocol error: first frame from peer is not settings")
		}
		if err := sf.Settings.Validate(); err != nil {
			return err
		}
		peer = sf.Settings
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logFields := make([]zap.Field, 0, len(peer))
	for _, s := range peer {
		logFields = append(logFields, zap.Uint32("setting_"+s.ID.String(), s.Val))
	}
	c.log.Info("got settings", logFields...)

	if err := c.applySettings(peer); err != nil {
		return err
	}
	if _, err := c.nc.Write(settingsAckBytes); err != nil {
		return fmt.Errorf("write settings ack: %w", err)
	}
	c.countOut(settingsAckBytes)
	return c.nc.SetDeadline(time.Time{})
}

// readFrame дочитывает из соединения один целый фрейм. Лишние байты,
// попавшие в буфер за фреймом, сохраняются для основного цикла чтения.
func (c *Conn) readFrame() (frame.Frame, error) {
	buf := make([]byte, 0, consts.RecieveBufferSize)
	chunk := make([]byte, consts.RecieveBufferSize)
	for {
		f, n, err := frame.Decode(buf)
		if err == nil {
			c.stats.FrameIn(n)
			if c.flog != nil {
				c.flog.Log(framelog.DirIn, frameheader.FrameHeader(buf[:9]))
			}
			c.reader.initial = append(c.reader.initial, buf[n:]...)
			return f, nil
		}
		if !errors.Is(err, frame.ErrIncomplete) {
			return nil, err
		}
		if len(buf) >= 9 {
			if l := frameheader.FrameHeader(buf[:9]).Length(); l > int(c.conf.MaxFrameSize) {
				return nil, frame.ConnError{Code: http2.ErrCodeFrameSize, Reason: "frame exceeds SETTINGS_MAX_FRAME_SIZE"}
			}
		}
		n, rerr := c.nc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if rerr != nil && n == 0 {
			return nil, fmt.Errorf("conn read: %w", rerr)
		}
	}
}

// Run гоняет соединение до фатальной ошибки, GOAWAY пира или отмены
// контекста. После возврата все стримы завершены, net.Conn закрыт.
func (c *Conn) Run(ctx context.Context) (err error) {
	defer func() { err = c.teardown(err) }()

	if err := c.handshake(ctx); err != nil {
		return err
	}
	c.log.Debug("handshake done")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		// будим застрявших в OpenStream и выдергиваем горутины из сисколов
		c.store.Disable()
		c.nc.SetDeadline(time.Now()) //nolint:errcheck // соединение может быть уже закрыто
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return c.runReader(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.runWriter(gctx)
	})
	g.Go(func() error {
		c.retireLoop()
		return nil
	})
	if c.conf.IdleTimeout > 0 || c.conf.PingPeriod > 0 {
		g.Go(func() error {
			defer cancel()
			return c.keepalive(gctx)
		})
	}
	return g.Wait()
}

func (c *Conn) runReader(ctx context.Context) error {
	defer c.log.Debug("reader done")

	err := c.reader.run(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}

	var ga frame.GoAwayError
	if errors.As(err, &ga) {
		c.log.Info(
			"got goaway",
			zap.Uint32("last_stream_id", uint32(ga.LastStreamID)),
			zap.ByteString("debug_data", ga.DebugData),
		)
		c.remoteGoAway(ga)
		return ga
	}
	if c.ioDone(err) {
		return nil
	}
	return err
}

func (c *Conn) runWriter(ctx context.Context) error {
	defer c.log.Debug("writer done")

	err := c.writer.run(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if c.ioDone(err) {
		return nil
	}
	return fmt.Errorf("conn write: %w", err)
}

// ioDone отличает ожидаемую ошибку остановленного соединения от настоящей.
func (c *Conn) ioDone(err error) bool {
	if c.closeFlag.Load() {
		return true
	}
	return c.goingAway() && errors.Is(err, io.EOF)
}

// retireLoop окончательно забывает закрытые id после грейс-периода.
func (c *Conn) retireLoop() {
	for {
		id, ok := c.store.NextRetired()
		if !ok {
			return
		}
		c.store.Forget(id)
	}
}

func (c *Conn) keepalive(ctx context.Context) error {
	var idleC, pingC <-chan time.Time
	if idle := c.conf.IdleTimeout; idle > 0 {
		t := time.NewTicker(idle / 4)
		defer t.Stop()
		idleC = t.C
	}
	if period := c.conf.PingPeriod; period > 0 {
		t := time.NewTicker(period)
		defer t.Stop()
		pingC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idleC:
			if time.Since(c.reader.last()) < c.conf.IdleTimeout {
				continue
			}
			c.goAway(http2.ErrCodeNo, "idle timeout") //nolint:errcheck // соединение все равно умирает
			return ErrIdleTimeout
		case <-pingC:
			pctx, cancel := context.WithTimeout(ctx, c.conf.PingTimeout)
			err := c.Ping(pctx)
			cancel()
			if err == nil || ctx.Err() != nil {
				continue
			}
			c.goAway(http2.ErrCodeNo, "keepalive ping failed") //nolint:errcheck // соединение все равно умирает
			return fmt.Errorf("keepalive ping: %w", err)
		}
	}
}

// teardown доводит соединение до конца: прощается при фатальной ошибке
// протокола, завершает стримы и возвращает итоговую ошибку Run.
func (c *Conn) teardown(err error) error {
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	var ce frame.ConnError
	if errors.As(err, &ce) && c.goAwaySent.CompareAndSwap(false, true) {
		c.log.Warn("closing connection", zap.Error(err))
		// штатная петля записи уже могла умереть, прощаемся напрямую
		buf := (&frame.GoAwayFrame{
			LastStreamID: c.store.HighPeer(),
			Code:         ce.Code,
			DebugData:    []byte(ce.Reason),
		}).Append(nil)
		c.nc.SetWriteDeadline(time.Now().Add(time.Second)) //nolint:errcheck // соединение может быть уже закрыто
		if _, werr := c.nc.Write(buf); werr == nil {
			c.countOut(buf)
		}
	}

	c.store.Disable()
	closeErr := c.closeNC()

	reason := err
	if reason == nil {
		reason = ErrConnClosed
	}
	c.store.Each(func(st *streams.Stream) {
		st.Close()
		if recv := st.Receiver(); recv != nil {
			recv.OnError(reason)
		}
		if c.store.Close(st.ID()) {
			c.stats.StreamClosed()
		}
	})
	c.fcConn.Disable()
	c.pongs.fail(ErrConnClosed)

	c.log.Debug("run done")
	return multierr.Append(err, closeErr)
}

// Shutdown прощается без ошибки, дожидается завершения живых стримов и
// закрывает соединение. Отмена контекста обрывает ожидание.
func (c *Conn) Shutdown(ctx context.Context) error {
	if err := c.goAway(http2.ErrCodeNo, "shutting down"); err != nil && !errors.Is(err, ErrConnClosed) {
		return multierr.Append(err, c.closeNC())
	}

	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return multierr.Append(ctx.Err(), c.closeNC())
		case <-t.C:
			if c.store.Len() == 0 {
				return c.closeNC()
			}
		}
	}
}

// Close рвет соединение немедленно, без прощания.
func (c *Conn) Close() error { return c.closeNC() }

func (c *Conn) closeNC() error {
	c.closeOnce.Do(func() {
		c.closeFlag.Store(true)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// OpenStream открывает локальный стрим. Блокируется, когда пир ограничил
// конкурентность и свободных слотов нет.
func (c *Conn) OpenStream(recv types.StreamReceiver) (frame.StreamID, error) {
	if c.goingAway() {
		return 0, ErrGoAway
	}
	st, err := c.store.OpenLocal()
	if err != nil {
		if errors.Is(err, streams.ErrStoreClosed) {
			return 0, ErrConnClosed
		}
		return 0, err
	}
	st.SetReceiver(recv)
	c.stats.StreamOpened()
	return st.ID(), nil
}

// SendHeaders кодирует и отправляет блок хедеров. Блок длиннее лимита
// пира нарезается на HEADERS с хвостом CONTINUATION; связка уходит на
// провод неразрывно.
func (c *Conn) SendHeaders(id frame.StreamID, fields []hpack.HeaderField, endStream bool) error {
	st := c.store.Get(id)
	if st == nil {
		return ErrUnknownStream
	}
	if err := st.SentHeaders(endStream); err != nil {
		return err
	}

	c.encMu.Lock()
	c.encBuf.Reset()
	c.hpackEnc.SetWriter(&c.encBuf)
	for _, f := range fields {
		c.hpackEnc.WriteField(f.Name, f.Value)
	}
	block := c.encBuf.Bytes()

	maxFrame := int(c.peerMaxFrame.Load())
	first := block
	var rest []byte
	if len(first) > maxFrame {
		first, rest = block[:maxFrame], block[maxFrame:]
	}

	buf := c.writer.acquire()
	buf = (&frame.HeadersFrame{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}).Append(buf)
	for len(rest) > 0 {
		next := rest
		if len(next) > maxFrame {
			next = rest[:maxFrame]
		}
		rest = rest[len(next):]
		buf = (&frame.ContinuationFrame{
			StreamID:      id,
			BlockFragment: next,
			EndHeaders:    len(rest) == 0,
		}).Append(buf)
	}
	err := c.enqueueFrame(wframe{buf, true})
	c.encMu.Unlock()

	if err != nil {
		return err
	}
	if endStream {
		c.retireIfClosed(st)
	}
	return nil
}

// SendTrailers отправляет завершающий блок хедеров, закрывая свою сторону
// стрима.
func (c *Conn) SendTrailers(id frame.StreamID, fields []hpack.HeaderField) error {
	return c.SendHeaders(id, fields, true)
}

// SendData отправляет тело, нарезая его под лимит пира. Исчерпанные окна
// блокируют отправку до пополнения пиром.
func (c *Conn) SendData(id frame.StreamID, p []byte, endStream bool) error {
	st := c.store.Get(id)
	if st == nil {
		return ErrUnknownStream
	}

	maxFrame := int(c.peerMaxFrame.Load())
	for {
		chunk := p
		if len(chunk) > maxFrame {
			chunk = p[:maxFrame]
		}
		// частично открытое окно не повод стоять: шлем сколько влезает
		if avail := st.FC().Available(); 0 < avail && int(avail) < len(chunk) {
			chunk = chunk[:avail]
		}
		p = p[len(chunk):]
		last := len(p) == 0
		end := endStream && last

		if err := st.SentData(end); err != nil {
			return err
		}
		if !st.FC().Wait(uint32(len(chunk))) {
			return streams.ErrSendOnClosedStream
		}
		if !c.fcConn.Wait(uint32(len(chunk))) {
			return ErrConnClosed
		}

		buf := c.writer.acquire()
		buf = (&frame.DataFrame{StreamID: id, Data: chunk, EndStream: end}).Append(buf)
		if err := c.enqueueFrame(wframe{buf, true}); err != nil {
			return err
		}
		if last {
			break
		}
	}

	if endStream {
		c.retireIfClosed(st)
	}
	return nil
}

// ResetStream сбрасывает стрим со своей стороны. Стрим, не успевший на
// провод, просто забывается.
func (c *Conn) ResetStream(id frame.StreamID, code http2.ErrCode) error {
	st := c.store.Get(id)
	if st == nil {
		return ErrUnknownStream
	}
	prev := st.Close()
	if c.store.Close(id) {
		c.stats.StreamClosed()
	}
	if prev == streams.StateIdle || prev == streams.StateClosed {
		return nil
	}
	return c.sendRSTStream(id, code)
}

// Ping отправляет PING и ждет ответный ack.
func (c *Conn) Ping(ctx context.Context) error {
	data, ch := c.pongs.add()
	c.stats.Ping()
	if err := c.sendControl((&frame.PingFrame{Data: data}).Append(nil)); err != nil {
		c.pongs.cancel(data)
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.pongs.cancel(data)
		return ctx.Err()
	}
}

// GoAway прощается с пиром: начатые стримы доживают, новых не будет.
func (c *Conn) GoAway(code http2.ErrCode, debug string) error {
	return c.goAway(code, debug)
}

// goAway объявляет прощание. Повторные вызовы - no-op.
func (c *Conn) goAway(code http2.ErrCode, debug string) error {
	if !c.goAwaySent.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Info("going away", zap.Stringer("code", code), zap.String("debug", debug))
	return c.sendControl((&frame.GoAwayFrame{
		LastStreamID: c.store.HighPeer(),
		Code:         code,
		DebugData:    []byte(debug),
	}).Append(nil))
}

// remoteGoAway обрабатывает прощание пира: стримы выше last stream id пир
// не обрабатывал, завершаем их с ошибкой недоставки.
func (c *Conn) remoteGoAway(ga frame.GoAwayError) {
	c.goAwayRecv.Store(true)
	c.store.Each(func(st *streams.Stream) {
		if !c.localID(st.ID()) || st.ID() <= ga.LastStreamID {
			return
		}
		st.Close()
		if recv := st.Receiver(); recv != nil {
			recv.OnError(ga)
		}
		if c.store.Close(st.ID()) {
			c.stats.StreamClosed()
		}
	})
}

func (c *Conn) goingAway() bool {
	return c.goAwaySent.Load() || c.goAwayRecv.Load()
}

func (c *Conn) localID(id frame.StreamID) bool {
	if c.server {
		return id.ServerInitiated()
	}
	return id.ClientInitiated()
}

func (c *Conn) peerID(id frame.StreamID) bool {
	if c.server {
		return id.ClientInitiated()
	}
	return id.ServerInitiated()
}

func (c *Conn) applySettings(ss frame.Settings) error {
	for _, s := range ss {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			if err := c.store.SetPeerInitialWindow(s.Val); err != nil {
				return frame.ConnError{Code: http2.ErrCodeFlowControl, Reason: "initial window adjustment overflows"}
			}
		case http2.SettingMaxFrameSize:
			c.peerMaxFrame.Store(s.Val)
		case http2.SettingMaxConcurrentStreams:
			c.store.SetMaxLocal(s.Val)
		case http2.SettingHeaderTableSize:
			c.encMu.Lock()
			c.hpackEnc.SetMaxDynamicTableSize(s.Val)
			c.encMu.Unlock()
		case http2.SettingEnablePush, http2.SettingMaxHeaderListSize:
			// пуши мы не шлем в любом случае; лимит списка хедеров
			// остается на совести приложения
		default:
			c.log.Sugar().Warnf("got not supported setting: %s (%d)", s.ID.String(), s.Val)
		}
	}
	return nil
}

// streamError сбрасывает один стрим: пир получает RST_STREAM, приложение
// узнает через OnReset.
func (c *Conn) streamError(se frame.StreamError) error {
	c.log.Debug("stream error", zapStreamID(se.StreamID), zap.Stringer("code", se.Code))
	if st := c.store.Get(se.StreamID); st != nil {
		st.Close()
		if recv := st.Receiver(); recv != nil {
			recv.OnReset(se.Code)
		}
		if c.store.Close(se.StreamID) {
			c.stats.StreamClosed()
		}
	}
	return c.sendRSTStream(se.StreamID, se.Code)
}

// retireIfClosed убирает стрим из живых после завершения обмена в обе
// стороны.
func (c *Conn) retireIfClosed(st *streams.Stream) {
	if st.State() != streams.StateClosed {
		return
	}
	st.FC().Disable()
	if c.store.Close(st.ID()) {
		c.stats.StreamClosed()
	}
}

func (c *Conn) sendRSTStream(id frame.StreamID, code http2.ErrCode) error {
	c.stats.ResetOut()
	return c.sendControl((&frame.RSTStreamFrame{StreamID: id, Code: code}).Append(nil))
}

func (c *Conn) sendWindowUpdate(id frame.StreamID, increment uint32) error {
	return c.sendControl((&frame.WindowUpdateFrame{StreamID: id, Increment: increment}).Append(nil))
}

// sendControl ставит контрольный фрейм в приоритетную очередь записи.
func (c *Conn) sendControl(buf []byte) error {
	if err := c.writer.control(buf); err != nil {
		return err
	}
	c.countOut(buf)
	return nil
}

func (c *Conn) enqueueFrame(f wframe) error {
	if err := c.writer.enqueue(f); err != nil {
		return err
	}
	c.countOut(f.buf)
	return nil
}

// countOut учитывает все фреймы, собранные в буфере подряд.
func (c *Conn) countOut(buf []byte) {
	for len(buf) >= 9 {
		fh := frameheader.FrameHeader(buf[:9])
		n := 9 + fh.Length()
		c.stats.FrameOut(n)
		if c.flog != nil {
			c.flog.Log(framelog.DirOut, fh)
		}
		if n > len(buf) {
			return
		}
		buf = buf[n:]
	}
}

// pongTable сопоставляет ack входящим PING по их пейлоаду.
type pongTable struct {
	mu      sync.Mutex
	seq     uint64
	waiters map[[8]byte]chan error
}

func (p *pongTable) add() ([8]byte, chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], p.seq)
	ch := make(chan error, 1)
	if p.waiters == nil {
		p.waiters = make(map[[8]byte]chan error)
	}
	p.waiters[data] = ch
	return data, ch
}

func (p *pongTable) settle(data [8]byte) {
	p.mu.Lock()
	ch := p.waiters[data]
	delete(p.waiters, data)
	p.mu.Unlock()
	if ch != nil {
		ch <- nil
	}
}

func (p *pongTable) cancel(data [8]byte) {
	p.mu.Lock()
	delete(p.waiters, data)
	p.mu.Unlock()
}

func (p *pongTable) fail(err error) {
	p.mu.Lock()
	for data, ch := range p.waiters {
		delete(p.waiters, data)
		ch <- err
	}
	p.mu.Unlock()
}
