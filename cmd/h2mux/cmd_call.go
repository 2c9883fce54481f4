package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/h2mux/framelog"
	"github.com/ozontech/h2mux/mux"
	"github.com/ozontech/h2mux/scheduler"
	"github.com/ozontech/h2mux/stats"
)

type CallCommand struct {
	Addr string `required:"" help:"Address of the server."`
	Path string `default:"/echo" help:"Request :path pseudo-header."`

	Count       int    `default:"1000" help:"Total requests to send."`
	Concurrency int    `default:"16" help:"In-flight requests per connection."`
	Conns       int    `default:"1" help:"Connections count."`
	Size        int    `default:"1024" help:"Request body size, bytes."`
	RPS         uint64 `help:"Request rate limit, req/s (unlimited when 0)."`

	FrameLog string `help:"Write json frame trace to file." type:"path"`

	Verbose bool `help:"Verbose output"`
}

func (c *CallCommand) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}
	defer memStats(log)

	s := stats.New()
	conf := mux.DefaultConfig()
	conf.Stats = s

	ioG := &errgroup.Group{}
	printer := stats.NewPrinter(s, os.Stdout)
	ioG.Go(printer.Run)

	var fl *framelog.Writer
	if c.FrameLog != "" {
		f, err := os.Create(c.FrameLog)
		if err != nil {
			return fmt.Errorf("creating frame log file(%s): %w", c.FrameLog, err)
		}
		defer f.Close() //nolint:errcheck // файл дописан и сброшен в fl.Run
		fl = framelog.New(f)
		conf.FrameLog = fl
		ioG.Go(fl.Run)
	}

	g, gctx := errgroup.WithContext(ctx)
	conns := make([]*mux.Conn, c.Conns)
	for i := range conns {
		nc, err := dial(ctx, c.Addr)
		if err != nil {
			return fmt.Errorf("dialing: %w", err)
		}
		conn := mux.NewClient(nc, nil, conf, log)
		conns[i] = conn
		g.Go(func() error { return conn.Run(gctx) })
	}

	fields := []hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "http"},
		{Name: ":path", Value: c.Path},
		{Name: ":authority", Value: c.Addr},
	}
	body := make([]byte, c.Size)

	var sched scheduler.Scheduler = scheduler.Unlimited{}
	if c.RPS > 0 {
		cs, err := scheduler.NewConstant(c.RPS)
		if err != nil {
			return err
		}
		sched = cs
	}
	sched = scheduler.NewCountLimiter(sched, int64(c.Count))

	var (
		n     atomic.Int64
		calls atomic.Int64
		fails atomic.Int64
	)
	begin := time.Now()

	reqG, reqCtx := errgroup.WithContext(gctx)
	for _, conn := range conns {
		conn := conn
		for w := 0; w < c.Concurrency; w++ {
			reqG.Go(func() error {
				for {
					at, ok := sched.Next(n.Add(1))
					if !ok {
						return nil
					}
					time.Sleep(at - time.Since(begin))

					err := doCall(reqCtx, conn, fields, body)
					switch {
					case err == nil:
						calls.Add(1)
					case reqCtx.Err() != nil:
						return nil
					case errors.Is(err, mux.ErrGoAway) || errors.Is(err, mux.ErrConnClosed):
						// соединение больше не примет запросов, остаток не зальешь
						return err
					default:
						calls.Add(1)
						fails.Add(1)
						log.Warn("call failed", zap.Error(err))
					}
				}
			})
		}
	}
	err := reqG.Wait()

	if gctx.Err() == nil {
		sdCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, conn := range conns {
			err = multierr.Append(err, conn.Shutdown(sdCtx))
		}
		sdCancel()
	}
	err = multierr.Append(err, g.Wait())

	elapsed := time.Since(begin)
	closeErr := printer.Close()
	if fl != nil {
		closeErr = multierr.Append(closeErr, fl.Close())
	}
	err = multierr.Combine(err, closeErr, ioG.Wait())

	fmt.Printf(
		"calls=%d failed=%d elapsed=%s rate=%.0f req/s\n",
		calls.Load(), fails.Load(), elapsed.Round(time.Millisecond),
		float64(calls.Load())/elapsed.Seconds(),
	)
	return err
}

// doCall прогоняет один запрос: хедеры, тело, ожидание ответа целиком.
func doCall(ctx context.Context, conn *mux.Conn, fields []hpack.HeaderField, body []byte) error {
	cs := &callStream{done: make(chan struct{})}
	id, err := conn.OpenStream(cs)
	if err != nil {
		return err
	}
	if err := conn.SendHeaders(id, fields, false); err != nil {
		return err
	}
	if err := conn.SendData(id, body, true); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		conn.ResetStream(id, http2.ErrCodeCancel) //nolint:errcheck // соединение уже закрывается
		return ctx.Err()
	case <-cs.done:
	}
	if cs.err != nil {
		return cs.err
	}
	if cs.status != "200" {
		return fmt.Errorf("unexpected status %q", cs.status)
	}
	return nil
}

// callStream собирает ответ одного запроса. Колбеки приходят из горутины
// чтения соединения, поэтому поля обходятся без блокировок: чтение после
// done упорядочено закрытием канала.
type callStream struct {
	done   chan struct{}
	status string
	err    error
}

func (cs *callStream) OnHeader(name, value string) {
	if name == ":status" {
		cs.status = value
	}
}

func (cs *callStream) OnHeadersEnd(endStream bool) {
	if endStream {
		cs.finish(nil)
	}
}

func (cs *callStream) OnData(_ []byte, endStream bool) {
	if endStream {
		cs.finish(nil)
	}
}

func (cs *callStream) OnReset(code http2.ErrCode) {
	cs.finish(fmt.Errorf("stream reset: %s", code))
}

func (cs *callStream) OnError(err error) { cs.finish(err) }

func (cs *callStream) finish(err error) {
	select {
	case <-cs.done:
	default:
		cs.err = err
		close(cs.done)
	}
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return dialer.DialContext(ctx, "tcp", addr)
}

func memStats(log *zap.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info(
		"memory stats",
		zap.Uint64("Alloc (MiB)", bToMb(m.Alloc)),
		zap.Uint64("TotalAlloc (MiB)", bToMb(m.TotalAlloc)),
		zap.Uint64("Sys (MiB)", bToMb(m.Sys)),
		zap.Uint32("NumGC (count)", m.NumGC),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
