package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/h2mux/frame"
	"github.com/ozontech/h2mux/framelog"
	"github.com/ozontech/h2mux/mux"
	"github.com/ozontech/h2mux/mux/types"
	"github.com/ozontech/h2mux/stats"
)

type ServeCommand struct {
	Addr        string        `default:":7070" help:"Listen address."`
	ConnWindow  uint32        `default:"1048576" help:"Connection receive window, bytes."`
	MaxStreams  uint32        `default:"256" help:"Max streams a client may keep open."`
	IdleTimeout time.Duration `default:"1m" help:"Close connections with no inbound bytes for this long."`
	FrameLog    string        `help:"Write json frame trace to file." type:"path"`

	Verbose bool `help:"Verbose output"`
}

func (c *ServeCommand) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}

	s := stats.New()
	conf := mux.DefaultConfig()
	conf.Stats = s
	conf.ConnWindow = c.ConnWindow
	conf.MaxConcurrentStreams = c.MaxStreams
	conf.IdleTimeout = c.IdleTimeout

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

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("listening", zap.String("addr", l.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return l.Close()
	})
	g.Go(func() error {
		for {
			nc, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			conn := mux.NewServer(nc, echoHandler{}, conf, log)
			g.Go(func() error {
				// одна умершая сессия не валит сервер
				if err := conn.Run(gctx); err != nil {
					log.Warn("connection failed", zap.Error(err))
				}
				return nil
			})
		}
	})
	err = g.Wait()

	// соединения остановлены, фреймов больше не будет
	closeErr := printer.Close()
	if fl != nil {
		closeErr = multierr.Append(closeErr, fl.Close())
	}
	return multierr.Combine(err, closeErr, ioG.Wait())
}

// echoHandler отвечает на каждый стрим статусом 200 и его же телом.
type echoHandler struct{}

func (echoHandler) Accept(w types.StreamWriter, id frame.StreamID) types.StreamReceiver {
	return &echoStream{w: w, id: id}
}

type echoStream struct {
	w    types.StreamWriter
	id   frame.StreamID
	body []byte
}

func (s *echoStream) OnHeader(string, string) {}

func (s *echoStream) OnHeadersEnd(endStream bool) {
	if endStream {
		s.respond()
	}
}

func (s *echoStream) OnData(chunk []byte, endStream bool) {
	s.body = append(s.body, chunk...)
	if endStream {
		s.respond()
	}
}

// respond уходит в свою горутину: отправка блокируется на окнах, а колбеки
// зовутся из горутины чтения, которой нельзя стоять.
func (s *echoStream) respond() {
	w, id, body := s.w, s.id, s.body
	s.body = nil
	go func() {
		if err := w.SendHeaders(id, []hpack.HeaderField{{Name: ":status", Value: "200"}}, false); err != nil {
			return
		}
		w.SendData(id, body, true) //nolint:errcheck // стрим мог сброситься, ответ уже никому не нужен
	}()
}

func (s *echoStream) OnReset(http2.ErrCode) {}
func (s *echoStream) OnError(error)         {}
