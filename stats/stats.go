// Package stats считает фреймы, байты и стримы соединения.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats - счетчики одного или нескольких соединений. Все методы можно
// звать из любых горутин. Один инстанс можно отдать нескольким
// соединениям и получить суммарную картину.
type Stats struct {
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64

	streamsOpened atomic.Uint64
	streamsClosed atomic.Uint64
	resetsIn      atomic.Uint64
	resetsOut     atomic.Uint64
	pings         atomic.Uint64
}

func New() *Stats {
	return &Stats{}
}

// FrameIn учитывает принятый фрейм. n - размер вместе с заголовком.
func (s *Stats) FrameIn(n int) {
	s.framesIn.Add(1)
	s.bytesIn.Add(uint64(n))
}

// FrameOut учитывает отправленный фрейм. n - размер вместе с заголовком.
func (s *Stats) FrameOut(n int) {
	s.framesOut.Add(1)
	s.bytesOut.Add(uint64(n))
}

func (s *Stats) StreamOpened() { s.streamsOpened.Add(1) }
func (s *Stats) StreamClosed() { s.streamsClosed.Add(1) }
func (s *Stats) ResetIn()      { s.resetsIn.Add(1) }
func (s *Stats) ResetOut()     { s.resetsOut.Add(1) }
func (s *Stats) Ping()         { s.pings.Add(1) }

type Snapshot struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64

	StreamsOpened uint64
	StreamsClosed uint64
	ResetsIn      uint64
	ResetsOut     uint64
	Pings         uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		BytesIn:       s.bytesIn.Load(),
		BytesOut:      s.bytesOut.Load(),
		StreamsOpened: s.streamsOpened.Load(),
		StreamsClosed: s.streamsClosed.Load(),
		ResetsIn:      s.resetsIn.Load(),
		ResetsOut:     s.resetsOut.Load(),
		Pings:         s.pings.Load(),
	}
}

func (s Snapshot) sub(prev Snapshot) Snapshot {
	return Snapshot{
		FramesIn:      s.FramesIn - prev.FramesIn,
		FramesOut:     s.FramesOut - prev.FramesOut,
		BytesIn:       s.BytesIn - prev.BytesIn,
		BytesOut:      s.BytesOut - prev.BytesOut,
		StreamsOpened: s.StreamsOpened - prev.StreamsOpened,
		StreamsClosed: s.StreamsClosed - prev.StreamsClosed,
		ResetsIn:      s.ResetsIn - prev.ResetsIn,
		ResetsOut:     s.ResetsOut - prev.ResetsOut,
		Pings:         s.Pings - prev.Pings,
	}
}

// Printer раз в секунду пишет дельты счетчиков, а по Close - итог.
type Printer struct {
	stats   *Stats
	w       io.Writer
	closeCh chan struct{}

	start    time.Time
	last     Snapshot
	lastTime time.Time
}

func NewPrinter(s *Stats, w io.Writer) *Printer {
	now := time.Now()
	return &Printer{
		stats:    s,
		w:        w,
		closeCh:  make(chan struct{}),
		start:    now,
		lastTime: now,
	}
}

func (p *Printer) Run() error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	defer p.total()
	for {
		select {
		case now := <-t.C:
			p.report(now)
		case <-p.closeCh:
			return nil
		}
	}
}

func (p *Printer) Close() error {
	close(p.closeCh)
	return nil
}

func (p *Printer) write(d Snapshot, period time.Duration) {
	miliSeconds := period.Milliseconds()
	if miliSeconds > 0 {
		fmt.Fprintf(
			p.w,
			"in=%d out=%d streams=%d rst=%d recv/s=%s send/s=%s\n",
			d.FramesIn, d.FramesOut, d.StreamsOpened, d.ResetsIn+d.ResetsOut,
			humanize.Bytes(d.BytesIn*1000/uint64(miliSeconds)),
			humanize.Bytes(d.BytesOut*1000/uint64(miliSeconds)),
		)
	} else {
		fmt.Fprintf(
			p.w,
			"in=%d out=%d streams=%d rst=%d\n",
			d.FramesIn, d.FramesOut, d.StreamsOpened, d.ResetsIn+d.ResetsOut,
		)
	}
}

func (p *Printer) total() {
	fmt.Fprintln(p.w, "total")
	p.write(p.stats.Snapshot(), time.Since(p.start))
}

func (p *Printer) report(now time.Time) {
	cur := p.stats.Snapshot()
	p.write(cur.sub(p.last), now.Sub(p.lastTime))
	p.last, p.lastTime = cur, now
}
