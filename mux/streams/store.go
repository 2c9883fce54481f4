package streams

import (
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/consts"
	"github.com/ozontech/h2mux/frame"
)

var (
	// ErrStoreClosed - соединение остановлено, новых стримов не будет.
	ErrStoreClosed = errors.New("streams store closed")
	// ErrStreamIDsExhausted - 31-битное пространство id кончилось,
	// дальше жить можно только на новом соединении.
	ErrStreamIDsExhausted = errors.New("stream ids exhausted")
)

// Store владеет множеством живых стримов соединения: выделяет id
// локальным, регистрирует стримы пира, следит за лимитами конкурентности
// и помнит недавно закрытые id, пока по ним могут опаздывать фреймы.
type Store struct {
	server bool

	mu   sync.Mutex
	cond *sync.Cond // ждуны свободного слота под локальный стрим

	streams map[frame.StreamID]*Stream

	nextLocal frame.StreamID // id следующего локального стрима
	highPeer  frame.StreamID // максимальный id, открытый пиром

	peerActive  uint32
	localActive uint32
	maxPeer     uint32 // наш лимит на стримы пира; 0 - без лимита
	maxLocal    uint32 // лимит пира на наши стримы; 0 - без лимита

	peerInitWin uint32 // окно отправки новых стримов, объявляет пир
	recvWin     uint32 // окно приема новых стримов, объявляем мы

	retired  map[frame.StreamID]struct{}
	retireQ  *RetireQueue
	disabled bool
}

func NewStore(server bool, maxPeer, recvWin uint32, grace time.Duration) *Store {
	s := &Store{
		server:      server,
		streams:     make(map[frame.StreamID]*Stream, 64),
		retired:     make(map[frame.StreamID]struct{}, 64),
		retireQ:     NewRetireQueue(grace),
		maxPeer:     maxPeer,
		peerInitWin: consts.DefaultInitialWindowSize,
		recvWin:     recvWin,
	}
	s.cond = sync.NewCond(&s.mu)
	// клиент открывает нечетные стримы, сервер - четные
	if server {
		s.nextLocal = 2
	} else {
		s.nextLocal = 1
	}
	return s
}

// OpenPeer регистрирует стрим, открытый пиром. Нарушение монотонности id
// фатально для соединения, превышение лимита конкурентности - отказ
// одному стриму. Отклоненный id все равно считается использованным.
func (s *Store) OpenPeer(id frame.StreamID) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id <= s.highPeer {
		return nil, frame.ConnError{Code: http2.ErrCodeProtocol, Reason: "peer stream id not increasing"}
	}
	s.highPeer = id
	if s.disabled {
		return nil, frame.StreamError{StreamID: id, Code: http2.ErrCodeRefusedStream}
	}
	if s.maxPeer != 0 && s.peerActive >= s.maxPeer {
		return nil, frame.StreamError{StreamID: id, Code: http2.ErrCodeRefusedStream}
	}
	s.peerActive++
	st := newStream(id, s.peerInitWin, s.recvWin)
	s.streams[id] = st
	return st, nil
}

// OpenLocal выделяет id и регистрирует локальный стрим. Блокируется, когда
// пир ограничил конкурентность, до освобождения слота.
func (s *Store) OpenLocal() (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.disabled && s.maxLocal != 0 && s.localActive >= s.maxLocal {
		s.cond.Wait()
	}
	if s.disabled {
		return nil, ErrStoreClosed
	}
	if s.nextLocal > frame.MaxStreamID {
		return nil, ErrStreamIDsExhausted
	}

	id := s.nextLocal
	s.nextLocal += 2
	s.localActive++
	st := newStream(id, s.peerInitWin, s.recvWin)
	s.streams[id] = st
	return st, nil
}

// Get возвращает живой стрим либо nil.
func (s *Store) Get(id frame.StreamID) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id]
}

// Close убирает стрим из живых и помечает id недавно закрытым: опоздавшие
// по нему фреймы будут классифицированы как "стрим закрыт", а не "стрима
// никогда не было". Возвращает false, если стрима среди живых уже нет.
func (s *Store) Close(id frame.StreamID) bool {
	s.mu.Lock()
	if _, ok := s.streams[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.streams, id)
	if s.isLocal(id) {
		s.localActive--
		s.cond.Signal()
	} else {
		s.peerActive--
	}
	s.retired[id] = struct{}{}
	s.mu.Unlock()
	s.retireQ.Add(id)
	return true
}

// Forget окончательно забывает закрытый id после грейс-периода.
func (s *Store) Forget(id frame.StreamID) {
	s.mu.Lock()
	delete(s.retired, id)
	s.mu.Unlock()
}

// NextRetired отдает очередной id, чей грейс-период истек.
func (s *Store) NextRetired() (frame.StreamID, bool) {
	return s.retireQ.Next()
}

// RecentlyClosed сообщает, не закрыт ли id недавно.
func (s *Store) RecentlyClosed(id frame.StreamID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.retired[id]
	return ok
}

// Used сообщает, использовался ли id хоть когда-нибудь.
func (s *Store) Used(id frame.StreamID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLocal(id) {
		return id < s.nextLocal
	}
	return id <= s.highPeer
}

// HighPeer - последний принятый от пира id, он же last stream id
// для GOAWAY.
func (s *Store) HighPeer() frame.StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highPeer
}

// Len - количество живых стримов.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Each обходит живые стримы в порядке возрастания id. Снимок делается под
// локом, обход - без: коллбек вправе закрывать стримы.
func (s *Store) Each(fn func(*Stream)) {
	s.mu.Lock()
	list := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		list = append(list, st)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, st := range list {
		fn(st)
	}
}

// SetPeerInitialWindow применяет SETTINGS_INITIAL_WINDOW_SIZE пира: новые
// стримы стартуют с объявленным окном, живым окна сдвигаются на дельту.
// Дельта применяется под локом, чтобы открывающийся параллельно стрим не
// получил ее дважды или ни разу.
func (s *Store) SetPeerInitialWindow(v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int32(v) - int32(s.peerInitWin)
	s.peerInitWin = v
	if delta == 0 {
		return nil
	}
	for _, st := range s.streams {
		if err := st.FC().AdjustInitial(delta); err != nil {
			return err
		}
	}
	return nil
}

// SetMaxLocal применяет MAX_CONCURRENT_STREAMS пира. Рост лимита будит
// ожидающих в OpenLocal.
func (s *Store) SetMaxLocal(n uint32) {
	s.mu.Lock()
	s.maxLocal = n
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Disable запрещает новые стримы и будит всех ожидающих.
func (s *Store) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.retireQ.Close()
}

func (s *Store) isLocal(id frame.StreamID) bool {
	if s.server {
		return id.ServerInitiated()
	}
	return id.ClientInitiated()
}
