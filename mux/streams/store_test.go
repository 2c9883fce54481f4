package streams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frame"
)

const (
	testGrace = 50 * time.Millisecond
	testWin   = 65_535
)

func TestOpenPeerMonotonicity(t *testing.T) {
	t.Parallel()

	s := NewStore(true, 0, testWin, testGrace)
	_, err := s.OpenPeer(5)
	require.NoError(t, err)

	// id обязаны строго расти
	var ce frame.ConnError
	_, err = s.OpenPeer(3)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http2.ErrCodeProtocol, ce.Code)

	_, err = s.OpenPeer(5)
	require.ErrorAs(t, err, &ce)

	_, err = s.OpenPeer(7)
	require.NoError(t, err)
	assert.Equal(t, frame.StreamID(7), s.HighPeer())
}

func TestOpenPeerLimit(t *testing.T) {
	t.Parallel()

	s := NewStore(true, 1, testWin, testGrace)
	_, err := s.OpenPeer(1)
	require.NoError(t, err)

	// сверх лимита - отказ ровно этому стриму
	_, err = s.OpenPeer(3)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, frame.StreamID(3), se.StreamID)
	assert.Equal(t, http2.ErrCodeRefusedStream, se.Code)

	// отклоненный id все равно использован
	assert.True(t, s.Used(3))

	// слот освободился - живем дальше
	s.Close(1)
	_, err = s.OpenPeer(5)
	require.NoError(t, err)
}

func TestOpenLocalAllocation(t *testing.T) {
	t.Parallel()

	client := NewStore(false, 0, testWin, testGrace)
	for _, want := range []frame.StreamID{1, 3, 5} {
		st, err := client.OpenLocal()
		require.NoError(t, err)
		assert.Equal(t, want, st.ID())
	}

	server := NewStore(true, 0, testWin, testGrace)
	for _, want := range []frame.StreamID{2, 4, 6} {
		st, err := server.OpenLocal()
		require.NoError(t, err)
		assert.Equal(t, want, st.ID())
	}
}

func TestOpenLocalBlocksOnPeerLimit(t *testing.T) {
	t.Parallel()

	s := NewStore(false, 0, testWin, testGrace)
	s.SetMaxLocal(1)

	first, err := s.OpenLocal()
	require.NoError(t, err)

	got := make(chan frame.StreamID)
	go func() {
		st, err := s.OpenLocal()
		if err != nil {
			close(got)
			return
		}
		got <- st.ID()
	}()

	select {
	case <-got:
		t.Fatal("OpenLocal returned over the concurrency limit")
	case <-time.After(50 * time.Millisecond):
	}

	s.Close(first.ID())
	select {
	case id := <-got:
		assert.Equal(t, frame.StreamID(3), id)
	case <-time.After(time.Second):
		t.Fatal("OpenLocal did not return after a slot freed up")
	}
}

func TestSetMaxLocalUnblocks(t *testing.T) {
	t.Parallel()

	s := NewStore(false, 0, testWin, testGrace)
	s.SetMaxLocal(1)
	_, err := s.OpenLocal()
	require.NoError(t, err)

	got := make(chan struct{})
	go func() {
		_, err := s.OpenLocal()
		assert.NoError(t, err)
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("OpenLocal returned over the concurrency limit")
	case <-time.After(50 * time.Millisecond):
	}

	// пир поднял лимит - ждуны отпускаются без закрытий
	s.SetMaxLocal(2)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("OpenLocal did not return after limit raise")
	}
}

func TestSetPeerInitialWindow(t *testing.T) {
	t.Parallel()

	s := NewStore(false, 0, testWin, testGrace)
	st, err := s.OpenLocal()
	require.NoError(t, err)
	require.Equal(t, int32(65_535), st.FC().Available())

	// живые стримы двигаются на дельту
	require.NoError(t, s.SetPeerInitialWindow(100))
	assert.Equal(t, int32(100), st.FC().Available())

	// новые начинают сразу с нового окна
	st2, err := s.OpenLocal()
	require.NoError(t, err)
	assert.Equal(t, int32(100), st2.FC().Available())

	// дельта бывает и отрицательной, вплоть до минуса на окне
	require.True(t, st.FC().Wait(100))
	require.NoError(t, s.SetPeerInitialWindow(40))
	assert.Equal(t, int32(-60), st.FC().Available())
}

func TestRetention(t *testing.T) {
	t.Parallel()

	s := NewStore(true, 0, testWin, testGrace)
	_, err := s.OpenPeer(1)
	require.NoError(t, err)
	require.NotNil(t, s.Get(1))

	assert.True(t, s.Close(1))
	assert.Nil(t, s.Get(1))
	assert.True(t, s.RecentlyClosed(1))
	assert.True(t, s.Used(1))

	// повторное закрытие ничего не ломает
	assert.False(t, s.Close(1))

	s.Forget(1)
	assert.False(t, s.RecentlyClosed(1))
	// id остается использованным навсегда
	assert.True(t, s.Used(1))

	// а этого id никогда не было
	assert.False(t, s.Used(3))
}

func TestNextRetired(t *testing.T) {
	t.Parallel()

	s := NewStore(true, 0, testWin, testGrace)
	_, err := s.OpenPeer(1)
	require.NoError(t, err)

	start := time.Now()
	s.Close(1)
	id, ok := s.NextRetired()
	require.True(t, ok)
	assert.Equal(t, frame.StreamID(1), id)
	assert.GreaterOrEqual(t, time.Since(start), testGrace)

	s.Disable()
	_, ok = s.NextRetired()
	assert.False(t, ok)
}

func TestDisableUnblocksOpenLocal(t *testing.T) {
	t.Parallel()

	s := NewStore(false, 0, testWin, testGrace)
	s.SetMaxLocal(1)
	_, err := s.OpenLocal()
	require.NoError(t, err)

	got := make(chan error)
	go func() {
		_, err := s.OpenLocal()
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Disable()
	select {
	case err := <-got:
		require.ErrorIs(t, err, ErrStoreClosed)
	case <-time.After(time.Second):
		t.Fatal("OpenLocal did not return after Disable")
	}

	// после остановки пир тоже получает отказ
	_, err = s.OpenPeer(9)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http2.ErrCodeRefusedStream, se.Code)
}

func TestEachOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(true, 0, testWin, testGrace)
	for _, id := range []frame.StreamID{1, 3, 5, 7} {
		_, err := s.OpenPeer(id)
		require.NoError(t, err)
	}
	require.Equal(t, 4, s.Len())

	var got []frame.StreamID
	s.Each(func(st *Stream) {
		got = append(got, st.ID())
	})
	assert.Equal(t, []frame.StreamID{1, 3, 5, 7}, got)

	// коллбеку можно закрывать стримы прямо из обхода
	s.Each(func(st *Stream) {
		s.Close(st.ID())
	})
	assert.Equal(t, 0, s.Len())
}
