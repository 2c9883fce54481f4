package flowcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/h2mux/consts"
)

func TestWindowAdd(t *testing.T) {
	t.Parallel()

	w, ok := Window(10).Add(5)
	require.True(t, ok)
	assert.Equal(t, Window(15), w)

	w, ok = Window(10).Add(-15)
	require.True(t, ok)
	assert.Equal(t, Window(-5), w)

	// ровно до границы дотянуться можно
	w, ok = Window(0).Add(consts.MaxWindowSize)
	require.True(t, ok)
	assert.Equal(t, Window(consts.MaxWindowSize), w)

	// а за границу - уже переполнение
	_, ok = Window(1).Add(consts.MaxWindowSize)
	assert.False(t, ok)

	_, ok = Window(consts.MaxWindowSize).Add(consts.MaxWindowSize)
	assert.False(t, ok)
}

func TestWaitConsumes(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(10)
	require.True(t, fc.Wait(4))
	assert.Equal(t, int32(6), fc.Available())
	require.True(t, fc.Wait(6))
	assert.Equal(t, int32(0), fc.Available())

	// нулевая отправка окна не требует
	require.True(t, fc.Wait(0))
	assert.Equal(t, int32(0), fc.Available())
}

func TestWaitBlocksUntilUpdate(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(3)
	require.True(t, fc.Wait(3))

	got := make(chan bool)
	go func() {
		got <- fc.Wait(5)
	}()

	// окна нет: отправитель обязан висеть
	select {
	case <-got:
		t.Fatal("Wait returned with empty window")
	case <-time.After(50 * time.Millisecond):
	}

	// частичное пополнение не отпускает
	require.NoError(t, fc.Add(3))
	select {
	case <-got:
		t.Fatal("Wait returned with insufficient window")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, fc.Add(2))
	select {
	case ok := <-got:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after window update")
	}
	assert.Equal(t, int32(0), fc.Available())
}

func TestAddOverflow(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(consts.MaxWindowSize)
	require.ErrorIs(t, fc.Add(1), ErrWindowOverflow)
	// окно не изменилось
	assert.Equal(t, int32(consts.MaxWindowSize), fc.Available())

	fc = NewFlowControl(1)
	require.ErrorIs(t, fc.Add(consts.MaxWindowSize), ErrWindowOverflow)
}

func TestAdjustInitial(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(10)
	require.True(t, fc.Wait(10))

	// пир уменьшил стартовое окно: уже потраченное уводит нас в минус
	require.NoError(t, fc.AdjustInitial(-5))
	assert.Equal(t, int32(-5), fc.Available())

	got := make(chan bool)
	go func() {
		got <- fc.Wait(1)
	}()
	select {
	case <-got:
		t.Fatal("Wait returned with negative window")
	case <-time.After(50 * time.Millisecond):
	}

	// из минуса выбираемся обычными WINDOW_UPDATE
	require.NoError(t, fc.Add(6))
	select {
	case ok := <-got:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after recovery")
	}
	assert.Equal(t, int32(0), fc.Available())
}

func TestAdjustInitialOverflow(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(consts.MaxWindowSize)
	require.ErrorIs(t, fc.AdjustInitial(1), ErrWindowOverflow)
}

func TestDisableWakesWaiters(t *testing.T) {
	t.Parallel()

	fc := NewFlowControl(0)
	got := make(chan bool)
	go func() {
		got <- fc.Wait(1)
	}()

	select {
	case <-got:
		t.Fatal("Wait returned with empty window")
	case <-time.After(50 * time.Millisecond):
	}

	fc.Disable()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Disable")
	}

	// после Disable не ждем даже при ненулевом окне
	fc = NewFlowControl(100)
	fc.Disable()
	assert.False(t, fc.Wait(1))
	assert.False(t, fc.Wait(0))
}

func TestRecvConsumeRefund(t *testing.T) {
	t.Parallel()

	r := NewRecv(100) // порог пополнения - 25
	require.NoError(t, r.Consume(10))
	assert.Equal(t, uint32(0), r.Refund(), "below threshold")
	assert.Equal(t, int32(90), r.Available())

	require.NoError(t, r.Consume(20))
	refund := r.Refund()
	assert.Equal(t, uint32(30), refund)
	assert.Equal(t, int32(100), r.Available())

	// после пополнения копим заново
	assert.Equal(t, uint32(0), r.Refund())
}

func TestRecvOverrun(t *testing.T) {
	t.Parallel()

	r := NewRecv(10)
	require.NoError(t, r.Consume(10))
	require.ErrorIs(t, r.Consume(1), ErrWindowOverrun)
}
