// Package flowcontrol реализует окна отправки и приема.
//
// У соединения и у каждого стрима по паре окон. Окно отправки пополняет
// пир фреймами WINDOW_UPDATE, окно приема пополняем мы по мере
// потребления данных приложением.
package flowcontrol

import (
	"errors"
	"math"
	"sync"

	"github.com/ozontech/h2mux/consts"
)

var (
	// ErrWindowOverflow - окно вышло за пределы 2^31-1 после инкремента.
	ErrWindowOverflow = errors.New("flow-control window overflow")
	// ErrWindowOverrun - пир прислал больше октетов, чем позволяло окно.
	ErrWindowOverrun = errors.New("flow-control window overrun")
)

// Window - окно в октетах. Знаковое: после уменьшения
// SETTINGS_INITIAL_WINDOW_SIZE окно живого стрима законно уходит в минус.
type Window int32

// Add применяет дельту с проверкой границ. Выход за [-2^31, 2^31-1] - это
// ошибка протокола, а не повод заворачивать значение по модулю.
func (w Window) Add(delta int32) (Window, bool) {
	sum := int64(w) + int64(delta)
	if sum > consts.MaxWindowSize || sum < math.MinInt32 {
		return w, false
	}
	return Window(sum), true
}

// FlowControl - окно отправки. Wait вызывают горутины приложения,
// Add и AdjustInitial - горутина чтения соединения.
type FlowControl struct {
	win  Window
	cond *sync.Cond
	ok   bool
}

func NewFlowControl(n uint32) *FlowControl {
	return &FlowControl{
		win:  Window(n),
		cond: sync.NewCond(&sync.Mutex{}),
		ok:   true,
	}
}

// Wait блокируется, пока окно не вместит n октетов, и списывает их.
// ok == false означает, что стрим или соединение больше не отправляет.
func (fc *FlowControl) Wait(n uint32) bool {
	if n == 0 {
		return fc.sendable()
	}

	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()

	for Window(n) > fc.win && fc.ok {
		fc.cond.Wait()
	}
	if !fc.ok {
		return false
	}
	fc.win -= Window(n)
	return true
}

func (fc *FlowControl) sendable() bool {
	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()
	return fc.ok
}

// Add применяет инкремент из WINDOW_UPDATE.
func (fc *FlowControl) Add(n uint32) error {
	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()

	win, ok := fc.win.Add(int32(n))
	if !ok {
		return ErrWindowOverflow
	}
	fc.win = win
	// будим всех: ждуны сами перепроверят, хватает ли им окна
	fc.cond.Broadcast()
	return nil
}

// AdjustInitial применяет дельту SETTINGS_INITIAL_WINDOW_SIZE. Окно может
// стать отрицательным: стрим молчит, пока пир не вернет кредит.
func (fc *FlowControl) AdjustInitial(delta int32) error {
	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()

	win, ok := fc.win.Add(delta)
	if !ok {
		return ErrWindowOverflow
	}
	fc.win = win
	if delta > 0 {
		fc.cond.Broadcast()
	}
	return nil
}

// Available возвращает текущий остаток окна.
func (fc *FlowControl) Available() int32 {
	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()
	return int32(fc.win)
}

// Disable будит всех ожидающих с отказом. Вызывается при сбросе стрима
// и остановке соединения.
func (fc *FlowControl) Disable() {
	fc.cond.L.Lock()
	defer fc.cond.L.Unlock()

	fc.ok = false
	fc.cond.Broadcast()
}

// Recv - учет окна приема. Пополнение пиру отдаем не на каждый фрейм,
// а накопив порог в четверть окна, чтобы не слать WINDOW_UPDATE россыпью.
//
// Все методы зовет одна горутина чтения, блокировка не нужна.
type Recv struct {
	win       Window
	unacked   uint32
	threshold uint32
}

func NewRecv(n uint32) *Recv {
	return &Recv{
		win:       Window(n),
		threshold: n / 4,
	}
}

// Consume списывает n принятых октетов. Длина фрейма считается целиком,
// вместе с паддингом.
func (r *Recv) Consume(n uint32) error {
	win, ok := r.win.Add(-int32(n))
	if !ok || win < 0 {
		return ErrWindowOverrun
	}
	r.win = win
	r.unacked += n
	return nil
}

// Refund возвращает размер пополнения для отправки пиру, когда потреблено
// больше порога. Ноль - пополнять пока нечего.
func (r *Recv) Refund() uint32 {
	if r.unacked == 0 || r.unacked < r.threshold {
		return 0
	}
	n := r.unacked
	r.unacked = 0
	r.win += Window(n)
	return n
}

// Available возвращает остаток окна приема.
func (r *Recv) Available() int32 {
	return int32(r.win)
}
