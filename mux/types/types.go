// Package types содержит контракты между мультиплексором и кодом приложения.
package types

import (
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/ozontech/h2mux/frame"
)

// FlowControl - окно отправки стрима или соединения. Исчерпанное окно
// блокирует отправителя до WINDOW_UPDATE от пира.
type FlowControl interface {
	// Wait ждет права отправить n октетов и списывает их из окна.
	// ok == false означает, что отправлять больше нельзя.
	Wait(n uint32) (ok bool)
	// Add применяет инкремент WINDOW_UPDATE. Переполнение 2^31-1 - ошибка.
	Add(n uint32) error
	// AdjustInitial применяет дельту SETTINGS_INITIAL_WINDOW_SIZE.
	// Окно при этом может уйти в минус, это законно.
	AdjustInitial(delta int32) error
	// Available возвращает текущий остаток окна.
	Available() int32
	// Disable будит всех ожидающих с ok == false.
	Disable()
}

// StreamReceiver принимает события одного стрима по мере разбора входящих
// фреймов. Вызовы приходят из горутины чтения соединения: долгая работа
// внутри колбека тормозит все соединение целиком.
type StreamReceiver interface {
	// OnHeader вызывается на каждое поле блока хедеров.
	OnHeader(name, value string)
	// OnHeadersEnd вызывается после последнего поля блока.
	OnHeadersEnd(endStream bool)
	// OnData отдает очередной кусок тела. chunk заимствован: после
	// возврата из вызова память будет переиспользована.
	OnData(chunk []byte, endStream bool)
	// OnReset - стрим сброшен через RST_STREAM, нашим решением или пира.
	OnReset(code http2.ErrCode)
	// OnError - соединение умерло или пир отказался обрабатывать стрим.
	OnError(err error)
}

// StreamWriter - исходящая половина стрима.
type StreamWriter interface {
	SendHeaders(id frame.StreamID, fields []hpack.HeaderField, endStream bool) error
	SendData(id frame.StreamID, p []byte, endStream bool) error
	SendTrailers(id frame.StreamID, fields []hpack.HeaderField) error
	ResetStream(id frame.StreamID, code http2.ErrCode) error
}

// Handler принимает стримы, открытые пиром. Возврат nil отклоняет стрим
// с кодом REFUSED_STREAM.
type Handler interface {
	Accept(w StreamWriter, id frame.StreamID) StreamReceiver
}
