package frame

import (
	"encoding/binary"
	"errors"

	"golang.org/x/net/http2"

	"github.com/ozontech/h2mux/frameheader"
)

const reservedBit = 1 << 31

// ErrIncomplete сообщает, что в буфере еще нет целого фрейма.
var ErrIncomplete = errors.New("incomplete frame")

type Head struct {
	Type     http2.FrameType
	Flags    http2.Flags
	StreamID StreamID
}

// Frame - закрытое множество типов фреймов протокола. Срезы внутри
// распарсенного фрейма указывают в буфер декодера: при удержании дольше
// одного вызова их нужно копировать.
type Frame interface {
	Header() Head
	Append(dst []byte) []byte
}

// Decode разбирает первый целый фрейм буфера и возвращает количество
// потребленных октетов. Если фрейм накоплен не полностью, возвращается
// ErrIncomplete - это не ошибка протокола.
func Decode(b []byte) (Frame, int, error) {
	if len(b) < 9 {
		return nil, 0, ErrIncomplete
	}
	fh := frameheader.FrameHeader(b[:9])
	end := 9 + fh.Length()
	if len(b) < end {
		return nil, 0, ErrIncomplete
	}
	f, err := Parse(fh, b[9:end])
	if err != nil {
		return nil, 0, err
	}
	return f, end, nil
}

// Parse разбирает фрейм по заголовку и полному пейлоаду.
func Parse(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	if fh.Length() != len(payload) {
		return nil, ConnError{http2.ErrCodeFrameSize, "payload does not match header length"}
	}

	switch fh.Type() {
	case http2.FrameData:
		return parseData(fh, payload)
	case http2.FrameHeaders:
		return parseHeaders(fh, payload)
	case http2.FramePriority:
		return parsePriority(fh, payload)
	case http2.FrameRSTStream:
		return parseRSTStream(fh, payload)
	case http2.FrameSettings:
		return parseSettings(fh, payload)
	case http2.FramePushPromise:
		return parsePushPromise(fh, payload)
	case http2.FramePing:
		return parsePing(fh, payload)
	case http2.FrameGoAway:
		return parseGoAway(fh, payload)
	case http2.FrameWindowUpdate:
		return parseWindowUpdate(fh, payload)
	case http2.FrameContinuation:
		return parseContinuation(fh, payload)
	default:
		return &UnknownFrame{fh.Type(), fh.Flags(), StreamID(fh.StreamID()), payload}, nil
	}
}

func appendHeader(dst []byte, length int, h Head) []byte {
	var b [9]byte
	frameheader.FrameHeader(b[:]).Fill(length, h.Type, h.Flags, uint32(h.StreamID))
	return append(dst, b[:]...)
}

func appendPadding(dst []byte, n uint8) []byte {
	for i := uint8(0); i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// cutPadding отрезает Pad Length и сами октеты паддинга.
func cutPadding(fh frameheader.FrameHeader, payload []byte, padded http2.Flags) ([]byte, uint8, error) {
	if !fh.Flags().Has(padded) {
		return payload, 0, nil
	}
	if len(payload) == 0 {
		return nil, 0, ConnError{http2.ErrCodeFrameSize, "padded frame without pad length"}
	}
	padLength := payload[0]
	payload = payload[1:]
	if int(padLength) > len(payload) {
		return nil, 0, ConnError{http2.ErrCodeProtocol, "padding exceeds payload"}
	}
	return payload[:len(payload)-int(padLength)], padLength, nil
}

type DataFrame struct {
	StreamID  StreamID
	Data      []byte
	EndStream bool
	PadLength uint8
}

func parseData(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "DATA on stream 0"}
	}
	data, padLength, err := cutPadding(fh, payload, http2.FlagDataPadded)
	if err != nil {
		return nil, err
	}
	return &DataFrame{
		StreamID:  id,
		Data:      data,
		EndStream: fh.Flags().Has(http2.FlagDataEndStream),
		PadLength: padLength,
	}, nil
}

func (f *DataFrame) Header() Head {
	var flags http2.Flags
	if f.EndStream {
		flags |= http2.FlagDataEndStream
	}
	if f.PadLength > 0 {
		flags |= http2.FlagDataPadded
	}
	return Head{http2.FrameData, flags, f.StreamID}
}

func (f *DataFrame) Append(dst []byte) []byte {
	length := len(f.Data)
	if f.PadLength > 0 {
		length += 1 + int(f.PadLength)
	}
	dst = appendHeader(dst, length, f.Header())
	if f.PadLength > 0 {
		dst = append(dst, f.PadLength)
	}
	dst = append(dst, f.Data...)
	return appendPadding(dst, f.PadLength)
}

// Priority - вес и зависимость стрима. Нулевое значение означает
// отсутствие приоритета во фрейме HEADERS.
type Priority struct {
	Dep       StreamID
	Exclusive bool
	Weight    uint8
}

func (p Priority) IsZero() bool { return p == Priority{} }

func parsePriorityPayload(b []byte) Priority {
	dep := binary.BigEndian.Uint32(b)
	return Priority{
		Dep:       StreamID(dep &^ reservedBit),
		Exclusive: dep&reservedBit != 0,
		Weight:    b[4],
	}
}

func (p Priority) append(dst []byte) []byte {
	dep := uint32(p.Dep)
	if p.Exclusive {
		dep |= reservedBit
	}
	dst = append(dst, byte(dep>>24), byte(dep>>16), byte(dep>>8), byte(dep))
	return append(dst, p.Weight)
}

type HeadersFrame struct {
	StreamID      StreamID
	BlockFragment []byte
	EndStream     bool
	EndHeaders    bool
	Priority      Priority
	PadLength     uint8
}

func parseHeaders(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "HEADERS on stream 0"}
	}
	payload, padLength, err := cutPadding(fh, payload, http2.FlagHeadersPadded)
	if err != nil {
		return nil, err
	}

	var priority Priority
	if fh.Flags().Has(http2.FlagHeadersPriority) {
		if len(payload) < 5 {
			return nil, ConnError{http2.ErrCodeFrameSize, "HEADERS too short for priority"}
		}
		priority = parsePriorityPayload(payload)
		payload = payload[5:]
	}

	return &HeadersFrame{
		StreamID:      id,
		BlockFragment: payload,
		EndStream:     fh.Flags().Has(http2.FlagHeadersEndStream),
		EndHeaders:    fh.Flags().Has(http2.FlagHeadersEndHeaders),
		Priority:      priority,
		PadLength:     padLength,
	}, nil
}

func (f *HeadersFrame) Header() Head {
	var flags http2.Flags
	if f.EndStream {
		flags |= http2.FlagHeadersEndStream
	}
	if f.EndHeaders {
		flags |= http2.FlagHeadersEndHeaders
	}
	if f.PadLength > 0 {
		flags |= http2.FlagHeadersPadded
	}
	if !f.Priority.IsZero() {
		flags |= http2.FlagHeadersPriority
	}
	return Head{http2.FrameHeaders, flags, f.StreamID}
}

func (f *HeadersFrame) Append(dst []byte) []byte {
	length := len(f.BlockFragment)
	if f.PadLength > 0 {
		length += 1 + int(f.PadLength)
	}
	if !f.Priority.IsZero() {
		length += 5
	}
	dst = appendHeader(dst, length, f.Header())
	if f.PadLength > 0 {
		dst = append(dst, f.PadLength)
	}
	if !f.Priority.IsZero() {
		dst = f.Priority.append(dst)
	}
	dst = append(dst, f.BlockFragment...)
	return appendPadding(dst, f.PadLength)
}

type PriorityFrame struct {
	StreamID StreamID
	Priority Priority
}

func parsePriority(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "PRIORITY on stream 0"}
	}
	if len(payload) != 5 {
		return nil, ConnError{http2.ErrCodeFrameSize, "PRIORITY payload must be 5 octets"}
	}
	return &PriorityFrame{id, parsePriorityPayload(payload)}, nil
}

func (f *PriorityFrame) Header() Head {
	return Head{http2.FramePriority, 0, f.StreamID}
}

func (f *PriorityFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, 5, f.Header())
	return f.Priority.append(dst)
}

type RSTStreamFrame struct {
	StreamID StreamID
	Code     http2.ErrCode
}

func parseRSTStream(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "RST_STREAM on stream 0"}
	}
	if len(payload) != 4 {
		return nil, ConnError{http2.ErrCodeFrameSize, "RST_STREAM payload must be 4 octets"}
	}
	return &RSTStreamFrame{id, http2.ErrCode(binary.BigEndian.Uint32(payload))}, nil
}

func (f *RSTStreamFrame) Header() Head {
	return Head{http2.FrameRSTStream, 0, f.StreamID}
}

func (f *RSTStreamFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, 4, f.Header())
	code := uint32(f.Code)
	return append(dst, byte(code>>24), byte(code>>16), byte(code>>8), byte(code))
}

type SettingsFrame struct {
	Ack      bool
	Settings Settings
}

func parseSettings(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID() != 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "SETTINGS on non-zero stream"}
	}
	if fh.Flags().Has(http2.FlagSettingsAck) {
		if len(payload) != 0 {
			return nil, ConnError{http2.ErrCodeFrameSize, "SETTINGS ack with payload"}
		}
		return &SettingsFrame{Ack: true}, nil
	}
	if len(payload)%6 != 0 {
		return nil, ConnError{http2.ErrCodeFrameSize, "SETTINGS payload not a multiple of 6"}
	}
	return &SettingsFrame{Settings: parseSettingsPayload(payload)}, nil
}

func (f *SettingsFrame) Header() Head {
	var flags http2.Flags
	if f.Ack {
		flags |= http2.FlagSettingsAck
	}
	return Head{http2.FrameSettings, flags, 0}
}

func (f *SettingsFrame) Append(dst []byte) []byte {
	if f.Ack {
		return appendHeader(dst, 0, f.Header())
	}
	dst = appendHeader(dst, 6*len(f.Settings), f.Header())
	return f.Settings.Append(dst)
}

type PushPromiseFrame struct {
	StreamID      StreamID
	PromiseID     StreamID
	BlockFragment []byte
	EndHeaders    bool
	PadLength     uint8
}

func parsePushPromise(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "PUSH_PROMISE on stream 0"}
	}
	payload, padLength, err := cutPadding(fh, payload, http2.FlagPushPromisePadded)
	if err != nil {
		return nil, err
	}
	if len(payload) < 4 {
		return nil, ConnError{http2.ErrCodeFrameSize, "PUSH_PROMISE too short"}
	}
	return &PushPromiseFrame{
		StreamID:      id,
		PromiseID:     StreamID(binary.BigEndian.Uint32(payload) &^ reservedBit),
		BlockFragment: payload[4:],
		EndHeaders:    fh.Flags().Has(http2.FlagPushPromiseEndHeaders),
		PadLength:     padLength,
	}, nil
}

func (f *PushPromiseFrame) Header() Head {
	var flags http2.Flags
	if f.EndHeaders {
		flags |= http2.FlagPushPromiseEndHeaders
	}
	if f.PadLength > 0 {
		flags |= http2.FlagPushPromisePadded
	}
	return Head{http2.FramePushPromise, flags, f.StreamID}
}

func (f *PushPromiseFrame) Append(dst []byte) []byte {
	length := 4 + len(f.BlockFragment)
	if f.PadLength > 0 {
		length += 1 + int(f.PadLength)
	}
	dst = appendHeader(dst, length, f.Header())
	if f.PadLength > 0 {
		dst = append(dst, f.PadLength)
	}
	promiseID := uint32(f.PromiseID) &^ reservedBit
	dst = append(dst, byte(promiseID>>24), byte(promiseID>>16), byte(promiseID>>8), byte(promiseID))
	dst = append(dst, f.BlockFragment...)
	return appendPadding(dst, f.PadLength)
}

type PingFrame struct {
	Ack  bool
	Data [8]byte
}

func parsePing(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID() != 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "PING on non-zero stream"}
	}
	if len(payload) != 8 {
		return nil, ConnError{http2.ErrCodeFrameSize, "PING payload must be 8 octets"}
	}
	f := &PingFrame{Ack: fh.Flags().Has(http2.FlagPingAck)}
	copy(f.Data[:], payload)
	return f, nil
}

func (f *PingFrame) Header() Head {
	var flags http2.Flags
	if f.Ack {
		flags |= http2.FlagPingAck
	}
	return Head{http2.FramePing, flags, 0}
}

func (f *PingFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, 8, f.Header())
	return append(dst, f.Data[:]...)
}

type GoAwayFrame struct {
	LastStreamID StreamID
	Code         http2.ErrCode
	DebugData    []byte
}

func parseGoAway(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID() != 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "GOAWAY on non-zero stream"}
	}
	if len(payload) < 8 {
		return nil, ConnError{http2.ErrCodeFrameSize, "GOAWAY too short"}
	}
	return &GoAwayFrame{
		LastStreamID: StreamID(binary.BigEndian.Uint32(payload) &^ reservedBit),
		Code:         http2.ErrCode(binary.BigEndian.Uint32(payload[4:])),
		DebugData:    payload[8:],
	}, nil
}

func (f *GoAwayFrame) Header() Head {
	return Head{http2.FrameGoAway, 0, 0}
}

func (f *GoAwayFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, 8+len(f.DebugData), f.Header())
	lastID := uint32(f.LastStreamID) &^ reservedBit
	dst = append(dst, byte(lastID>>24), byte(lastID>>16), byte(lastID>>8), byte(lastID))
	code := uint32(f.Code)
	dst = append(dst, byte(code>>24), byte(code>>16), byte(code>>8), byte(code))
	return append(dst, f.DebugData...)
}

type WindowUpdateFrame struct {
	StreamID  StreamID
	Increment uint32
}

func parseWindowUpdate(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return nil, ConnError{http2.ErrCodeFrameSize, "WINDOW_UPDATE payload must be 4 octets"}
	}
	id := StreamID(fh.StreamID())
	increment := binary.BigEndian.Uint32(payload) &^ reservedBit
	if increment == 0 {
		// нулевой инкремент запрещен; скоуп ошибки зависит от адресата
		if id == 0 {
			return nil, ConnError{http2.ErrCodeProtocol, "connection window increment of 0"}
		}
		return nil, StreamError{id, http2.ErrCodeProtocol}
	}
	return &WindowUpdateFrame{id, increment}, nil
}

func (f *WindowUpdateFrame) Header() Head {
	return Head{http2.FrameWindowUpdate, 0, f.StreamID}
}

func (f *WindowUpdateFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, 4, f.Header())
	increment := f.Increment &^ reservedBit
	return append(dst, byte(increment>>24), byte(increment>>16), byte(increment>>8), byte(increment))
}

type ContinuationFrame struct {
	StreamID      StreamID
	BlockFragment []byte
	EndHeaders    bool
}

func parseContinuation(fh frameheader.FrameHeader, payload []byte) (Frame, error) {
	id := StreamID(fh.StreamID())
	if id == 0 {
		return nil, ConnError{http2.ErrCodeProtocol, "CONTINUATION on stream 0"}
	}
	return &ContinuationFrame{
		StreamID:      id,
		BlockFragment: payload,
		EndHeaders:    fh.Flags().Has(http2.FlagContinuationEndHeaders),
	}, nil
}

func (f *ContinuationFrame) Header() Head {
	var flags http2.Flags
	if f.EndHeaders {
		flags |= http2.FlagContinuationEndHeaders
	}
	return Head{http2.FrameContinuation, flags, f.StreamID}
}

func (f *ContinuationFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, len(f.BlockFragment), f.Header())
	return append(dst, f.BlockFragment...)
}

// UnknownFrame - фрейм неизвестного типа. Мультиплексор такие игнорирует,
// но кодек сохраняет их целиком ради прозрачности.
type UnknownFrame struct {
	Type     http2.FrameType
	Flags    http2.Flags
	StreamID StreamID
	Payload  []byte
}

func (f *UnknownFrame) Header() Head {
	return Head{f.Type, f.Flags, f.StreamID}
}

func (f *UnknownFrame) Append(dst []byte) []byte {
	dst = appendHeader(dst, len(f.Payload), f.Header())
	return append(dst, f.Payload...)
}
