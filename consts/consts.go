package consts

import (
	"math"
	"time"
)

const (
	RecieveBufferSize = 2048
	SendBatchTimeout  = time.Millisecond

	// ChunksBufferSize определяет сколько чанков копится перед вызовом writev.
	ChunksBufferSize = 64

	// ControlQueueSize - очередь контрольных фреймов перед писателем.
	// Контрольные фреймы обгоняют обычную очередь записи.
	ControlQueueSize = 64

	// WriteQueueSize - очередь готовых фреймов перед писателем.
	WriteQueueSize = 256

	// WriteBufferSize - стартовая емкость пулованного буфера сборки фрейма.
	WriteBufferSize = 4096

	DefaultInitialWindowSize = 65_535
	DefaultMaxFrameSize      = 16384 // DefaultMaxFrameSize - максимальная длина пейлоада фрейма в grpc. У http2 ограничение больше.
	DefaultMaxHeaderListSize = math.MaxUint32
	DefaultHeaderTableSize   = 4096

	// DefaultMaxConcurrentStreams ограничивает количество стримов,
	// одновременно открытых пиром.
	DefaultMaxConcurrentStreams = 256

	// MaxWindowSize ограничен 31 битом: старший бит зарезервирован
	// протоколом и всегда обнуляется.
	MaxWindowSize = 1<<31 - 1

	// MaxFrameSizeUpperBound - верхняя граница SETTINGS_MAX_FRAME_SIZE.
	MaxFrameSizeUpperBound = 1<<24 - 1

	DefaultIdleTimeout = 11 * time.Second
	DefaultPingTimeout = 5 * time.Second
	HandshakeTimeout   = 5 * time.Second

	// ClosedStreamGracePeriod - сколько помним id закрытого стрима, чтобы
	// отличать опоздавшие фреймы от фреймов по несуществующему стриму.
	ClosedStreamGracePeriod = time.Second

	// HeaderNameCacheSize - размер кеша интернирования имен хедеров.
	HeaderNameCacheSize = 512
)
