package mux

import (
	"time"

	"github.com/ozontech/h2mux/consts"
	"github.com/ozontech/h2mux/framelog"
	"github.com/ozontech/h2mux/stats"
)

// Config - настройки соединения. Нулевые поля заменяются значениями по
// умолчанию, отправная точка - DefaultConfig.
type Config struct {
	// MaxConcurrentStreams ограничивает количество стримов, одновременно
	// открытых пиром. Стримы сверх лимита отклоняются кодом REFUSED_STREAM.
	MaxConcurrentStreams uint32
	// InitialWindowSize - окно приема каждого стрима.
	InitialWindowSize uint32
	// MaxFrameSize - максимальный пейлоад принимаемого фрейма.
	MaxFrameSize uint32
	// HeaderTableSize - размер динамической таблицы hpack для входящих блоков.
	HeaderTableSize uint32
	// ConnWindow - окно приема соединения. Добирается до заявленного
	// фреймом WINDOW_UPDATE сразу после рукопожатия.
	ConnWindow uint32

	// IdleTimeout - максимум тишины на чтении, после которого соединение
	// закрывается. Ноль после DefaultConfig - без ограничения.
	IdleTimeout time.Duration
	// PingPeriod - период keepalive-пингов. Ноль - пинги выключены.
	PingPeriod time.Duration
	// PingTimeout - сколько ждем ack keepalive-пинга.
	PingTimeout time.Duration
	// GracePeriod - сколько помним id закрытого стрима, чтобы правильно
	// классифицировать опоздавшие по нему фреймы.
	GracePeriod time.Duration

	// DisableSendBatching выключает накопление фреймов перед writev:
	// каждый фрейм уходит в сокет сразу. Меньше задержка, больше сисколов.
	DisableSendBatching bool

	// Stats - счетчики соединения. Общий инстанс суммирует несколько
	// соединений; nil - у соединения будут свои собственные.
	Stats *stats.Stats
	// FrameLog - трассировка фреймов; nil - выключена.
	FrameLog *framelog.Writer
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: consts.DefaultMaxConcurrentStreams,
		InitialWindowSize:    consts.DefaultInitialWindowSize,
		MaxFrameSize:         consts.DefaultMaxFrameSize,
		HeaderTableSize:      consts.DefaultHeaderTableSize,
		ConnWindow:           consts.DefaultInitialWindowSize,
		IdleTimeout:          consts.DefaultIdleTimeout,
		PingTimeout:          consts.DefaultPingTimeout,
		GracePeriod:          consts.ClosedStreamGracePeriod,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = consts.DefaultInitialWindowSize
	}
	if c.MaxFrameSize < consts.DefaultMaxFrameSize {
		// протокол запрещает объявлять лимит меньше 16384
		c.MaxFrameSize = consts.DefaultMaxFrameSize
	}
	if c.MaxFrameSize > consts.MaxFrameSizeUpperBound {
		c.MaxFrameSize = consts.MaxFrameSizeUpperBound
	}
	if c.HeaderTableSize == 0 {
		c.HeaderTableSize = consts.DefaultHeaderTableSize
	}
	if c.ConnWindow < consts.DefaultInitialWindowSize {
		// стартовое окно соединения фиксировано протоколом, сузить его нельзя
		c.ConnWindow = consts.DefaultInitialWindowSize
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = consts.DefaultPingTimeout
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = consts.ClosedStreamGracePeriod
	}
	return c
}
