package log

import "gopkg.in/natefinch/lumberjack.v2"

// FileAppenderOpt configures the rotated on-disk sink for
// swarm-dump's own operational log — distinct from the console
// handler's decoded-event output, which writes to its own io.Writer.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// defaultMaxBackups caps how many rotated files accumulate when an
// operator leaves max_backups unset — a capture process is expected
// to run unattended for days, and lumberjack's own zero value means
// "keep every rotation forever".
const defaultMaxBackups = 10

// AddFileAppender attaches a lumberjack-rotated file sink built from
// options.
func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) *MultiWriter {
	maxBackups := options.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	writer := &lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize, // megabytes; lumberjack defaults to 100 when zero
		MaxBackups: maxBackups,
		MaxAge:     options.MaxAge, // days
		Compress:   options.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}
