package logger

import (
	"io"
	"os"
	"strings"

	"household-planet/internal/config"

	"github.com/sirupsen/logrus"
)

// Logger оборачивает logrus и служит единым логгером приложения.
type Logger struct {
	*logrus.Logger
}

// New создает логгер по конфигурации: уровень, формат (json|text) и опциональный файл.
func New(cfg *config.LoggerConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	l.SetOutput(os.Stdout)
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.WithError(err).WithField("file", cfg.File).Warn("Failed to open log file, using stdout only")
		} else {
			l.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &Logger{Logger: l}
}

// Discard возвращает логгер без вывода (для тестов и CLI-утилит).
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}
