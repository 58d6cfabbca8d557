package server

import (
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig listens on port. The write timeout always leaves room
// for a handler to hit requestTimeout and still write its error envelope.
func DefaultServerConfig(port string, requestTimeout time.Duration) ServerConfig {
	writeTimeout := constants.ServerWriteTimeout
	if floor := requestTimeout + 5*time.Second; writeTimeout < floor {
		writeTimeout = floor
	}
	return ServerConfig{
		Addr:              ":" + port,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		ReadTimeout:       constants.ServerReadTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       constants.ServerIdleTimeout,
	}
}

// NewServer builds the http.Server and routes its internal errors (TLS
// handshakes, hijack failures) to log.
func NewServer(cfg ServerConfig, handler http.Handler, log *logger.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          stdlog.New(errorLogWriter{log: log}, "", 0),
	}
}

type errorLogWriter struct {
	log *logger.Logger
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.log.Warnf("http server: %s", strings.TrimSpace(string(p)))
	return len(p), nil
}
