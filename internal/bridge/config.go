package bridge

import (
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"time"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server
	// handlers hold the POST JSON api, streams hold GET endpoints that are never wrapped in a timeout
	handlers      map[string]http.Handler
	streams       map[string]http.Handler
	afterShutdown []func()
}

// Config defines fields of the listening address
type Config struct {
	Host        string
	Port        uint16
	ReadTimeout time.Duration
}

// Addr returns host:port
func (c Config) Addr() string {
	return c.Host + ":" + strconv.FormatUint(uint64(c.Port), 10)
}

// WithConfig sets address and read timeout of http.Server
func WithConfig(cfg Config) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Addr()
		if cfg.ReadTimeout > 0 {
			c.httpServer.ReadTimeout = cfg.ReadTimeout
		}
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler wraps each api handler in http.TimeoutHandler with provided duration and message
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}

// registerHandlers registers every api and stream handler on a new http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.handlers {
			mux.Handle(pattern, h)
		}
		for pattern, h := range c.streams {
			mux.Handle(pattern, h)
		}
		c.httpServer.Handler = mux
	})
}

// applyEnforcePOSTJSON wraps each api handler with enforcePOSTJSON middleware
func applyEnforcePOSTJSON() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = enforcePOSTJSON(h)
		}
	})
}

// applyLog wraps each handler with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = log(h, logger)
		}
		for pattern, h := range c.streams {
			c.streams[pattern] = log(h, logger)
		}
	})
}
