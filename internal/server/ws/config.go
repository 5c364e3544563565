package ws

import "time"

type Config struct {
	ReadLimit    int64         `help:"Maximum size of one WebSocket message in bytes" default:"131072" env:"LIBREPAD_WS_READ_LIMIT"`
	PingInterval time.Duration `help:"Interval between keepalive pings" default:"20s" env:"LIBREPAD_WS_PING_INTERVAL"`
	PongTimeout  time.Duration `help:"Time allowed for a pong before the connection is dropped" default:"10s" env:"LIBREPAD_WS_PONG_TIMEOUT"`
	WriteTimeout time.Duration `help:"Deadline for a single write" default:"5s" env:"LIBREPAD_WS_WRITE_TIMEOUT"`
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 128 * 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}
