package udp

// ServerConfig represents the UDP protocol server configuration.
type ServerConfig struct {
	Addr           string `help:"UDP control protocol listen address" default:":9775" env:"LIBREPAD_UDP_ADDR"`
	ReadBufferSize int    `help:"Largest datagram accepted, in bytes; longer datagrams are truncated" default:"2048" env:"LIBREPAD_UDP_READ_BUFFER_SIZE"`
	SocketBuffer   int    `help:"Kernel receive buffer size in bytes; 0 keeps the OS default" default:"0" env:"LIBREPAD_UDP_SOCKET_BUFFER"`
	QueueSize      int    `help:"Datagrams buffered between the socket reader and the dispatch loop" default:"256" env:"LIBREPAD_UDP_QUEUE_SIZE"`
}

func (c *ServerConfig) withDefaults() ServerConfig {
	out := *c
	if out.Addr == "" {
		out.Addr = ":9775"
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = 2048
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	return out
}
