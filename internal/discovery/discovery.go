// Package discovery advertises the UDP endpoint over mDNS so controller apps
// can find the server on the local network.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/google/uuid"
)

const (
	ServiceType = "_librepad._udp"
	Domain      = "local."
)

type Config struct {
	Enabled   bool          `help:"Advertise the UDP endpoint over mDNS" default:"false" env:"LIBREPAD_DISCOVERY_ENABLED"`
	Interface string        `help:"Network interface to advertise on (empty for all)" env:"LIBREPAD_DISCOVERY_INTERFACE"`
	Instance  string        `help:"Instance name (default LibrePad-<host>-<id>)" env:"LIBREPAD_DISCOVERY_INSTANCE"`
	TTL       time.Duration `help:"Record TTL (0 keeps the library default)" env:"LIBREPAD_DISCOVERY_TTL"`
}

// Info is what gets advertised.
type Info struct {
	Port    int
	Devices []string
}

// TXT builds the TXT record strings for info.
func TXT(info Info) []string {
	return []string{
		"version=1",
		"devices=" + strings.Join(info.Devices, ","),
	}
}

// InstanceName returns "LibrePad-<host>-<first 8 hex digits of id>". Dots in
// the host are replaced so the label stays a single DNS label.
func InstanceName(host string, id uuid.UUID) string {
	host = strings.ReplaceAll(strings.TrimSpace(host), ".", "-")
	if host == "" {
		host = "host"
	}
	return fmt.Sprintf("LibrePad-%s-%s", host, id.String()[:8])
}

type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewAdvertiser(config Config) *Advertiser {
	return &Advertiser{config: config}
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.config.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil, fmt.Errorf("discovery interface %q: %w", a.config.Interface, err)
	}
	return []net.Interface{*iface}, nil
}

func (a *Advertiser) instance() string {
	if a.config.Instance != "" {
		return a.config.Instance
	}
	host, _ := os.Hostname()
	return InstanceName(host, uuid.New())
}

// Advertise registers the service, replacing any earlier registration.
func (a *Advertiser) Advertise(info Info) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	ifaces, err := a.interfaces()
	if err != nil {
		return "", err
	}
	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}
	name := a.instance()
	server, err := zeroconf.Register(name, ServiceType, Domain, info.Port, TXT(info), ifaces, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	return name, nil
}

// Update replaces the TXT records of the running registration.
func (a *Advertiser) Update(info Info) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.SetText(TXT(info))
	}
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
