package discovery_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/librepad/librepad/internal/discovery"
)

func TestTXT(t *testing.T) {
	assert.Equal(t, []string{"version=1", "devices=mouse,standard"},
		discovery.TXT(discovery.Info{Port: 9775, Devices: []string{"mouse", "standard"}}))
	assert.Equal(t, []string{"version=1", "devices="}, discovery.TXT(discovery.Info{}))
}

func TestInstanceName(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	tests := []struct {
		host string
		want string
	}{
		{"den", "LibrePad-den-1b4e28ba"},
		{"den.lan", "LibrePad-den-lan-1b4e28ba"},
		{"  ", "LibrePad-host-1b4e28ba"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, discovery.InstanceName(tt.host, id))
		})
	}
}

func TestAdvertiseUnknownInterface(t *testing.T) {
	a := discovery.NewAdvertiser(discovery.Config{Interface: "does-not-exist0"})
	_, err := a.Advertise(discovery.Info{Port: 9775})
	assert.Error(t, err)
	a.Stop()
}
