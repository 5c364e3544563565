package ws

// Error codes carried by error replies.
const (
	CodeInvalidJSON    = "invalid_json"
	CodeInvalidMessage = "invalid_message"
)

// DefaultDeviceType is connected when a connect event names no device.
const DefaultDeviceType = "standard"

// Event is one inbound client message. Absent fields stay nil.
type Event struct {
	Event   string   `json:"event"`
	Device  *string  `json:"device,omitempty"`
	Name    *string  `json:"name,omitempty"`
	Pressed *bool    `json:"pressed,omitempty"`
	Value   *float64 `json:"value,omitempty"`
}

// Reply is sent for every handled event.
type Reply struct {
	Type      string `json:"type"`
	Connected string `json:"connected,omitempty"`
	Name      string `json:"name,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Welcome is the first message on every connection.
type Welcome struct {
	Type    string                    `json:"type"`
	Devices []string                  `json:"devices"`
	Schema  map[string]map[string]any `json:"schema"`
}

func newWelcome(devices []string) Welcome {
	if devices == nil {
		devices = []string{}
	}
	return Welcome{
		Type:    "welcome",
		Devices: devices,
		Schema: map[string]map[string]any{
			"connect":    {"device": DefaultDeviceType},
			"disconnect": {},
			"rename":     {"name": "My Gamepad"},
			"button":     {"device": DefaultDeviceType, "name": "a", "pressed": true},
			"axis":       {"device": DefaultDeviceType, "name": "lx", "value": 0.25},
			"ping":       {},
		},
	}
}

func okReply() Reply { return Reply{Type: "ok"} }

func errorReply(code, msg string) Reply {
	return Reply{Type: "error", Code: code, Message: msg}
}
