package reload

import (
	"encoding/json"

	"github.com/conneroisu/devloop/internal/types"
)

// Commands of the livereload wire protocol.
const (
	CommandHello  = "hello"
	CommandReload = "reload"
	CommandAlert  = "alert"
)

// ProtocolV7 is the livereload protocol spoken by the client script.
const ProtocolV7 = "http://livereload.com/protocols/official-7"

const serverName = "devloop"

// Message is one frame sent to a reload client.
type Message struct {
	Command    string   `json:"command"`
	Path       string   `json:"path,omitempty"`
	LiveCSS    bool     `json:"liveCSS,omitempty"`
	Group      string   `json:"group,omitempty"`
	Message    string   `json:"message,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
	ServerName string   `json:"serverName,omitempty"`
}

// HelloMessage is sent to every client on connect.
func HelloMessage() Message {
	return Message{
		Command:    CommandHello,
		Protocols:  []string{ProtocolV7},
		ServerName: serverName,
	}
}

// ReloadMessage describes a change event. Style patches ask the client to
// swap stylesheets in place; everything else reloads the document.
func ReloadMessage(ev types.ChangeEvent) Message {
	return Message{
		Command: CommandReload,
		Path:    ev.File(),
		LiveCSS: ev.Class == types.StylePatch,
		Group:   ev.Group,
	}
}

// Encode marshals the message.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
