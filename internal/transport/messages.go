package transport

import (
	"encoding/base64"
	"encoding/json"
)

// Message types on the duplex channel.
const (
	TypeFrame       = "frame"
	TypeFocusStatus = "focus_status"
	// TypeStatus is the legacy spelling of focus_status; some service
	// builds still send it.
	TypeStatus = "status"
	TypeError  = "error"
)

// wireMessage is the JSON envelope exchanged with the classification
// service.
type wireMessage struct {
	Type   string `json:"type"`
	Frame  string `json:"frame,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// encodeFrame builds the outbound frame message for an encoded image.
func encodeFrame(payload []byte) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:  TypeFrame,
		Frame: base64.StdEncoding.EncodeToString(payload),
	})
}

// dispatch routes one inbound message to the handler. Unknown message
// types are ignored; both the focus_status and status spellings carry a
// classification.
func dispatch(h Handler, data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch {
	case msg.Type == TypeError || (msg.Type == "" && msg.Error != ""):
		h.OnServiceError(msg.Error)
	case msg.Type == TypeFocusStatus || msg.Type == TypeStatus || (msg.Type == "" && msg.Status != ""):
		if msg.Status != "" {
			h.OnClassification(msg.Status)
		}
	}
}
