package transport

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/ehab20011/computer-vision/internal/domain"
)

type recordedEvents struct {
	classifications []string
	serviceErrors   []string
	events          []domain.ConnectionEvent
}

func (r *recordedEvents) OnClassification(status string) {
	r.classifications = append(r.classifications, status)
}

func (r *recordedEvents) OnServiceError(msg string) {
	r.serviceErrors = append(r.serviceErrors, msg)
}

func (r *recordedEvents) OnConnectionEvent(ev domain.ConnectionEvent) {
	r.events = append(r.events, ev)
}

func TestDispatchAcceptsBothStatusSpellings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"focus_status type", `{"type":"focus_status","status":"Focused"}`, "Focused"},
		{"legacy status type", `{"type":"status","status":"Distracted - looking away"}`, "Distracted - looking away"},
		{"bare status field", `{"status":"Focused"}`, "Focused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordedEvents{}
			dispatch(h, []byte(tt.raw))
			if len(h.classifications) != 1 || h.classifications[0] != tt.want {
				t.Errorf("Expected classification %q, got %v", tt.want, h.classifications)
			}
		})
	}
}

func TestDispatchRoutesServiceErrors(t *testing.T) {
	h := &recordedEvents{}
	dispatch(h, []byte(`{"type":"error","error":"no face detected"}`))
	dispatch(h, []byte(`{"error":"blurred frame"}`))

	if len(h.serviceErrors) != 2 {
		t.Fatalf("Expected 2 service errors, got %v", h.serviceErrors)
	}
	if h.serviceErrors[0] != "no face detected" || h.serviceErrors[1] != "blurred frame" {
		t.Errorf("Unexpected service errors: %v", h.serviceErrors)
	}
}

func TestDispatchIgnoresGarbage(t *testing.T) {
	h := &recordedEvents{}
	dispatch(h, []byte(`not json`))
	dispatch(h, []byte(`{"type":"unknown","status":"Focused"}`))
	dispatch(h, []byte(`{}`))

	if len(h.classifications) != 0 || len(h.serviceErrors) != 0 {
		t.Errorf("Expected garbage to be ignored, got %v / %v", h.classifications, h.serviceErrors)
	}
}

func TestEncodeFrameEnvelope(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	data, err := encodeFrame(payload)
	if err != nil {
		t.Fatalf("encodeFrame failed: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Frame message is not valid JSON: %v", err)
	}
	if msg.Type != TypeFrame {
		t.Errorf("Expected type %q, got %q", TypeFrame, msg.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Frame)
	if err != nil {
		t.Fatalf("Frame field is not valid base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("Expected round-tripped payload, got % x", decoded)
	}
}
