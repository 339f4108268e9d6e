package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"nft-shop/internal/models"
)

type FrameType string

const (
	FramePing           FrameType = "ping"
	FramePong           FrameType = "pong"
	FrameEcho           FrameType = "echo"
	FrameOrderAdmitted  FrameType = "order_admitted"
	FrameItemUpdated    FrameType = "item_updated"
	FrameItemDeleted    FrameType = "item_deleted"
	FrameOrderUpdated   FrameType = "order_updated"
	FrameSettingUpdated FrameType = "setting_updated"
)

// Frame is the wire format for every message on the realtime socket.
type Frame struct {
	Type      FrameType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type OrderAdmittedPayload struct {
	Order models.Order `json:"order"`
	Item  models.Item  `json:"item"`
}

type ItemDeletedPayload struct {
	ID string `json:"id"`
}

type EchoPayload struct {
	Message string `json:"message"`
}

func NewFrame(t FrameType, payload any) (Frame, error) {
	f := Frame{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	return f, nil
}

func MarshalFrame(t FrameType, payload any) ([]byte, error) {
	f, err := NewFrame(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame without type")
	}
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	return json.Unmarshal(f.Payload, v)
}
