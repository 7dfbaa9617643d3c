package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openbft/consensuswire/types"
)

// Frame is the wire unit multiplexing consensus channels over one socket
// pair. Channel decides which registered handler consumes the frame, so
// direct-send traffic can never be interpreted as an RPC reply or vice
// versa. RequestID and Reply are only set on RPC-channel frames.
type Frame struct {
	Channel   string          `json:"channel"`
	From      string          `json:"from"`
	RequestID string          `json:"request_id,omitempty"`
	Reply     bool            `json:"reply,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Envelope decodes the frame payload into a consensus envelope.
func (f *Frame) Envelope() (types.ConsensusMsg, error) {
	var msg types.ConsensusMsg
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return types.ConsensusMsg{}, fmt.Errorf("failed to decode frame payload: %w", err)
	}
	return msg, nil
}

// encodeFrame serializes a frame for the wire.
func encodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// decodeFrame parses a frame received from the wire.
func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return &f, nil
}
