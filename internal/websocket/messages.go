package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/internal/progress"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeSynthesize MessageType = "synthesize"
	MessageTypeRegenerate MessageType = "regenerate"
	MessageTypeRecombine  MessageType = "recombine"
	MessageTypeAccepted   MessageType = "accepted"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"

	// Progress channel events keep their own type names
	MessageTypeProgress  = MessageType(progress.EventProgress)
	MessageTypeComplete  = MessageType(progress.EventComplete)
	MessageTypeHeartbeat = MessageType(progress.EventHeartbeat)
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
}

// SynthesizeMessage asks for a full voice-over
type SynthesizeMessage struct {
	BaseMessage
	Script            string  `json:"script"`
	ReferenceVoiceURL string  `json:"referenceVoiceUrl,omitempty"`
	Speed             float64 `json:"speed,omitempty"`
}

// RegenerateMessage asks for one segment to be synthesized again
type RegenerateMessage struct {
	BaseMessage
	AssetGroupID      string `json:"assetGroupId"`
	SegmentIndex      int    `json:"segmentIndex"`
	SegmentText       string `json:"segmentText"`
	ReferenceVoiceURL string `json:"referenceVoiceUrl,omitempty"`
}

// RecombineMessage asks for an asset group to be stitched again
type RecombineMessage struct {
	BaseMessage
	AssetGroupID string  `json:"assetGroupId"`
	Speed        float64 `json:"speed,omitempty"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// AcceptedMessage acknowledges a request and names the job tracking it
type AcceptedMessage struct {
	BaseMessage
	JobID string `json:"jobId,omitempty"`
}

// EventMessage carries one progress channel event for a request
type EventMessage struct {
	BaseMessage
	JobID   string                    `json:"jobId,omitempty"`
	Percent float64                   `json:"percent,omitempty"`
	Message string                    `json:"message,omitempty"`
	Result  *entities.VoiceoverResult `json:"result,omitempty"`
}

// ErrorMessage represents a protocol level error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeSynthesize:
		var msg SynthesizeMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid synthesize message: %w", err)
		}
		if strings.TrimSpace(msg.Script) == "" {
			return nil, fmt.Errorf("script is required")
		}
		if msg.Speed < 0 {
			return nil, fmt.Errorf("speed must be positive")
		}
		return &msg, nil

	case MessageTypeRegenerate:
		var msg RegenerateMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid regenerate message: %w", err)
		}
		if err := v.validateRegenerate(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeRecombine:
		var msg RecombineMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid recombine message: %w", err)
		}
		if msg.AssetGroupID == "" {
			return nil, fmt.Errorf("assetGroupId is required")
		}
		if msg.Speed < 0 {
			return nil, fmt.Errorf("speed must be positive")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateRegenerate(msg *RegenerateMessage) error {
	if msg.AssetGroupID == "" {
		return fmt.Errorf("assetGroupId is required")
	}
	if msg.SegmentIndex < 1 {
		return fmt.Errorf("segmentIndex must be at least 1")
	}
	if strings.TrimSpace(msg.SegmentText) == "" {
		return fmt.Errorf("segmentText is required")
	}
	return nil
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(messageID, code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: now(),
			MessageID: messageID,
		},
		Code:    code,
		Message: message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(messageID, data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePong,
			Timestamp: now(),
			MessageID: messageID,
		},
		Data: data,
	}
}

// CreateEventMessage wraps a progress event for the request messageID
func CreateEventMessage(messageID, jobID string, e progress.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageType(e.Type),
			Timestamp: now(),
			MessageID: messageID,
		},
		JobID:   jobID,
		Percent: e.Percent,
		Message: e.Message,
		Result:  e.Result,
	}
}
