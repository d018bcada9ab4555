// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// MessageKind tags an envelope crossing the worker boundary.
type MessageKind string

const (
	KindPing    MessageKind = "PING"
	KindConvert MessageKind = "CONVERT"
	KindPong    MessageKind = "PONG"
	KindStatus  MessageKind = "STATUS"
)

// Inbound is a message from the controller to the worker.
type Inbound struct {
	Kind    MessageKind        `json:"kind"`
	Request *ConversionRequest `json:"request,omitempty"`
}

// Outbound is a message from the worker to the controller.
type Outbound struct {
	Kind   MessageKind       `json:"kind"`
	Status *ConversionStatus `json:"status,omitempty"`
}

// PingMessage returns a liveness probe.
func PingMessage() Inbound {
	return Inbound{Kind: KindPing}
}

// ConvertMessage wraps req for posting to the worker.
func ConvertMessage(req ConversionRequest) Inbound {
	return Inbound{Kind: KindConvert, Request: &req}
}

// PongMessage answers a PingMessage.
func PongMessage() Outbound {
	return Outbound{Kind: KindPong}
}

// StatusMessage wraps st for posting back to the controller.
func StatusMessage(st ConversionStatus) Outbound {
	return Outbound{Kind: KindStatus, Status: &st}
}
