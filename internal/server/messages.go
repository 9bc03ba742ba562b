package server

// Message is the envelope pushed to status WebSocket clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Message types
const (
	TypeStatus    = "status"
	TypeFill      = "fill"
	TypeOperation = "operation"
	TypeAlert     = "alert"
)

// NewStatusMessage wraps a state snapshot
func NewStatusMessage(data interface{}) Message {
	return Message{Type: TypeStatus, Data: data}
}

// NewFillMessage wraps a fill event
func NewFillMessage(data interface{}) Message {
	return Message{Type: TypeFill, Data: data}
}
