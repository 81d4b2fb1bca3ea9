package events

import (
	"encoding/json"
	"time"

	"github.com/warp/budget-engine/budget"
)

const (
	TypeCycleOpened   = "budget.cycle_opened"
	MessageVersion    = 1
	contentTypeJSON   = "application/json"
	DefaultExchange   = "budgets"
	DefaultRoutingKey = "budget.cycle_opened"
)

// CycleOpenedMessage is the wire form of budget.CycleOpenedEvent.
type CycleOpenedMessage struct {
	Type      string                  `json:"type"`
	Version   int                     `json:"version"`
	Event     budget.CycleOpenedEvent `json:"event"`
	Timestamp time.Time               `json:"timestamp"`
}

func NewCycleOpenedMessage(e budget.CycleOpenedEvent) *CycleOpenedMessage {
	return &CycleOpenedMessage{
		Type:      TypeCycleOpened,
		Version:   MessageVersion,
		Event:     e,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CycleOpenedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CycleOpenedMessageFromJSON decodes a message published by Publisher.
func CycleOpenedMessageFromJSON(data []byte) (*CycleOpenedMessage, error) {
	var msg CycleOpenedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
