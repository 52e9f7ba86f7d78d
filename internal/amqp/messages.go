package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"cadence/internal/core"
)

// TransactionChangeMessage announces that a transaction row changed. It only
// carries identifiers; consumers load the row itself from the store.
type TransactionChangeMessage struct {
	UserID        string          `json:"user_id"`
	TransactionID string          `json:"transaction_id"`
	Kind          core.ChangeKind `json:"kind"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewTransactionChangeMessage(userID, transactionID string, kind core.ChangeKind) *TransactionChangeMessage {
	return &TransactionChangeMessage{
		UserID:        userID,
		TransactionID: transactionID,
		Kind:          kind,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *TransactionChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionChangeMessageFromJSON decodes and checks a message body.
func TransactionChangeMessageFromJSON(data []byte) (*TransactionChangeMessage, error) {
	var msg TransactionChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" || msg.TransactionID == "" {
		return nil, fmt.Errorf("message missing user or transaction id")
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	return &msg, nil
}
