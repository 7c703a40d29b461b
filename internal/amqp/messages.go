package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// RetrainRequest asks the retrain worker for an immediate pass for one user.
type RetrainRequest struct {
	UserID          string    `json:"user_id"`
	ForceUnivariate bool      `json:"force_univariate,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewRetrainRequest(userID, reason string) *RetrainRequest {
	return &RetrainRequest{
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RetrainRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RetrainRequestFromJSON decodes a request and rejects one without a user.
func RetrainRequestFromJSON(data []byte) (*RetrainRequest, error) {
	var msg RetrainRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("retrain request without user_id")
	}
	return &msg, nil
}
