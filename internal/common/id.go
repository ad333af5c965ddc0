package common

import (
	"github.com/google/uuid"
)

// NewSubscriberID generates a unique stream-subscriber ID with the "sub_" prefix
// Format: sub_<uuid>
func NewSubscriberID() string {
	return "sub_" + uuid.New().String()
}

// NewRequestID generates a unique client request ID with the "req_" prefix
// Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}
