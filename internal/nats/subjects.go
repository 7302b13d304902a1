package nats

import (
	"encoding/json"
)

// Control-plane subjects served by the host. Request data is the topic name,
// except for SubjectEndpoint which takes no data.
const (
	SubjectPrefix     = "racewire.host"
	SubjectEndpoint   = SubjectPrefix + ".endpoint"
	SubjectRegister   = SubjectPrefix + ".register"
	SubjectUnregister = SubjectPrefix + ".unregister"
	SubjectCurrent    = SubjectPrefix + ".current"
)

// Reply headers.
const (
	// HeaderError carries a host-side failure message.
	HeaderError = "Racewire-Error"
	// HeaderStatus is set to StatusNoValue when a current-value request has nothing to return.
	HeaderStatus  = "Racewire-Status"
	StatusNoValue = "no-value"
)

// EndpointMessage is the reply to SubjectEndpoint.
type EndpointMessage struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Marshal serializes the message to JSON.
func (m EndpointMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalEndpoint deserializes an EndpointMessage from JSON.
func UnmarshalEndpoint(data []byte) (EndpointMessage, error) {
	var m EndpointMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
