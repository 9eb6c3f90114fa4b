// Package kafka implements the per-test Kafka producer and consumer
// groups (spec.md §4.7, §4.8): one supervisor and one streaming worker
// per topic, correlation-keyed request/reply semantics over franz-go.
package kafka

import "fmt"

// Role is which side of a topic a TestExecutionActor's children own it
// on.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// EventFilter is applied on the consumer side: records whose
// (Type, PayloadVersion) don't match any configured filter are dropped
// before they ever reach the correlation map.
type EventFilter struct {
	Type           string
	PayloadVersion string
}

// TopicDirective declares one topic this test interacts with.
type TopicDirective struct {
	Topic     string
	Role      Role
	Principal string
	Filters   []EventFilter
}

func (t TopicDirective) TopicName() string { return t.Topic }
func (t TopicDirective) TopicRole() string { return string(t.Role) }

// SecurityProtocol enumerates the Kafka security protocols this service
// can configure a franz-go client for.
type SecurityProtocol string

const (
	ProtocolPlaintext SecurityProtocol = "PLAINTEXT"
	ProtocolSSL       SecurityProtocol = "SSL"
	ProtocolSASLPlain SecurityProtocol = "SASL_PLAINTEXT"
	ProtocolSASLSSL   SecurityProtocol = "SASL_SSL"
)

// SecurityDirective carries the credentials needed to talk to Kafka for
// one topic. It is confidential: no field of this struct may ever reach
// a log record or error message. String/GoString are overridden so that
// even an accidental %v/%+v renders a fixed marker instead of the real
// fields. This is the only redaction layer: pkg/log's sink does not
// scrub directive field values.
type SecurityDirective struct {
	Topic            string
	Role             Role
	SecurityProtocol SecurityProtocol
	JAASConfig       string
	KeystoreMaterial []byte
	TruststoreMaterial []byte
}

func (s SecurityDirective) SecurityTopic() string { return s.Topic }

// String implements fmt.Stringer. Deliberately does not include
// JAASConfig or keystore/truststore material.
func (s SecurityDirective) String() string {
	return fmt.Sprintf("SecurityDirective{topic=%s role=%s protocol=%s <redacted>}", s.Topic, s.Role, s.SecurityProtocol)
}

// GoString implements fmt.GoStringer, covering %#v formatting too.
func (s SecurityDirective) GoString() string { return s.String() }
