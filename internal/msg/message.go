package msg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HeaderEventID carries the outbox event id on every produced record
const HeaderEventID = "event_id"

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrBadPayload   = errors.New("bad payload")
)

// Message is an encoded fill or run summary bound for its topic. Key is the
// run id so one run stays on one partition.
type Message struct {
	Topic   string
	Key     string
	EventID string
	Value   []byte
}

// EncodeFill encodes f for TopicFills
func EncodeFill(f FillMsg) (Message, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal fill %s: %w", f.EventID, err)
	}
	return Message{Topic: TopicFills, Key: f.RunID, EventID: f.EventID, Value: b}, nil
}

// EncodeSummary encodes s for TopicSummaries
func EncodeSummary(s RunSummaryMsg) (Message, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal summary %s: %w", s.EventID, err)
	}
	return Message{Topic: TopicSummaries, Key: s.RunID, EventID: s.EventID, Value: b}, nil
}

// Delivery is a consumed message decoded by topic. Exactly one of Fill and
// Summary is set.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Fill      *FillMsg
	Summary   *RunSummaryMsg
}

// EventID is the outbox id of the delivered message
func (d Delivery) EventID() string {
	switch {
	case d.Fill != nil:
		return d.Fill.EventID
	case d.Summary != nil:
		return d.Summary.EventID
	}
	return ""
}

// RunID is the run the delivered message belongs to
func (d Delivery) RunID() string {
	switch {
	case d.Fill != nil:
		return d.Fill.RunID
	case d.Summary != nil:
		return d.Summary.RunID
	}
	return ""
}

// Decode parses value as the message type carried on topic. Payloads without
// an event id or run id are rejected since the ledger cannot place them.
func Decode(topic string, value []byte) (Delivery, error) {
	d := Delivery{Topic: topic}
	switch topic {
	case TopicFills:
		var f FillMsg
		if err := json.Unmarshal(value, &f); err != nil {
			return Delivery{}, fmt.Errorf("%w: fill: %v", ErrBadPayload, err)
		}
		d.Fill = &f
	case TopicSummaries:
		var s RunSummaryMsg
		if err := json.Unmarshal(value, &s); err != nil {
			return Delivery{}, fmt.Errorf("%w: summary: %v", ErrBadPayload, err)
		}
		d.Summary = &s
	default:
		return Delivery{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if d.EventID() == "" || d.RunID() == "" {
		return Delivery{}, fmt.Errorf("%w: %s message without event or run id", ErrBadPayload, topic)
	}
	return d, nil
}
