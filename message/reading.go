package message

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// RawReading is one decoded line from a photometer. Freqs is indexed by
// position in the device's configured channel list. It carries no
// calibration and is never modified after decoding.
type RawReading struct {
	Freqs []float64

	// Seq is the device's own counter ("udp" on the wire), when sent.
	Seq *int64

	// Timestamp is the device's onboard timestamp, when sent.
	Timestamp string

	// Extra holds every field the decoder did not consume, verbatim.
	Extra map[string]jsoniter.RawMessage
}

// SampledReading is a RawReading tagged with the gateway's view of it: which
// device sent it, when it arrived and the per-device sample number the
// sampler assigned.
type SampledReading struct {
	Device    string
	Reading   RawReading
	ArrivedAt time.Time
	Seq       uint64
}

// TimestampLayout is the UTC second-resolution layout used for the gateway
// timestamps in published payloads.
const TimestampLayout = "2006-01-02T15:04:05Z"

// GatewayTimestamp formats the arrival time the way the ingest side expects:
// rounded to the nearest second, in UTC.
func (s SampledReading) GatewayTimestamp() string {
	return s.ArrivedAt.Add(500 * time.Millisecond).UTC().Format(TimestampLayout)
}

// Kind distinguishes the two message types the publisher sends.
type Kind string

// Message kinds.
const (
	KindReading  Kind = "reading"
	KindRegister Kind = "register"
)

// Topic is a broker-neutral topic made of segments. Each session joins the
// segments with its own separator.
type Topic []string

// ParseTopic splits a configured topic on "/" and drops empty segments.
func ParseTopic(s string) Topic {
	var t Topic
	for _, seg := range strings.Split(s, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			t = append(t, seg)
		}
	}
	return t
}

// ReadingTopic derives the topic a device's readings are published to.
func ReadingTopic(root Topic, device string) Topic {
	t := make(Topic, 0, len(root)+2)
	t = append(t, root...)
	return append(t, device, string(KindReading))
}

// Join renders the topic with sep between segments.
func (t Topic) Join(sep string) string {
	return strings.Join(t, sep)
}

// String renders the topic MQTT style.
func (t Topic) String() string {
	return t.Join("/")
}

// BrokerMessage is a serialized message ready for a broker session.
type BrokerMessage struct {
	Topic   Topic
	Payload []byte
	Device  string
	Kind    Kind
	Created time.Time
}
