// Package decoder turns photometer lines into RawReadings.
//
// Photometers emit one JSON object per line. Single channel devices report
// their count in "freq"; four channel devices use "freq1" to "freq4". The
// decoder requires the frequency fields of the configured channels and
// drops those of the model's other channels. It takes the optional "udp"
// sequence counter and "tstamp" onboard time, and keeps every other field
// verbatim for the publisher.
package decoder

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// Wire field names.
const (
	FieldFreq      = "freq"
	FieldSeq       = "udp"
	FieldTimestamp = "tstamp"
)

// Decoder decodes lines for any model. It holds no per-device state and is
// safe for concurrent use.
type Decoder struct {
	json jsoniter.API
}

// New creates a decoder.
func New() *Decoder {
	return &Decoder{json: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// FreqField returns the wire name of a channel's frequency for model.
func FreqField(model message.Model, channel int) string {
	if model == message.ModelTESSW {
		return FieldFreq
	}
	return FieldFreq + strconv.Itoa(channel)
}

// Decode parses one line. channels lists the configured channel indices;
// the result's Freqs has one entry per channel in the same order. Any
// failure wraps errors.ErrDecode and is classified invalid.
func (d *Decoder) Decode(line []byte, model message.Model, channels []int) (message.RawReading, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return message.RawReading{}, decodeError("empty line")
	}
	if model.Channels() == 0 {
		return message.RawReading{}, decodeError(fmt.Sprintf("unknown model %q", model))
	}
	if len(channels) == 0 || len(channels) > model.Channels() {
		return message.RawReading{}, decodeError(fmt.Sprintf("%d channels configured for %s: %v",
			len(channels), model, errors.ErrChannelMismatch))
	}

	var fields map[string]jsoniter.RawMessage
	if err := d.json.Unmarshal(line, &fields); err != nil {
		return message.RawReading{}, decodeError("not a JSON object: " + err.Error())
	}
	if fields == nil {
		return message.RawReading{}, decodeError("not a JSON object")
	}

	reading := message.RawReading{Freqs: make([]float64, len(channels))}
	for i, ch := range channels {
		name := FreqField(model, ch)
		raw, ok := fields[name]
		if !ok {
			return message.RawReading{}, decodeError(fmt.Sprintf("missing %q: %v", name, errors.ErrChannelMismatch))
		}
		v, err := d.number(raw)
		if err != nil {
			return message.RawReading{}, decodeError(fmt.Sprintf("field %q: %v", name, err))
		}
		reading.Freqs[i] = v
		delete(fields, name)
	}
	// Unconfigured channels of the model are not published.
	for ch := 1; ch <= model.Channels(); ch++ {
		delete(fields, FreqField(model, ch))
	}

	if raw, ok := fields[FieldSeq]; ok {
		v, err := d.number(raw)
		if err != nil || v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return message.RawReading{}, decodeError(fmt.Sprintf("field %q is not an integer", FieldSeq))
		}
		seq := int64(v)
		reading.Seq = &seq
		delete(fields, FieldSeq)
	}

	if raw, ok := fields[FieldTimestamp]; ok {
		var ts string
		if err := d.json.Unmarshal(raw, &ts); err != nil {
			return message.RawReading{}, decodeError(fmt.Sprintf("field %q is not a string", FieldTimestamp))
		}
		reading.Timestamp = ts
		delete(fields, FieldTimestamp)
	}

	if len(fields) > 0 {
		reading.Extra = fields
	}
	return reading, nil
}

func (d *Decoder) number(raw jsoniter.RawMessage) (float64, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, fmt.Errorf("null is not a number")
	}
	var v float64
	if err := d.json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return v, nil
}

func decodeError(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrDecode, reason), "decoder", "Decode", "line decode")
}
