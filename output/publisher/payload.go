package publisher

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/c360/photgw/calibration"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/processor/decoder"
)

// Map keys are sorted so a payload is byte-for-byte reproducible.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Payload keys owned by the gateway. A device field with the same name is
// replaced.
const (
	keyName        = "name"
	keyMAC         = "mac"
	keyModel       = "model"
	keyFirmware    = "firmware"
	keySeq         = "seq"
	keyTstamp      = "tstamp"
	keyDeviceTime  = "device_tstamp"
	keyCalibration = "calibration"
	keyPublishedAt = "published_at"
)

// registration is the payload of a register message.
type registration struct {
	Name        string                       `json:"name"`
	MAC         string                       `json:"mac"`
	Model       message.Model                `json:"model"`
	Firmware    string                       `json:"firmware,omitempty"`
	Calibration []message.ChannelCalibration `json:"calibration"`
}

// encodeRegister serializes the identity and calibration of a device.
func encodeRegister(e calibration.Entry) ([]byte, error) {
	b, err := json.Marshal(registration{
		Name:        e.Name,
		MAC:         e.MAC,
		Model:       e.Model,
		Firmware:    e.Firmware,
		Calibration: e.Channels,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "publisher", "encodeRegister", "marshal")
	}
	return b, nil
}

// encodeReading serializes a sampled reading with the device's calibration.
// Fields the decoder did not consume are passed through unchanged.
func encodeReading(r message.SampledReading, e calibration.Entry, publishedAt time.Time) ([]byte, error) {
	freqs := r.Reading.Freqs
	if len(freqs) != e.ChannelCount() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d frequencies for %d calibrated channels", errors.ErrChannelMismatch, len(freqs), e.ChannelCount()),
			"publisher", "encodeReading", "channel check")
	}

	doc := make(map[string]any, len(r.Reading.Extra)+12)
	for k, v := range r.Reading.Extra {
		doc[k] = v
	}
	// A message carries exactly the calibrated channels.
	for ch := 1; ch <= e.Model.Channels(); ch++ {
		delete(doc, decoder.FreqField(e.Model, ch))
	}

	for i, c := range e.Channels {
		doc[decoder.FreqField(e.Model, c.Channel)] = freqs[i]
	}

	doc[keyName] = e.Name
	doc[keyMAC] = e.MAC
	doc[keyModel] = e.Model
	if e.Firmware != "" {
		doc[keyFirmware] = e.Firmware
	}
	if r.Reading.Seq != nil {
		doc[decoder.FieldSeq] = *r.Reading.Seq
	}
	if r.Reading.Timestamp != "" {
		doc[keyDeviceTime] = r.Reading.Timestamp
	}
	doc[keySeq] = r.Seq
	doc[keyTstamp] = r.GatewayTimestamp()
	doc[keyPublishedAt] = publishedAt.UTC().Format(message.TimestampLayout)
	doc[keyCalibration] = e.Channels

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "publisher", "encodeReading", "marshal")
	}
	return b, nil
}
