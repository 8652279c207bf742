package message

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/photgw/errors"
)

// Model identifies the photometer hardware and with it the payload shape.
type Model string

// Known photometer models.
const (
	ModelTESSW  Model = "tessw"  // single channel
	ModelTESS4C Model = "tess4c" // four channel
)

// Channels returns how many channels the model can report.
func (m Model) Channels() int {
	switch m {
	case ModelTESSW:
		return 1
	case ModelTESS4C:
		return 4
	default:
		return 0
	}
}

// ParseModel accepts the model name case-insensitively.
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	if m.Channels() == 0 {
		return "", errors.Config("message", "model", "unknown model %q", s)
	}
	return m, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(b []byte) error {
	parsed, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Calibration bounds and defaults.
const (
	ZeroPointMin  = 10.0
	ZeroPointMax  = 30.0
	OffsetMin     = 0.0
	OffsetMax     = 1.0
	DefaultFilter = "UV/IR-740"

	DefaultQueueSize = 16
)

var stars4allName = regexp.MustCompile(`^stars\d{1,7}$`)

// ChannelCalibration is the calibration of one measurement channel. It is
// forwarded to the broker unchanged.
type ChannelCalibration struct {
	Channel   int     `yaml:"channel" json:"channel"`
	ZeroPoint float64 `yaml:"zp" json:"zp"`
	Offset    float64 `yaml:"offset" json:"offset"`
	Filter    string  `yaml:"filter" json:"filter"`
}

// DeviceConfig describes one configured photometer. Everything except
// LogLevel is fixed for the life of the process.
type DeviceConfig struct {
	Name        string               `yaml:"name"`
	MAC         string               `yaml:"mac"`
	Endpoint    EndpointSpec         `yaml:"endpoint"`
	Model       Model                `yaml:"model"`
	Period      int                  `yaml:"period"`
	QueueSize   int                  `yaml:"qsize"`
	Calibration []ChannelCalibration `yaml:"calibration"`
	Firmware    string               `yaml:"firmware,omitempty"`
	LogLevel    string               `yaml:"log_level,omitempty"`
}

// NormalizeMAC formats a MAC address as six upper-case hex octets joined
// with colons. Anything that does not have six hex octets is rejected.
func NormalizeMAC(mac string) (string, error) {
	parts := strings.Split(strings.TrimSpace(mac), ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid MAC %q", mac)
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid MAC %q", mac)
		}
		out[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(out, ":"), nil
}

// NormalizeName lower-cases a device name and checks it against the
// starsNNNNNNN naming scheme.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !stars4allName.MatchString(n) {
		return "", fmt.Errorf("name %q is not a legal STARS4ALL name", name)
	}
	return n, nil
}

// Normalize validates the device and fills in defaults in place: name and
// MAC are normalized, an empty filter becomes DefaultFilter and a zero
// queue size becomes DefaultQueueSize. Channels are sorted by index.
func (d *DeviceConfig) Normalize() error {
	field := func(f string) string {
		if d.Name == "" {
			return "devices." + f
		}
		return fmt.Sprintf("devices[%s].%s", d.Name, f)
	}

	name, err := NormalizeName(d.Name)
	if err != nil {
		return errors.Config("message", field("name"), "%v", err)
	}
	d.Name = name

	mac, err := NormalizeMAC(d.MAC)
	if err != nil {
		return errors.Config("message", field("mac"), "%v", err)
	}
	d.MAC = mac

	if err := d.Endpoint.Validate(); err != nil {
		return err
	}
	if d.Model.Channels() == 0 {
		return errors.Config("message", field("model"), "unknown model %q", d.Model)
	}
	if d.Period < 1 {
		return errors.Config("message", field("period"), "period %d must be at least 1 second", d.Period)
	}
	if d.QueueSize < 0 {
		return errors.Config("message", field("qsize"), "queue size %d must not be negative", d.QueueSize)
	}
	if d.QueueSize == 0 {
		d.QueueSize = DefaultQueueSize
	}

	if err := d.normalizeCalibration(field("calibration")); err != nil {
		return err
	}
	return nil
}

func (d *DeviceConfig) normalizeCalibration(field string) error {
	n := len(d.Calibration)
	switch {
	case d.Model == ModelTESSW && n != 1:
		return errors.Config("message", field, "%s needs exactly 1 channel, got %d: %v", d.Model, n, errors.ErrChannelMismatch)
	case n < 1 || n > d.Model.Channels():
		return errors.Config("message", field, "%s needs 1..%d channels, got %d: %v", d.Model, d.Model.Channels(), n, errors.ErrChannelMismatch)
	}

	seen := make(map[int]bool, n)
	for i := range d.Calibration {
		c := &d.Calibration[i]
		if c.Channel == 0 && n == 1 {
			c.Channel = 1
		}
		if c.Channel < 1 || c.Channel > d.Model.Channels() {
			return errors.Config("message", field, "channel %d out of range 1..%d", c.Channel, d.Model.Channels())
		}
		if seen[c.Channel] {
			return errors.Config("message", field, "channel %d listed twice", c.Channel)
		}
		seen[c.Channel] = true

		if math.IsNaN(c.ZeroPoint) || c.ZeroPoint < ZeroPointMin || c.ZeroPoint > ZeroPointMax {
			return errors.Config("message", field, "channel %d zero point %v out of bounds [%v-%v]",
				c.Channel, c.ZeroPoint, ZeroPointMin, ZeroPointMax)
		}
		if math.IsNaN(c.Offset) || c.Offset < OffsetMin || c.Offset > OffsetMax {
			return errors.Config("message", field, "channel %d offset %v out of bounds [%v-%v]",
				c.Channel, c.Offset, OffsetMin, OffsetMax)
		}
		if strings.TrimSpace(c.Filter) == "" {
			c.Filter = DefaultFilter
		}
	}

	sortCalibration(d.Calibration)
	return nil
}

func sortCalibration(cs []ChannelCalibration) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Channel < cs[j].Channel })
}

// Channels returns the sorted channel indices configured for the device.
func (d DeviceConfig) Channels() []int {
	out := make([]int, len(d.Calibration))
	for i, c := range d.Calibration {
		out[i] = c.Channel
	}
	return out
}
