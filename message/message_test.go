package message

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/photgw/errors"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    EndpointSpec
		address string
		wantErr bool
	}{
		{"serial with baud", "serial:/dev/ttyUSB0:115200", EndpointSpec{EndpointSerial, "/dev/ttyUSB0", 115200}, "/dev/ttyUSB0", false},
		{"serial default baud", "serial:/dev/ttyACM0", EndpointSpec{EndpointSerial, "/dev/ttyACM0", DefaultBaudRate}, "/dev/ttyACM0", false},
		{"tcp with port", "tcp:192.168.4.1:2323", EndpointSpec{EndpointTCP, "192.168.4.1", 2323}, "192.168.4.1:2323", false},
		{"tcp default port", "TCP:tess.local", EndpointSpec{EndpointTCP, "tess.local", DefaultTCPPort}, "tess.local:23", false},
		{"tcp ipv6", "tcp:[fe80::1]:23", EndpointSpec{EndpointTCP, "[fe80::1]", 23}, "[fe80::1]:23", false},
		{"tcp ipv6 default", "tcp:[::1]", EndpointSpec{EndpointTCP, "[::1]", DefaultTCPPort}, "[::1]:23", false},
		{"unknown kind", "udp:host:1", EndpointSpec{}, "", true},
		{"missing target", "tcp:", EndpointSpec{}, "", true},
		{"no kind", "/dev/ttyUSB0", EndpointSpec{}, "", true},
		{"bad port", "tcp:host:http", EndpointSpec{}, "", true},
		{"port out of range", "tcp:host:70000", EndpointSpec{}, "", true},
		{"zero baud", "serial:/dev/ttyUSB0:0", EndpointSpec{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.address, got.Address())

			again, err := ParseEndpoint(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5c:cf:7f:82:8a:7d", "5C:CF:7F:82:8A:7D", false},
		{"1:2:3:a:b:c", "01:02:03:0A:0B:0C", false},
		{"5C:CF:7F:82:8A", "", true},
		{"5C:CF:7F:82:8A:ZZ", "", true},
		{"5C:CF:7F:82:8A:100", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	got, err := NormalizeName("STARS1234")
	require.NoError(t, err)
	assert.Equal(t, "stars1234", got)

	for _, bad := range []string{"stars", "stars12345678", "tess1", "stars1a"} {
		_, err := NormalizeName(bad)
		assert.Error(t, err, bad)
	}
}

func validDevice() DeviceConfig {
	return DeviceConfig{
		Name:     "Stars611",
		MAC:      "5c:cf:7f:82:8a:7d",
		Endpoint: EndpointSpec{EndpointSerial, "/dev/ttyUSB0", 9600},
		Model:    ModelTESSW,
		Period:   60,
		Calibration: []ChannelCalibration{
			{ZeroPoint: 20.5},
		},
	}
}

func TestDeviceConfigNormalize(t *testing.T) {
	d := validDevice()
	require.NoError(t, d.Normalize())

	assert.Equal(t, "stars611", d.Name)
	assert.Equal(t, "5C:CF:7F:82:8A:7D", d.MAC)
	assert.Equal(t, DefaultQueueSize, d.QueueSize)
	require.Len(t, d.Calibration, 1)
	assert.Equal(t, 1, d.Calibration[0].Channel)
	assert.Equal(t, DefaultFilter, d.Calibration[0].Filter)
}

func TestDeviceConfigNormalizeFourChannel(t *testing.T) {
	d := validDevice()
	d.Model = ModelTESS4C
	d.Calibration = []ChannelCalibration{
		{Channel: 3, ZeroPoint: 20, Filter: "G"},
		{Channel: 1, ZeroPoint: 20, Filter: "R"},
		{Channel: 2, ZeroPoint: 20, Filter: "B"},
		{Channel: 4, ZeroPoint: 20, Filter: "C"},
	}
	require.NoError(t, d.Normalize())
	assert.Equal(t, []int{1, 2, 3, 4}, d.Channels())
}

func TestDeviceConfigNormalizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *DeviceConfig)
	}{
		{"bad name", func(d *DeviceConfig) { d.Name = "tess-w" }},
		{"bad mac", func(d *DeviceConfig) { d.MAC = "nope" }},
		{"unknown model", func(d *DeviceConfig) { d.Model = "tess9" }},
		{"zero period", func(d *DeviceConfig) { d.Period = 0 }},
		{"negative qsize", func(d *DeviceConfig) { d.QueueSize = -1 }},
		{"bad endpoint", func(d *DeviceConfig) { d.Endpoint = EndpointSpec{Kind: "udp", Target: "x", Param: 1} }},
		{"zp too low", func(d *DeviceConfig) { d.Calibration[0].ZeroPoint = 9.99 }},
		{"zp too high", func(d *DeviceConfig) { d.Calibration[0].ZeroPoint = 30.01 }},
		{"offset out of range", func(d *DeviceConfig) { d.Calibration[0].Offset = 1.5 }},
		{"zp not a number", func(d *DeviceConfig) { d.Calibration[0].ZeroPoint = math.NaN() }},
		{"offset not a number", func(d *DeviceConfig) { d.Calibration[0].Offset = math.NaN() }},
		{"single channel with two entries", func(d *DeviceConfig) {
			d.Calibration = append(d.Calibration, ChannelCalibration{Channel: 2, ZeroPoint: 20})
		}},
		{"four channel with five entries", func(d *DeviceConfig) {
			d.Model = ModelTESS4C
			d.Calibration = make([]ChannelCalibration, 5)
		}},
		{"no calibration", func(d *DeviceConfig) { d.Calibration = nil }},
		{"duplicate channel", func(d *DeviceConfig) {
			d.Model = ModelTESS4C
			d.Calibration = []ChannelCalibration{{Channel: 1, ZeroPoint: 20}, {Channel: 1, ZeroPoint: 20}}
		}},
		{"channel out of range", func(d *DeviceConfig) {
			d.Model = ModelTESS4C
			d.Calibration = []ChannelCalibration{{Channel: 5, ZeroPoint: 20}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDevice()
			tt.mutate(&d)
			err := d.Normalize()
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err), "expected configuration error, got %v", err)
		})
	}
}

func TestDeviceConfigYAML(t *testing.T) {
	src := `
name: stars1
mac: "AA:BB:CC:DD:EE:FF"
endpoint: tcp:10.0.0.7:23
model: TESS4C
period: 30
qsize: 4
firmware: "Jul 21 2023"
calibration:
  - {channel: 1, zp: 20.1, offset: 0, filter: UVIR750}
  - {channel: 2, zp: 20.2, offset: 0.1}
`
	var d DeviceConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &d))
	assert.Equal(t, EndpointSpec{EndpointTCP, "10.0.0.7", 23}, d.Endpoint)
	assert.Equal(t, ModelTESS4C, d.Model)
	require.NoError(t, d.Normalize())
	assert.Equal(t, DefaultFilter, d.Calibration[1].Filter)
}

func TestDeviceConfigYAMLRejectsNaNCalibration(t *testing.T) {
	src := `
name: stars1
mac: "AA:BB:CC:DD:EE:FF"
endpoint: tcp:10.0.0.7:23
model: TESSW
period: 1
calibration:
  - {channel: 1, zp: .nan, offset: .nan}
`
	var d DeviceConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &d))
	err := d.Normalize()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "zero point")
}

func TestModel(t *testing.T) {
	assert.Equal(t, 1, ModelTESSW.Channels())
	assert.Equal(t, 4, ModelTESS4C.Channels())
	assert.Equal(t, 0, Model("x").Channels())

	m, err := ParseModel(" TESSW ")
	require.NoError(t, err)
	assert.Equal(t, ModelTESSW, m)
}

func TestGatewayTimestamp(t *testing.T) {
	tests := []struct {
		arrived time.Time
		want    string
	}{
		{time.Date(2025, 3, 1, 22, 10, 5, 100e6, time.UTC), "2025-03-01T22:10:05Z"},
		{time.Date(2025, 3, 1, 22, 10, 5, 600e6, time.UTC), "2025-03-01T22:10:06Z"},
		{time.Date(2025, 3, 1, 23, 10, 5, 0, time.FixedZone("CET", 3600)), "2025-03-01T22:10:05Z"},
	}
	for _, tt := range tests {
		s := SampledReading{ArrivedAt: tt.arrived}
		assert.Equal(t, tt.want, s.GatewayTimestamp())
	}
}

func TestTopic(t *testing.T) {
	root := ParseTopic("/STARS4ALL//")
	assert.Equal(t, Topic{"STARS4ALL"}, root)

	topic := ReadingTopic(root, "stars611")
	assert.Equal(t, "STARS4ALL/stars611/reading", topic.String())
	assert.Equal(t, "STARS4ALL.stars611.reading", topic.Join("."))

	// deriving a topic never aliases the root
	other := ReadingTopic(root, "stars2")
	assert.Equal(t, "STARS4ALL/stars611/reading", topic.String())
	assert.Equal(t, "STARS4ALL/stars2/reading", other.String())
}
