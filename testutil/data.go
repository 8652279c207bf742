package testutil

import (
	"fmt"
	"strings"

	"github.com/c360/photgw/message"
)

// TESSW returns a normalized single channel device config.
func TESSW(name string) message.DeviceConfig {
	d := message.DeviceConfig{
		Name:     name,
		MAC:      "5C:CF:7F:82:8A:7D",
		Endpoint: message.EndpointSpec{Kind: message.EndpointTCP, Target: "192.168.4.1", Param: message.DefaultTCPPort},
		Model:    message.ModelTESSW,
		Period:   1,
		Calibration: []message.ChannelCalibration{
			{Channel: 1, ZeroPoint: 20.5, Offset: 0, Filter: message.DefaultFilter},
		},
		Firmware:  "Nov 25 2017",
		QueueSize: message.DefaultQueueSize,
	}
	return d
}

// TESS4C returns a normalized four channel device config on a serial port.
func TESS4C(name string) message.DeviceConfig {
	d := message.DeviceConfig{
		Name:     name,
		MAC:      "98:CD:AC:11:22:33",
		Endpoint: message.EndpointSpec{Kind: message.EndpointSerial, Target: "/dev/ttyUSB0", Param: message.DefaultBaudRate},
		Model:    message.ModelTESS4C,
		Period:   1,
		Calibration: []message.ChannelCalibration{
			{Channel: 1, ZeroPoint: 20.1, Filter: "UV/IR-740"},
			{Channel: 2, ZeroPoint: 20.2, Filter: "R"},
			{Channel: 3, ZeroPoint: 20.3, Filter: "G"},
			{Channel: 4, ZeroPoint: 20.4, Filter: "B"},
		},
		QueueSize: message.DefaultQueueSize,
	}
	return d
}

// WithMAC returns d with a different MAC, for registries that need several
// devices.
func WithMAC(d message.DeviceConfig, last byte) message.DeviceConfig {
	d.MAC = fmt.Sprintf("%s:%02X", d.MAC[:14], last)
	return d
}

// TESSWLine is a single channel device line as the firmware prints it.
func TESSWLine(freq float64, seq int) string {
	return fmt.Sprintf(`{"udp":%d,"rev":1,"name":"stars1","freq":%.2f,"mag":12.34,"tamb":18.5,"tsky":-12.1,"wdBm":-60}`, seq, freq)
}

// TESS4CLine is a four channel device line.
func TESS4CLine(seq int, freqs ...float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, `{"udp":%d,"rev":2`, seq)
	for i, f := range freqs {
		fmt.Fprintf(&b, `,"freq%d":%.2f`, i+1, f)
	}
	b.WriteString(`,"tamb":10.0,"tsky":-20.0}`)
	return b.String()
}
