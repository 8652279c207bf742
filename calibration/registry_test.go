package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

func device(name, mac string) message.DeviceConfig {
	return message.DeviceConfig{
		Name:  name,
		MAC:   mac,
		Model: message.ModelTESSW,
		Calibration: []message.ChannelCalibration{
			{Channel: 1, ZeroPoint: 20.5, Filter: "UVIR750"},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry([]message.DeviceConfig{
		device("stars2", "00:00:00:00:00:02"),
		device("stars1", "00:00:00:00:00:01"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"stars1", "stars2"}, r.Names())

	e, ok := r.Lookup("stars1")
	require.True(t, ok)
	assert.Equal(t, "00:00:00:00:00:01", e.MAC)
	assert.Equal(t, 1, e.ChannelCount())
	assert.Equal(t, 20.5, e.Channels[0].ZeroPoint)

	_, ok = r.Lookup("stars9")
	assert.False(t, ok)
}

func TestRegistryIsImmutable(t *testing.T) {
	cfg := []message.DeviceConfig{device("stars1", "00:00:00:00:00:01")}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	// mutating the source config after construction has no effect
	cfg[0].Calibration[0].ZeroPoint = 11

	e, _ := r.Lookup("stars1")
	e.Channels[0].Filter = "changed"

	again, _ := r.Lookup("stars1")
	assert.Equal(t, 20.5, again.Channels[0].ZeroPoint)
	assert.Equal(t, "UVIR750", again.Channels[0].Filter)

	names := r.Names()
	names[0] = "x"
	assert.Equal(t, []string{"stars1"}, r.Names())
}

func TestNewRegistryErrors(t *testing.T) {
	tests := []struct {
		name    string
		devices []message.DeviceConfig
	}{
		{"duplicate name", []message.DeviceConfig{
			device("stars1", "00:00:00:00:00:01"),
			device("stars1", "00:00:00:00:00:02"),
		}},
		{"duplicate mac", []message.DeviceConfig{
			device("stars1", "00:00:00:00:00:01"),
			device("stars2", "00:00:00:00:00:01"),
		}},
		{"missing calibration", []message.DeviceConfig{
			{Name: "stars1", MAC: "00:00:00:00:00:01", Model: message.ModelTESSW},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.devices)
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}
