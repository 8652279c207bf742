package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero", Config{}, false},
		{"default", Default(), false},
		{"negative initial", Config{InitialDelay: -1}, true},
		{"negative max", Config{MaxDelay: -1}, true},
		{"negative multiplier", Config{Multiplier: -2}, true},
		{"max below initial", Config{InitialDelay: time.Minute, MaxDelay: time.Second}, true},
		{"max unset with large initial", Config{InitialDelay: time.Hour}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackoffSequence(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []time.Duration
	}{
		{
			name: "default caps at a minute",
			cfg:  Default(),
			want: []time.Duration{
				time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
				16 * time.Second, 32 * time.Second, time.Minute, time.Minute,
			},
		},
		{
			name: "zero config uses defaults",
			cfg:  Config{},
			want: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name: "initial above default max",
			cfg:  Config{InitialDelay: time.Hour},
			want: []time.Duration{time.Hour, time.Hour},
		},
		{
			name: "multiplier one is constant",
			cfg:  Config{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1},
			want: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.cfg)
			for i, want := range tt.want {
				assert.Equal(t, want, b.Next(), "attempt %d", i+1)
			}
			assert.Equal(t, len(tt.want), b.Attempt())
		})
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(Default())
	b.Next()
	b.Next()
	require.Equal(t, 4*time.Second, b.Peek())

	b.Reset()
	assert.Zero(t, b.Attempt())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffJitter(t *testing.T) {
	b := NewBackoff(Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true})
	for i := 0; i < 20; i++ {
		b.Reset()
		d := b.Next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}

func TestBackoffWait(t *testing.T) {
	t.Run("sleeps and advances", func(t *testing.T) {
		b := NewBackoff(Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond})
		require.NoError(t, b.Wait(context.Background()))
		assert.Equal(t, 1, b.Attempt())
		assert.Equal(t, 10*time.Millisecond, b.Peek())
	})

	t.Run("returns when cancelled", func(t *testing.T) {
		b := NewBackoff(Config{InitialDelay: time.Hour, MaxDelay: time.Hour})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})
}
