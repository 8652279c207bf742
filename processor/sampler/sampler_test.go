package sampler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/photgw/message"
)

type recordingPusher struct {
	mu     sync.Mutex
	got    []message.SampledReading
	refuse bool
}

func (p *recordingPusher) Push(r message.SampledReading) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refuse {
		return false
	}
	p.got = append(p.got, r)
	return true
}

func (p *recordingPusher) all() []message.SampledReading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message.SampledReading(nil), p.got...)
}

func reading(freq float64) message.SampledReading {
	return message.SampledReading{Device: "stars1", Reading: message.RawReading{Freqs: []float64{freq}}}
}

func TestNewValidation(t *testing.T) {
	_, err := New("stars1", 0, &recordingPusher{}, nil, nil)
	assert.Error(t, err)
	_, err = New("stars1", time.Second, nil, nil, nil)
	assert.Error(t, err)
}

func TestTickEmitsOnlyLastOffered(t *testing.T) {
	tests := []struct {
		name      string
		offers    int
		wantEmit  bool
		discarded int64
	}{
		{"no readings", 0, false, 0},
		{"one reading", 1, true, 0},
		{"sixty readings", 60, true, 59},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &recordingPusher{}
			s, err := New("stars1", time.Minute, out, nil, nil)
			require.NoError(t, err)

			for i := 1; i <= tt.offers; i++ {
				s.Offer(reading(float64(i)))
			}
			assert.Equal(t, tt.wantEmit, s.Tick())

			got := out.all()
			if !tt.wantEmit {
				assert.Empty(t, got)
				assert.Equal(t, int64(1), s.Counters().Missing)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, []float64{float64(tt.offers)}, got[0].Reading.Freqs)
			assert.Equal(t, tt.discarded, s.Counters().Discarded)
		})
	}
}

func TestTickNoStaleRepeat(t *testing.T) {
	out := &recordingPusher{}
	s, err := New("stars1", time.Minute, out, nil, nil)
	require.NoError(t, err)

	s.Offer(reading(1))
	assert.True(t, s.Tick())
	assert.False(t, s.Tick())
	s.Offer(reading(2))
	assert.True(t, s.Tick())

	got := out.all()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)

	c := s.Counters()
	assert.Equal(t, int64(2), c.Emitted)
	assert.Equal(t, int64(1), c.Missing)
}

func TestTickQueueRejects(t *testing.T) {
	out := &recordingPusher{refuse: true}
	s, err := New("stars1", time.Minute, out, nil, nil)
	require.NoError(t, err)

	s.Offer(reading(1))
	assert.False(t, s.Tick())
	assert.Equal(t, int64(1), s.Counters().Rejected)
}

func TestOfferDoesNotBlockDuringRun(t *testing.T) {
	out := &recordingPusher{}
	s, err := New("stars1", 20*time.Millisecond, out, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	stop := time.After(110 * time.Millisecond)
	freq := 0.0
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
			freq++
			s.Offer(reading(freq))
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	require.NoError(t, <-done)

	got := out.all()
	assert.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Reading.Freqs[0], got[i-1].Reading.Freqs[0])
		assert.Equal(t, got[i-1].Seq+1, got[i].Seq)
	}
	c := s.Counters()
	assert.Equal(t, c.Offered, c.Discarded+c.Emitted+boolToInt(s.has))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
