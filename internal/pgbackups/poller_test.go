package pgbackups

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAPI struct {
	states []Transfer
	next   int
}

func (s *scriptedAPI) GetTransfer(_ context.Context, id int) (Transfer, error) {
	t := s.states[s.next]
	if s.next < len(s.states)-1 {
		s.next++
	}
	t.ID = id
	return t, nil
}

func TestPollerWaitsUntilFinished(t *testing.T) {
	api := &scriptedAPI{states: []Transfer{
		{Log: "starting"},
		{Log: "starting\n42 of 100 rows"},
		{Log: "starting\n42 of 100 rows\ndone", FinishedAt: "2012-01-01 12:00:00"},
	}}

	var lines []string
	p := &Poller{API: api, Interval: time.Millisecond, Progress: func(line string) {
		lines = append(lines, line)
	}}

	got, err := p.Wait(context.Background(), 7)

	require.NoError(t, err)
	assert.True(t, got.Finished())
	// Each distinct newest log line is reported exactly once.
	assert.Equal(t, []string{"starting", "42 of 100 rows", "done"}, lines)
}

func TestPollerReturnsErroredTransfer(t *testing.T) {
	api := &scriptedAPI{states: []Transfer{
		{Log: "copying"},
		{Log: "copying\nconnection reset", ErrorAt: "2012-01-01 12:00:00"},
	}}

	p := &Poller{API: api, Interval: time.Millisecond}
	got, err := p.Wait(context.Background(), 7)

	require.NoError(t, err, "an errored transfer is a result, not a poll failure")
	assert.True(t, got.Errored())
	assert.Equal(t, "connection reset", got.LastLogLine())
}

func TestPollerStopsOnCancellation(t *testing.T) {
	api := &scriptedAPI{states: []Transfer{{Log: "copying"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Poller{API: api, Interval: time.Minute}
	_, err := p.Wait(ctx, 7)

	assert.ErrorIs(t, err, context.Canceled)
}
