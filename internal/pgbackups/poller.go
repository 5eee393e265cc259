package pgbackups

import (
	"context"
	"time"
)

// TransferAPI is the slice of the client the poller needs.
type TransferAPI interface {
	GetTransfer(ctx context.Context, id int) (Transfer, error)
}

// Poller blocks until a transfer reaches a terminal state, fetching it at a
// fixed interval. This is a deliberate busy-wait: the migration runs one
// step at a time and has nothing else to do while data copies.
type Poller struct {
	API      TransferAPI
	Interval time.Duration

	// Progress, when set, receives the newest transfer-log line each time
	// it changes.
	Progress func(line string)
}

// Wait polls until the transfer reports finished or errored, returning the
// terminal Transfer. It does not decide whether an errored transfer is a
// failure — that is the caller's call. Cancellation of ctx ends the wait.
func (p *Poller) Wait(ctx context.Context, id int) (Transfer, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastLine string
	for {
		t, err := p.API.GetTransfer(ctx, id)
		if err != nil {
			return Transfer{}, err
		}

		if line := t.LastLogLine(); line != "" && line != lastLine && p.Progress != nil {
			p.Progress(line)
			lastLine = line
		}

		if t.Finished() || t.Errored() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return Transfer{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
