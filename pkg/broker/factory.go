package broker

import (
	"fmt"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/alpaca"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/sim"
)

// Mode selects the venue family.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// SelectionError reports why a venue could not be handed out.
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string {
	return "broker selection failed: " + e.Reason
}

// Options configure venue selection. LiveCheck runs before a live venue
// is handed out; any error it returns refuses the selection outright.
// Paper and Live override the built-in venues, mainly from tests.
type Options struct {
	Mode      Mode
	AccountID string
	ReadOnly  bool
	Alpaca    *alpaca.Config
	LiveCheck func() error
	Paper     Broker
	Live      Broker
	Recorder  audit.Recorder
}

// New selects the venue for the configured mode and layers on the audit
// and read-only wrappers. An empty mode means paper: the safe default
// must never be the live venue.
func New(opts Options) (Broker, error) {
	var venue Broker
	switch opts.Mode {
	case ModeLive:
		if opts.LiveCheck != nil {
			if err := opts.LiveCheck(); err != nil {
				return nil, &SelectionError{Reason: err.Error()}
			}
		}
		switch {
		case opts.Live != nil:
			venue = opts.Live
		case opts.Alpaca != nil:
			venue = alpaca.New(*opts.Alpaca)
		default:
			return nil, &SelectionError{Reason: "live mode requires venue credentials"}
		}
	case ModePaper, "":
		venue = opts.Paper
		if venue == nil {
			venue = sim.New(opts.AccountID)
		}
	default:
		return nil, &SelectionError{Reason: fmt.Sprintf("unknown mode %q", opts.Mode)}
	}

	if opts.Recorder != nil {
		venue = Audited(venue, opts.Recorder)
	}
	if opts.ReadOnly {
		venue = ReadOnly(venue)
	}
	return venue, nil
}
