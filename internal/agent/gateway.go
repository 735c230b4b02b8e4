package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/metrics"
)

// Gateway sends a command to one host and waits for its answer.
//
// Errors are ErrAgentUnavailable when the host cannot be reached and
// ErrOperationTimedOut when it does not answer in time. A nil answer with a
// nil error means the agent replied with no answer at all.
type Gateway interface {
	Send(ctx context.Context, hostID int64, cmd Command) (*Answer, error)
}

// Handler executes commands for one co-located host.
type Handler func(ctx context.Context, cmd Command) (*Answer, error)

// LocalGateway dispatches to in-process handlers registered per host.
type LocalGateway struct {
	mu       sync.RWMutex
	handlers map[int64]Handler
}

// NewLocalGateway returns an empty LocalGateway.
func NewLocalGateway() *LocalGateway {
	return &LocalGateway{handlers: make(map[int64]Handler)}
}

// Register installs h as the agent of hostID.
func (g *LocalGateway) Register(hostID int64, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[hostID] = h
}

// Unregister removes the agent of hostID; later sends report it unavailable.
func (g *LocalGateway) Unregister(hostID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, hostID)
}

func (g *LocalGateway) Send(ctx context.Context, hostID int64, cmd Command) (*Answer, error) {
	g.mu.RLock()
	h, ok := g.handlers[hostID]
	g.mu.RUnlock()
	if !ok {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("no agent registered for host %d", hostID)
	}
	if err := ctx.Err(); err != nil {
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d: %v", hostID, err)
	}
	return h(ctx, cmd)
}

type instrumented struct {
	next    Gateway
	metrics *metrics.Registry
	log     *logging.Logger
}

// Instrument wraps gw so that every round trip is timed and logged.
// reg and log may be nil.
func Instrument(gw Gateway, reg *metrics.Registry, log *logging.Logger) Gateway {
	if log == nil {
		log = logging.Nop()
	}
	return &instrumented{next: gw, metrics: reg, log: log}
}

func (g *instrumented) Send(ctx context.Context, hostID int64, cmd Command) (*Answer, error) {
	start := time.Now()
	ans, err := g.next.Send(ctx, hostID, cmd)
	elapsed := time.Since(start)

	outcome := Outcome(ans, err)
	if g.metrics != nil {
		g.metrics.RecordAgentRoundTrip(string(cmd.Kind()), outcome, elapsed)
	}
	fields := map[string]any{
		"host_id":  hostID,
		"command":  string(cmd.Kind()),
		"outcome":  outcome,
		"duration": elapsed.String(),
	}
	if err != nil {
		g.log.Warn("agent command failed", fields, map[string]any{"error": err.Error()})
	} else {
		g.log.Debug("agent command answered", fields)
	}
	return ans, err
}

// Outcome classifies a round trip for metrics and logs.
func Outcome(ans *Answer, err error) string {
	switch {
	case errors.Is(err, errclass.ErrOperationTimedOut):
		return "timeout"
	case err != nil:
		return "unavailable"
	case ans == nil:
		return "empty"
	case !ans.Result:
		return "negative"
	}
	return "ok"
}
