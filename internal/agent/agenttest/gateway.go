// Package agenttest provides a scripted agent gateway for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/pkg/errclass"
)

// Call is one recorded Send.
type Call struct {
	HostID  int64
	Command agent.Command
}

// Reply is what a scripted Send returns.
type Reply struct {
	Answer *agent.Answer
	Err    error
}

// Responder computes a reply for a command.
type Responder func(hostID int64, cmd agent.Command) Reply

// Gateway records every command and answers from per-kind scripts.
// Kinds without a script answer OK.
type Gateway struct {
	mu      sync.Mutex
	calls   []Call
	scripts map[agent.Kind][]Responder
	down    map[int64]bool
}

// New returns a Gateway that answers OK to everything.
func New() *Gateway {
	return &Gateway{
		scripts: make(map[agent.Kind][]Responder),
		down:    make(map[int64]bool),
	}
}

// On queues responders for kind. Each Send of that kind consumes one; the
// last one is reused once the queue is down to it.
func (g *Gateway) On(kind agent.Kind, rs ...Responder) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[kind] = append(g.scripts[kind], rs...)
	return g
}

// Answer returns a Responder that always gives ans, err.
func Answer(ans *agent.Answer, err error) Responder {
	return func(int64, agent.Command) Reply { return Reply{Answer: ans, Err: err} }
}

// Down makes every command to hostID fail as unavailable.
func (g *Gateway) Down(hostID int64) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down[hostID] = true
	return g
}

func (g *Gateway) Send(ctx context.Context, hostID int64, cmd agent.Command) (*agent.Answer, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{HostID: hostID, Command: cmd})
	if g.down[hostID] {
		g.mu.Unlock()
		return nil, errclass.ErrAgentUnavailable.WithMessagef("host %d is down", hostID)
	}
	var r Responder
	if q := g.scripts[cmd.Kind()]; len(q) > 0 {
		r = q[0]
		if len(q) > 1 {
			g.scripts[cmd.Kind()] = q[1:]
		}
	}
	g.mu.Unlock()

	if r == nil {
		return defaultAnswer(cmd), nil
	}
	rep := r(hostID, cmd)
	return rep.Answer, rep.Err
}

func defaultAnswer(cmd agent.Command) *agent.Answer {
	ans := agent.OK()
	switch c := cmd.(type) {
	case *agent.CopyCommand:
		if c.Dst != nil {
			to := *c.Dst
			if to.Path == "" {
				to.Path = "copied-" + to.UUID
			}
			ans.NewData = &to
		}
	case *agent.ModifyTargetsCommand:
		for _, t := range c.Targets {
			ans.ConnectedPaths = append(ans.ConnectedPaths, "/dev/disk/by-path/"+t[agent.TargetIQN])
		}
	case *agent.MigrateVolumeCommand:
		if c.Dst != nil {
			ans.VolumePath = "migrated-" + c.Dst.UUID
		}
	case *agent.CopyVolumeCommand:
		ans.VolumePath = "secondary-" + c.VolumePath
	case *agent.ResignatureCommand:
		ans.Path = "resigned-" + c.Details[agent.DetailIQN]
		ans.Size = 1 << 30
		ans.Format = "RAW"
	}
	return ans
}

// Calls returns a copy of the recorded calls.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// Kinds returns the recorded command kinds in order.
func (g *Gateway) Kinds() []agent.Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]agent.Kind, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.Command.Kind())
	}
	return out
}

// OfKind returns the recorded calls of one kind.
func (g *Gateway) OfKind(kind agent.Kind) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if c.Command.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}
