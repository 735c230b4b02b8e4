package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
)

func TestLocalGateway_DispatchesToRegisteredHost(t *testing.T) {
	gw := agent.NewLocalGateway()
	var got agent.Command
	gw.Register(7, func(ctx context.Context, cmd agent.Command) (*agent.Answer, error) {
		got = cmd
		return agent.OK(), nil
	})

	cmd := &agent.ResignatureCommand{Details: map[string]string{agent.DetailIQN: "iqn.1"}}
	ans, err := gw.Send(context.Background(), 7, cmd)
	require.NoError(t, err)
	assert.True(t, agent.Succeeded(ans))
	assert.Same(t, cmd, got)
}

func TestLocalGateway_UnknownHostIsUnavailable(t *testing.T) {
	gw := agent.NewLocalGateway()
	gw.Register(1, func(context.Context, agent.Command) (*agent.Answer, error) { return agent.OK(), nil })
	gw.Unregister(1)

	_, err := gw.Send(context.Background(), 1, &agent.ModifyTargetsCommand{})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)
}

func TestLocalGateway_CancelledContext(t *testing.T) {
	gw := agent.NewLocalGateway()
	gw.Register(1, func(context.Context, agent.Command) (*agent.Answer, error) { return agent.OK(), nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Send(ctx, 1, &agent.ModifyTargetsCommand{})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", agent.Outcome(agent.OK(), nil))
	assert.Equal(t, "negative", agent.Outcome(agent.Fail("disk full"), nil))
	assert.Equal(t, "empty", agent.Outcome(nil, nil))
	assert.Equal(t, "timeout", agent.Outcome(nil, errclass.ErrOperationTimedOut.WithMessage("slow")))
	assert.Equal(t, "unavailable", agent.Outcome(nil, errors.New("connection refused")))
}

func TestSucceeded(t *testing.T) {
	assert.False(t, agent.Succeeded(nil))
	assert.False(t, agent.Succeeded(agent.Fail("x")))
	assert.True(t, agent.Succeeded(agent.OK()))
}

func TestInstrument_RecordsRoundTrips(t *testing.T) {
	reg := metrics.NewRegistry("test")
	local := agent.NewLocalGateway()
	local.Register(1, func(context.Context, agent.Command) (*agent.Answer, error) { return agent.Fail("no space"), nil })
	gw := agent.Instrument(local, reg, nil)

	ans, err := gw.Send(context.Background(), 1, &agent.CopyCommand{Src: &model.ObjectTO{}, Dst: &model.ObjectTO{}})
	require.NoError(t, err)
	assert.False(t, ans.Result)

	_, err = gw.Send(context.Background(), 2, &agent.CopyCommand{})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)

	n, err := testutil.GatherAndCount(reg.Gatherer(), "test_agent_round_trip_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestZoneSelector(t *testing.T) {
	sel := agent.NewZoneSelector()
	src := &model.DataObject{Kind: model.KindSnapshot, ZoneID: 1}
	dst := &model.DataObject{Kind: model.KindTemplate, Store: &model.DataStore{ZoneID: 2}}

	_, ok := sel.Select(src, dst)
	assert.False(t, ok)

	sel.Set(1, 10)
	id, ok := sel.Select(src, dst)
	require.True(t, ok)
	assert.Equal(t, int64(10), id)

	sel.Set(2, 20)
	id, ok = sel.Select(src, dst)
	require.True(t, ok)
	assert.Equal(t, int64(20), id)
}
