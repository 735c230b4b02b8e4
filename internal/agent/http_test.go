package agent_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

type hostMap map[int64]*model.Host

func (m hostMap) Host(id int64) (*model.Host, error) {
	h, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("host %d not found", id)
	}
	return h, nil
}

func newAgentServer(t *testing.T, secret string, h agent.Handler) hostMap {
	t.Helper()
	srv := httptest.NewServer(agent.NewHTTPHandler(secret, h))
	t.Cleanup(srv.Close)
	return hostMap{1: {ID: 1, Name: "kvm-1", AgentURL: srv.URL}}
}

func TestHTTPGateway_CopyRoundTrip(t *testing.T) {
	hosts := newAgentServer(t, "s3cret", func(ctx context.Context, cmd agent.Command) (*agent.Answer, error) {
		c, ok := cmd.(*agent.CopyCommand)
		if !ok {
			return agent.Fail("unexpected command"), nil
		}
		to := *c.Dst
		to.Path = "/mnt/" + c.Options[agent.DetailIQN]
		ans := agent.OK()
		ans.NewData = &to
		return ans, nil
	})
	gw := agent.NewHTTPGateway(agent.HTTPConfig{Secret: "s3cret", Grace: time.Second}, hosts)

	ans, err := gw.Send(context.Background(), 1, &agent.CopyCommand{
		Src:     &model.ObjectTO{Kind: model.KindSnapshot, ID: 3},
		Dst:     &model.ObjectTO{Kind: model.KindTemplate, ID: 4, UUID: "t-4"},
		WaitFor: time.Minute,
		Options: map[string]string{agent.DetailIQN: "iqn.2024-01.snap"},
	})
	require.NoError(t, err)
	require.True(t, ans.Result)
	require.NotNil(t, ans.NewData)
	assert.Equal(t, "/mnt/iqn.2024-01.snap", ans.NewData.Path)
	assert.Equal(t, "t-4", ans.NewData.UUID)
}

func TestHTTPGateway_EmptyAnswer(t *testing.T) {
	hosts := newAgentServer(t, "", func(context.Context, agent.Command) (*agent.Answer, error) {
		return nil, nil
	})
	gw := agent.NewHTTPGateway(agent.HTTPConfig{}, hosts)

	ans, err := gw.Send(context.Background(), 1, &agent.PrepareForMigrationCommand{VM: model.VMTO{ID: 9}})
	require.NoError(t, err)
	assert.Nil(t, ans)
}

func TestHTTPGateway_BadSignatureIsUnavailable(t *testing.T) {
	hosts := newAgentServer(t, "right", func(context.Context, agent.Command) (*agent.Answer, error) {
		return agent.OK(), nil
	})
	gw := agent.NewHTTPGateway(agent.HTTPConfig{Secret: "wrong"}, hosts)

	_, err := gw.Send(context.Background(), 1, &agent.ModifyTargetsCommand{Add: true})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)
}

func TestHTTPGateway_SlowAgentTimesOut(t *testing.T) {
	hosts := newAgentServer(t, "", func(ctx context.Context, cmd agent.Command) (*agent.Answer, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return agent.OK(), nil
	})
	gw := agent.NewHTTPGateway(agent.HTTPConfig{DefaultWait: 50 * time.Millisecond}, hosts)

	_, err := gw.Send(context.Background(), 1, &agent.ResignatureCommand{})
	assert.ErrorIs(t, err, errclass.ErrOperationTimedOut)
}

func TestHTTPGateway_AgentReportedTimeout(t *testing.T) {
	hosts := newAgentServer(t, "", func(context.Context, agent.Command) (*agent.Answer, error) {
		return nil, errclass.ErrOperationTimedOut.WithMessage("hypervisor did not finish")
	})
	gw := agent.NewHTTPGateway(agent.HTTPConfig{}, hosts)

	_, err := gw.Send(context.Background(), 1, &agent.MigrateCommand{VMName: "i-2-9"})
	assert.ErrorIs(t, err, errclass.ErrOperationTimedOut)
}

func TestHTTPGateway_UnknownHost(t *testing.T) {
	gw := agent.NewHTTPGateway(agent.HTTPConfig{}, hostMap{})
	_, err := gw.Send(context.Background(), 42, &agent.CopyCommand{})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)
}

func TestHTTPGateway_HostWithoutEndpoint(t *testing.T) {
	gw := agent.NewHTTPGateway(agent.HTTPConfig{}, hostMap{1: {ID: 1}})
	_, err := gw.Send(context.Background(), 1, &agent.CopyCommand{})
	assert.ErrorIs(t, err, errclass.ErrAgentUnavailable)
}

func TestSign_Deterministic(t *testing.T) {
	a := agent.Sign([]byte("payload"), "k")
	assert.Equal(t, a, agent.Sign([]byte("payload"), "k"))
	assert.NotEqual(t, a, agent.Sign([]byte("payload"), "other"))
	assert.Contains(t, a, "sha256=")
}
