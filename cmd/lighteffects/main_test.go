package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hueboblightd/internal/boblight"
	"github.com/dokzlo13/hueboblightd/internal/hue"
	"github.com/dokzlo13/hueboblightd/internal/light"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// idleBridge accepts everything; these tests only look at light targets
type idleBridge struct{}

func (idleBridge) Address() string                { return "10.0.0.2" }
func (idleBridge) Endpoint() string               { return "10.0.0.2/user" }
func (idleBridge) Probe(ctx context.Context) bool { return true }

func (idleBridge) GetAttributes(ctx context.Context, id string) *huego.Light {
	return nil
}

func (idleBridge) PutState(ctx context.Context, id string, s hue.StateUpdate) bool {
	return true
}

func startDaemon(t *testing.T, ids ...string) (string, []*light.Light, *registry.Activity) {
	t.Helper()
	reg := registry.New()
	var lights []*light.Light
	for _, id := range ids {
		l, err := light.New(light.Spec{ID: id, Name: "light-" + id, Scan: light.Scan{Bottom: 100, Right: 100}}, idleBridge{})
		require.NoError(t, err)
		require.NoError(t, reg.Add(l))
		lights = append(lights, l)
	}
	activity := registry.NewActivity()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go boblight.NewServer(reg, activity, nil).Serve(ctx, ln)
	return ln.Addr().String(), lights, activity
}

func TestRun_Session(t *testing.T) {
	addr, lights, activity := startDaemon(t, "1", "2")
	before := activity.Last()

	err := run(context.Background(), options{server: addr, cycles: 2, timeout: 2 * time.Second})
	require.NoError(t, err)

	// the last frame is step 2: light i shows effect[(2+i)%3]
	require.Eventually(t, func() bool {
		return lights[0].Target() == effect[2] && lights[1].Target() == effect[0]
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, activity.Last().Before(before))
}

func TestRun_NoLights(t *testing.T) {
	addr, _, _ := startDaemon(t)
	assert.NoError(t, run(context.Background(), options{server: addr, cycles: 1, timeout: 2 * time.Second}))
}

func TestRun_Cancelled(t *testing.T) {
	addr, _, _ := startDaemon(t, "1")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := run(ctx, options{server: addr, cycles: 1, delay: time.Hour, timeout: 2 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "media-box:19333", serverAddr("media-box"))
	assert.Equal(t, "10.0.0.5:19444", serverAddr("10.0.0.5:19444"))
	assert.Equal(t, "[::1]:19333", serverAddr("::1"))
	assert.Equal(t, "[::1]:19444", serverAddr("[::1]:19444"))
}
