package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/relayd/internal/config"
	"github.com/codefionn/relayd/internal/relay"
)

func startServer(t *testing.T, invoker relay.ToolInvoker) *relay.Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Listen.Host = "127.0.0.1"
	cfg.Listen.Port = 0
	cfg.LogLevel = "none"
	cfg.LogPath = ""

	s := relay.NewServer(cfg)
	if invoker != nil {
		s.SetInvoker(invoker)
	}
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	return s
}

func testClientConfig(addr, identity string) *Config {
	cfg := DefaultConfig(addr)
	cfg.Identity = identity
	cfg.ReconnectEnabled = false
	return cfg
}

func connect(t *testing.T, s *relay.Server, cfg *Config) *Client {
	t.Helper()

	c := New(cfg)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	waitFor(t, func() bool {
		_, ok := s.Registry().Resolve(c.Identity())
		return ok
	}, "client never registered with the server")

	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClientConnectRegisters(t *testing.T) {
	s := startServer(t, nil)
	c := connect(t, s, testClientConfig(s.Addr().String(), "worker-1"))

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "worker-1", c.Identity())
}

func TestClientDefaultIdentityGenerated(t *testing.T) {
	c := New(&Config{Addr: "127.0.0.1:1"})
	assert.NotEmpty(t, c.Identity())
}

func TestClientUserMapping(t *testing.T) {
	s := startServer(t, nil)
	cfg := testClientConfig(s.Addr().String(), "worker-1")
	cfg.UserID = "user42"
	connect(t, s, cfg)

	waitFor(t, func() bool {
		_, ok := s.Registry().ResolveByCorrelation("user42")
		return ok
	}, "user correlation never recorded")
}

func TestClientInvokeTool(t *testing.T) {
	s := startServer(t, relay.ToolInvokerFunc(func(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error) {
		var parsed map[string]int
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, err
		}
		return map[string]int{"doubled": parsed["n"] * 2}, nil
	}))
	c := connect(t, s, testClientConfig(s.Addr().String(), "worker-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.InvokeTool(ctx, "double", map[string]int{"n": 21})
	require.NoError(t, err)

	assert.Equal(t, "double", resp.ToolID)
	assert.JSONEq(t, `{"doubled":42}`, string(resp.Result))
	assert.Empty(t, resp.Error)
}

func TestClientInvokeToolFailure(t *testing.T) {
	s := startServer(t, relay.ToolInvokerFunc(func(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error) {
		return nil, errors.New("tool broke")
	}))
	c := connect(t, s, testClientConfig(s.Addr().String(), "worker-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.InvokeTool(ctx, "broken", nil)
	require.NoError(t, err)

	assert.Equal(t, "tool broke", resp.Error)
	assert.Nil(t, resp.Result)
}

func TestClientReceivesPush(t *testing.T) {
	s := startServer(t, nil)

	cfg := testClientConfig(s.Addr().String(), "worker-1")
	c := New(cfg)
	t.Cleanup(func() { c.Close() })

	pushes := make(chan json.RawMessage, 1)
	c.OnPush(func(payload json.RawMessage) { pushes <- payload })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	waitFor(t, func() bool {
		_, ok := s.Registry().Resolve("worker-1")
		return ok
	}, "client never registered")

	require.NoError(t, s.SendTo("worker-1", map[string]string{"type": "news", "body": "hi"}))

	select {
	case payload := <-pushes:
		var got map[string]string
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "hi", got["body"])
	case <-time.After(2 * time.Second):
		t.Fatal("push never arrived")
	}
}

func TestClientPendingFIFOPerTool(t *testing.T) {
	c := New(&Config{Addr: "127.0.0.1:1"})

	ch1 := make(chan *relay.ToolResponse, 1)
	ch2 := make(chan *relay.ToolResponse, 1)
	c.pending["t1"] = []chan *relay.ToolResponse{ch1, ch2}

	c.resolvePending(relay.NewToolError("t1", "first"))
	c.resolvePending(relay.NewToolError("t1", "second"))

	assert.Equal(t, "first", (<-ch1).Error)
	assert.Equal(t, "second", (<-ch2).Error)
	assert.Empty(t, c.pending["t1"])
}

func TestClientReconnectsAndReRegisters(t *testing.T) {
	s1 := startServer(t, nil)
	port := s1.Addr().(*net.TCPAddr).Port

	cfg := testClientConfig(s1.Addr().String(), "worker-1")
	cfg.ReconnectEnabled = true
	cfg.ReconnectDelay = 50 * time.Millisecond
	cfg.ReconnectMaxDelay = 200 * time.Millisecond
	c := connect(t, s1, cfg)

	// Kill the first server and bring up a fresh one on the same port
	s1.Stop()

	srvCfg := config.DefaultConfig()
	srvCfg.Listen.Host = "127.0.0.1"
	srvCfg.Listen.Port = port
	srvCfg.LogLevel = "none"
	srvCfg.LogPath = ""

	var s2 *relay.Server
	waitFor(t, func() bool {
		s2 = relay.NewServer(srvCfg)
		if err := s2.Start(); err != nil {
			return false
		}
		return true
	}, "could not rebind test port")
	t.Cleanup(s2.Stop)

	// The client must reconnect and re-register on its own: the new server
	// instance has never seen it
	waitFor(t, func() bool {
		_, ok := s2.Registry().Resolve("worker-1")
		return ok
	}, "client did not re-register after reconnect")
	assert.Equal(t, StateConnected, c.State())
}

func TestClientCloseFailsPendingInvocations(t *testing.T) {
	s := startServer(t, relay.ToolInvokerFunc(func(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	c := connect(t, s, testClientConfig(s.Addr().String(), "worker-1"))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.InvokeTool(context.Background(), "slow", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending invocation never failed")
	}

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send(relay.NewRegisterClient("x")), ErrNotConnected)
}
