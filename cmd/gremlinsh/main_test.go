package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/protocol"
	"github.com/duckofyork/tinkerpop/testutils"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, conf.DefaultEndpoint, cfg.Client.Endpoint)
	require.Equal(t, conf.DefaultPoolSize, cfg.Client.PoolSize)
	require.Equal(t, conf.PoolPolicyLeastPending, cfg.Client.PoolPolicy)
	require.Equal(t, 5*time.Second, cfg.Client.ConnectionTimeout)
	require.Equal(t, "", cfg.Command)
	require.Equal(t, "", cfg.MetricsBind)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gremlinsh.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint = "ws://graph.example.com:8182/gremlin"
pool-size = 2
traversal-source = "gmodern"
tls-enabled = true
`), 0o600))
	cfg, err := loadConfig([]string{"--config", path, "--pool-policy", "round-robin"})
	require.NoError(t, err)
	require.Equal(t, "ws://graph.example.com:8182/gremlin", cfg.Client.Endpoint)
	require.Equal(t, 2, cfg.Client.PoolSize)
	require.Equal(t, "gmodern", cfg.Client.TraversalSource)
	require.True(t, cfg.Client.TLS.Enabled)
	require.Equal(t, conf.PoolPolicyRoundRobin, cfg.Client.PoolPolicy)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig([]string{"--pool-policy", "random"})
	require.Error(t, err)
	_, err = loadConfig([]string{"--log-level", "loud"})
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	fake := testutils.NewFakeServer(conf.DefaultSerializerVersion, testutils.ItemsResponder(testutils.Items(3), 0))
	server := fake.StartWebSocket(t)
	err := run([]string{"--endpoint", server.Address(), "--command", "g.V()", "--metrics-bind", "127.0.0.1:0"})
	require.NoError(t, err)
	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	script, _ := reqs[0].Request.Arg(protocol.ArgGremlin)
	require.Equal(t, "g.V()", script)
}

func TestRunCommandDebugGoroutines(t *testing.T) {
	defer common.SetGRDebug(false)
	fake := testutils.NewFakeServer(conf.DefaultSerializerVersion, testutils.ItemsResponder(testutils.Items(1), 0))
	server := fake.StartWebSocket(t)
	cfg, err := loadConfig([]string{"--debug-goroutines"})
	require.NoError(t, err)
	require.True(t, cfg.DebugGoroutines)
	err = run([]string{"--endpoint", server.Address(), "--command", "g.V()", "--debug-goroutines"})
	require.NoError(t, err)
	// The client is stopped before run returns, so none of its goroutines are left
	require.Eventually(t, func() bool {
		leaked := false
		common.GRStacks.Range(func(_, stack any) bool {
			leaked = strings.HasPrefix(stack.(string), "connection-")
			return !leaked
		})
		return !leaked
	}, 5*time.Second, 10*time.Millisecond)
}
