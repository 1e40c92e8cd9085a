package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/engine"
	"github.com/blockberries/promiseberry/transport"
	"github.com/blockberries/promiseberry/types"
)

func engineOracleRecorder(log *transport.EventLog) []engine.Option {
	return []engine.Option{engine.WithOracle(log), engine.WithRecorder(log)}
}

func testConfig(origin string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Node.Origin = origin
	cfg.Store.Backend = "memory"
	cfg.Store.Path = ""
	return cfg
}

func TestNodeStartStop(t *testing.T) {
	n, err := New(testConfig("chain-a"))
	require.NoError(t, err)

	assert.False(t, n.IsRunning())
	require.NoError(t, n.Start())
	assert.True(t, n.IsRunning())

	assert.Equal(t, ErrAlreadyStarted, n.Start())

	require.NoError(t, n.Stop())
	assert.False(t, n.IsRunning())
	assert.Equal(t, ErrNotStarted, n.Stop())
}

func TestNodeInvalidConfig(t *testing.T) {
	cfg := testConfig("chain-a")
	cfg.Node.Origin = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNodeEndToEnd(t *testing.T) {
	cfgA := testConfig("chain-a")
	cfgA.Node.Principal = "engine-a"
	cfgA.Node.TrustedPeers = map[string]string{"chain-b": "engine-b"}

	cfgB := testConfig("chain-b")
	cfgB.Node.Principal = "engine-b"
	cfgB.Node.TrustedPeers = map[string]string{"chain-a": "engine-a"}

	net := transport.NewNetwork()
	log := net.EventLog()

	a, err := New(cfgA, engineOracleRecorder(log)...)
	require.NoError(t, err)
	b, err := New(cfgB, engineOracleRecorder(log)...)
	require.NoError(t, err)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Stop()
	defer b.Stop()

	a.BindTransport(net.Join("chain-a", "engine-a"))
	b.BindTransport(net.Join("chain-b", "engine-b"))

	resolver := types.Principal("0xresolver")
	id, err := a.Engine().Create(resolver)
	require.NoError(t, err)
	require.NoError(t, b.Engine().MaterializePromise(id, resolver, 1))

	require.NoError(t, a.Engine().Resolve(id, resolver, []byte("hello b")))
	require.NoError(t, a.Engine().RelaySettlement(id, "chain-b"))

	value, err := b.Engine().Value(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello b"), value)
}
