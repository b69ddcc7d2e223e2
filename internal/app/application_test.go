package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/collector"
	"github.com/paralink-network/paralink-node/internal/config"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// idleListener waits for cancellation without touching the network.
type idleListener struct{}

func (idleListener) Run(ctx context.Context, _ func(chain.Request)) error {
	<-ctx.Done()
	return ctx.Err()
}

func idleListeners(chain.Chain, time.Duration, *logger.Logger) (collector.Listener, error) {
	return idleListener{}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Collector.ReconcileSchedule = ""
	cfg.Chains = []config.ChainConfig{{
		Name:             "hardhat",
		Type:             "evm",
		URL:              "http://127.0.0.1:8545",
		Active:           true,
		TrackedContracts: []string{"0x5FbDB2315678afecb367f032d93F642f64180aa3"},
	}}
	cfg.CustomSteps = []config.CustomStepConfig{{
		Identifier: "custom.double",
		Language:   "expr",
		Source:     "input * 2",
	}}
	return cfg
}

func TestApplicationServesPQL(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":27000}}`))
	}))
	defer api.Close()

	a, err := New(context.Background(), testConfig(), Overrides{Listeners: idleListeners}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))
	}()

	doc := `{"name":"btc","psql_version":"0.1","sources":[{"name":"gecko","pipeline":[` +
		`{"step":"extract","method":"http.get","uri":"` + api.URL + `"},` +
		`{"step":"traverse","method":"json","params":["bitcoin","usd"]}]}]}`
	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "execute_pql", "params": []string{doc},
	})
	resp, err := http.Post("http://"+a.RPC.Addr()+"/rpc", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Nil(t, out.Error)
	assert.Equal(t, "27000", out.Result)

	require.Eventually(t, func() bool {
		st := a.Collector.Status()
		return len(st) == 1 && st[0].Name == "hardhat" && st[0].Running
	}, time.Second, 10*time.Millisecond)
}

func TestApplicationWithoutCollector(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.Enabled = false

	a, err := New(context.Background(), cfg, Overrides{}, nil)
	require.NoError(t, err)
	assert.Nil(t, a.Collector)
	assert.NotNil(t, a.RPC)
}

func TestApplicationRejectsBadCustomStep(t *testing.T) {
	cfg := testConfig()
	cfg.CustomSteps[0].Source = "input *"

	_, err := New(context.Background(), cfg, Overrides{}, nil)
	assert.Error(t, err)
}
