package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralink-network/paralink-node/internal/collector"
	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/ipfs"
	"github.com/paralink-network/paralink-node/internal/middleware"
	"github.com/paralink-network/paralink-node/internal/pql"
)

const adminSecret = "admin-secret"

type stubExecutor struct {
	mu   sync.Mutex
	docs []string
}

func (e *stubExecutor) Execute(_ context.Context, raw []byte) (pql.Value, error) {
	e.mu.Lock()
	e.docs = append(e.docs, string(raw))
	e.mu.Unlock()

	var def struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, apperrors.PqlDecoding("decode pql document: %v", err)
	}
	switch def.Name {
	case "user-error":
		return nil, apperrors.UserQuery(nil, "no such column: price")
	case "crash":
		return nil, errors.New("connection pool exhausted")
	default:
		return pql.NumberFromFloat(27000.5), nil
	}
}

type stubFetcher struct {
	address string
	docs    map[string]string
}

func (f stubFetcher) Fetch(_ context.Context, cid string) ([]byte, error) {
	doc, ok := f.docs[cid]
	if !ok {
		return nil, apperrors.PqlDecoding("ipfs document %s not available: status 500", cid)
	}
	return []byte(doc), nil
}

type stubCollector struct {
	mu       sync.Mutex
	restarts []string
	all      int
}

func (c *stubCollector) Restart(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "mainnet" {
		return fmt.Errorf("%w: %s", collector.ErrUnknownChain, name)
	}
	c.restarts = append(c.restarts, name)
	return nil
}

func (c *stubCollector) RestartAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all++
	return nil
}

func (c *stubCollector) Status() []collector.ChainStatus {
	return []collector.ChainStatus{{Name: "mainnet", Active: true, Running: true, TaskID: "t-1"}}
}

type fixture struct {
	server    *Server
	exec      *stubExecutor
	collector *stubCollector
	addresses []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{exec: &stubExecutor{}, collector: &stubCollector{}}
	docs := map[string]string{
		"QmPrice": `{"name":"price","psql_version":"0.1","sources":[]}`,
	}
	s, err := NewServer(config.ServerConfig{
		Host:        "127.0.0.1",
		CORSOrigins: []string{"*"},
		AdminSecret: adminSecret,
	}, Options{
		Executor: f.exec,
		Documents: func(apiURL string) ipfs.Fetcher {
			f.addresses = append(f.addresses, apiURL)
			return stubFetcher{address: apiURL, docs: docs}
		},
		Collector: f.collector,
	})
	require.NoError(t, err)
	f.server = s
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) call(t *testing.T, body string) response {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/rpc", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func resultString(t *testing.T, resp response) string {
	t.Helper()
	require.Nil(t, resp.Error)
	var s string
	require.NoError(t, json.Unmarshal(resp.Result, &s))
	return s
}

func TestExecutePQLParamShapes(t *testing.T) {
	f := newFixture(t)
	doc := `{"name":"price","psql_version":"0.1"}`
	quoted, _ := json.Marshal(doc)

	tests := []struct {
		name   string
		params string
	}{
		{"positional string", fmt.Sprintf(`[%s]`, quoted)},
		{"positional object", fmt.Sprintf(`[%s]`, doc)},
		{"named string", fmt.Sprintf(`{"pql_json":%s}`, quoted)},
		{"named object", fmt.Sprintf(`{"pql_json":%s}`, doc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.call(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":"execute_pql","params":%s}`, tt.params))
			assert.Equal(t, "27000.5", resultString(t, resp))
			assert.JSONEq(t, `7`, string(resp.ID))
		})
	}

	for _, got := range f.exec.docs {
		assert.JSONEq(t, doc, got)
	}
}

func TestExecutePQLErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code apperrors.ErrorCode
	}{
		{"service error keeps its code", `{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":[{"name":"user-error"}]}`, apperrors.CodeUserQuery},
		{"unexpected error is internal", `{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":[{"name":"crash"}]}`, apperrors.CodeInternal},
		{"invalid document string", `{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":["{not json"]}`, apperrors.CodePqlDecoding},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"execute_pql"}`, apperrors.CodeInvalidParams},
		{"wrong arity", `{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":[1,2]}`, apperrors.CodeInvalidParams},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"execute_sql","params":[]}`, apperrors.CodeRPCMethod},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"execute_pql","params":[]}`, apperrors.CodeInvalidRequest},
		{"parse error", `{"jsonrpc":`, apperrors.CodeParseRequest},
		{"empty batch", `[]`, apperrors.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.call(t, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, int(tt.code), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":[{"name":"crash"}]}`)
	assert.Equal(t, "internal error", resp.Error.Message, "internal details must not leak")
}

func TestBatchAndNotifications(t *testing.T) {
	f := newFixture(t)
	body := `[
		{"jsonrpc":"2.0","id":"a","method":"execute_pql","params":[{"name":"price"}]},
		{"jsonrpc":"2.0","method":"execute_pql","params":[{"name":"price"}]},
		{"jsonrpc":"2.0","id":"c","method":"nope"}
	]`
	rec := f.do(t, http.MethodPost, "/rpc", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.JSONEq(t, `"a"`, string(out[0].ID))
	assert.Equal(t, "27000.5", resultString(t, out[0]))
	assert.Equal(t, int(apperrors.CodeRPCMethod), out[1].Error.Code)
	assert.Len(t, f.exec.docs, 2, "notifications still execute")

	rec = f.do(t, http.MethodPost, "/rpc", `{"jsonrpc":"2.0","method":"execute_pql","params":[{"name":"price"}]}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNullIDIsNotANotification(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, `{"jsonrpc":"2.0","id":null,"method":"execute_pql","params":[{"name":"price"}]}`)
	assert.Equal(t, "27000.5", resultString(t, resp))
}

func TestExecuteIPFS(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"execute_ipfs","params":["http://10.0.0.5:5001","QmPrice"]}`)
	assert.Equal(t, "27000.5", resultString(t, resp))

	resp = f.call(t, `{"jsonrpc":"2.0","id":2,"method":"execute_ipfs","params":{"ipfs_hash":"QmMissing","ipfs_address":"http://10.0.0.5:5001"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, int(apperrors.CodePqlDecoding), resp.Error.Code)

	resp = f.call(t, `{"jsonrpc":"2.0","id":3,"method":"execute_ipfs","params":["http://10.0.0.5:5001",5]}`)
	assert.Equal(t, int(apperrors.CodeInvalidParams), resp.Error.Code)

	assert.Equal(t, []string{"http://10.0.0.5:5001", "http://10.0.0.5:5001"}, f.addresses)
}

func TestIPFSDocumentRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ipfs/new", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tpl struct {
		PQL  pql.Definition `json:"pql"`
		Hash string         `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "New PQL definition", tpl.Hash)
	assert.Len(t, tpl.PQL.Sources, 2)

	rec = f.do(t, http.MethodGet, "/api/ipfs/QmPrice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pql":{"name":"price","psql_version":"0.1","sources":[]},"hash":"QmPrice"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/ipfs/QmMissing", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"task_id":"t-1"`)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	token, err := middleware.IssueAdminToken(adminSecret, "ops", time.Minute)
	require.NoError(t, err)
	auth := http.Header{"Authorization": []string{"Bearer " + token}}

	rec := f.do(t, http.MethodPost, "/admin/chains/mainnet/restart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/chains/mainnet/restart", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"mainnet"}, f.collector.restarts)

	rec = f.do(t, http.MethodPost, "/admin/chains/ropsten/restart", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/collectors/restart", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.collector.all)

	rec = f.do(t, http.MethodGet, "/admin/chains", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mainnet"`)
}

func TestAdminRoutesWithoutCollector(t *testing.T) {
	s, err := NewServer(config.ServerConfig{AdminSecret: adminSecret}, Options{
		Executor:  &stubExecutor{},
		Documents: func(string) ipfs.Fetcher { return stubFetcher{} },
	})
	require.NoError(t, err)
	token, err := middleware.IssueAdminToken(adminSecret, "ops", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/collectors/restart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, f.server.Stop(ctx))
	}()

	resp, err := http.Post("http://"+f.server.Addr()+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"execute_pql","params":[{"name":"price"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"result":"27000.5"`)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}
