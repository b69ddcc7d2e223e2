package custom

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
)

func constant(v interface{}) pql.Extractor {
	return pql.ExtractorFunc(func(context.Context, pql.Step) (pql.Value, error) {
		return pql.FromJSON(v), nil
	})
}

func run(t *testing.T, reg *pql.Registry, extracted interface{}, customStep string) (string, error) {
	t.Helper()
	p, err := pql.NewParser(pql.WithRegistry(reg), pql.WithExtractor("http", constant(extracted)))
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	doc := fmt.Sprintf(`{
		"name": "custom", "psql_version": "0.1",
		"sources": [{"name": "s", "pipeline": [
			{"step": "extract", "method": "http.get", "uri": "https://example.com"},
			%s
		]}]
	}`, customStep)
	v, err := p.Execute(context.Background(), []byte(doc))
	if err != nil {
		return "", err
	}
	return pql.Format(v)
}

func TestMyAdd(t *testing.T) {
	reg, err := FromConfig(nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	out, err := run(t, reg, int64(25000), `{"step": "custom.my_add", "params": 10000}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "35000" {
		t.Fatalf("result = %s, want 35000", out)
	}
}

func TestMyAddRejectsMissingParams(t *testing.T) {
	reg, _ := FromConfig(nil)
	_, err := run(t, reg, int64(1), `{"step": "custom.my_add"}`)
	if !apperrors.HasCode(err, apperrors.CodePqlValidation) {
		t.Fatalf("expected PqlValidationError, got %v", err)
	}
}

func TestScriptStep(t *testing.T) {
	reg, err := FromConfig([]config.CustomStepConfig{{
		Identifier: "custom.spread",
		Language:   "js",
		Source:     `function run(input, params) { return input * params.factor + params.offset; }`,
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	out, err := run(t, reg, int64(100), `{"step": "custom.spread", "params": {"factor": 2, "offset": 0.5}}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "200.5" {
		t.Fatalf("result = %s, want 200.5", out)
	}
}

func TestScriptStepReturnsObject(t *testing.T) {
	reg, err := FromConfig([]config.CustomStepConfig{{
		Identifier: "custom.wrap",
		Language:   "js",
		Source:     `function run(input) { return {price: input.bitcoin.usd}; }`,
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	out, err := run(t, reg, map[string]interface{}{"bitcoin": map[string]interface{}{"usd": int64(25000)}}, `{"step": "custom.wrap"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != `{"price":25000}` {
		t.Fatalf("result = %s", out)
	}
}

func TestScriptStepTimeout(t *testing.T) {
	reg, err := FromConfig([]config.CustomStepConfig{{
		Identifier: "custom.spin",
		Language:   "js",
		Source:     `function run() { for (;;) {} }`,
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	_, err = run(t, reg, int64(1), `{"step": "custom.spin"}`)
	if err == nil || !strings.Contains(err.Error(), "execution timeout") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestScriptWithoutEntryPoint(t *testing.T) {
	reg, err := FromConfig([]config.CustomStepConfig{{
		Identifier: "custom.empty",
		Language:   "js",
		Source:     `var x = 1;`,
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	_, err = run(t, reg, int64(1), `{"step": "custom.empty"}`)
	if !apperrors.HasCode(err, apperrors.CodeCustomNotImplemented) {
		t.Fatalf("expected CustomMethodNotImplemented, got %v", err)
	}
}

func TestExpressionStep(t *testing.T) {
	reg, err := FromConfig([]config.CustomStepConfig{{
		Identifier: "custom.clamp",
		Language:   "expr",
		Source:     `input > params ? params : input`,
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	out, err := run(t, reg, int64(30000), `{"step": "custom.clamp", "params": 27000}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "27000" {
		t.Fatalf("result = %s, want 27000", out)
	}
}

func TestFromConfigErrors(t *testing.T) {
	cases := []config.CustomStepConfig{
		{Identifier: "custom.bad", Language: "js", Source: `function run( {`},
		{Identifier: "custom.bad", Language: "expr", Source: `1 +`},
		{Identifier: "custom.bad", Language: "lua", Source: `return 1`},
		{Identifier: MyAddID, Language: "expr", Source: `1`},
	}
	for _, c := range cases {
		if _, err := FromConfig([]config.CustomStepConfig{c}); err == nil {
			t.Errorf("FromConfig(%+v) succeeded", c)
		}
	}
}
