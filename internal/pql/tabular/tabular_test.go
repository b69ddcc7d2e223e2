package tabular

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestFromJSONFlattensNestedKeys(t *testing.T) {
	tbl, err := FromJSON(decode(t, `{"bitcoin":{"usd":27000,"eur":22000.5},"ok":true}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	want := []string{"bitcoin.eur", "bitcoin.usd", "ok"}
	if strings.Join(tbl.Columns, ",") != strings.Join(want, ",") {
		t.Fatalf("columns = %v, want %v", tbl.Columns, want)
	}
	if tbl.Len() != 1 {
		t.Fatalf("rows = %d, want 1", tbl.Len())
	}
	if tbl.Rows[0][0] != 22000.5 || tbl.Rows[0][1] != int64(27000) || tbl.Rows[0][2] != true {
		t.Fatalf("row = %v", tbl.Rows[0])
	}
}

func TestFromJSONListOfObjects(t *testing.T) {
	tbl, err := FromJSON(decode(t, `[{"a":1},{"a":2,"b":"x"}]`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if tbl.Len() != 2 || len(tbl.Columns) != 2 {
		t.Fatalf("table = %+v", tbl)
	}
	if tbl.Rows[0][1] != nil {
		t.Fatalf("missing key should be nil, got %v", tbl.Rows[0][1])
	}
}

func TestFromJSONRejectsScalars(t *testing.T) {
	if _, err := FromJSON(decode(t, `12`)); err == nil {
		t.Fatal("expected error for scalar input")
	}
	if _, err := FromJSON(decode(t, `[1,2]`)); err == nil {
		t.Fatal("expected error for list of scalars")
	}
}

func TestFromListSingleRow(t *testing.T) {
	tbl, err := FromList(decode(t, `[23153, 6.6, 25000, {"n":1}]`))
	if err != nil {
		t.Fatalf("FromList: %v", err)
	}
	if strings.Join(tbl.Columns, ",") != "0,1,2,3" {
		t.Fatalf("columns = %v", tbl.Columns)
	}
	if tbl.Rows[0][2] != int64(25000) {
		t.Fatalf("cell 2 = %v", tbl.Rows[0][2])
	}
	if tbl.Rows[0][3] != `{"n":1}` {
		t.Fatalf("nested cell = %v", tbl.Rows[0][3])
	}
}

func TestFromDictColumnar(t *testing.T) {
	tbl, err := FromDict(decode(t, `{"price":[1,2,3],"venue":["a","b","c"]}`))
	if err != nil {
		t.Fatalf("FromDict: %v", err)
	}
	if tbl.Len() != 3 || tbl.Rows[2][1] != "c" {
		t.Fatalf("table = %+v", tbl)
	}

	if _, err := FromDict(decode(t, `{"price":[1,2],"venue":["a"]}`)); err == nil {
		t.Fatal("expected ragged column error")
	}
}

func TestConvertWrapsParseErrors(t *testing.T) {
	_, err := Convert(decode(t, `"text"`), ParserJSON)
	if !apperrors.HasCode(err, apperrors.CodeParseData) {
		t.Fatalf("err = %v, want ParseDataError", err)
	}
	_, err = Convert(decode(t, `{"a":1}`), ParserNone)
	if !apperrors.HasCode(err, apperrors.CodeParseData) {
		t.Fatalf("pass-through of non-table: err = %v, want ParseDataError", err)
	}
	_, err = Convert(decode(t, `{"a":1}`), Parser("yaml"))
	if !apperrors.HasCode(err, apperrors.CodeParseData) {
		t.Fatalf("unknown parser: err = %v, want ParseDataError", err)
	}
}

func TestQueryUnionAverage(t *testing.T) {
	ctx := context.Background()
	r0, _ := FromJSON(decode(t, `{"bitcoin":{"usd":27000}}`))
	r1, _ := FromList(decode(t, `[23153, 6.66, 23160, 15.07, -562.87, -0.02, 25000, 16378.9, 24244, 21884]`))
	r2, _ := FromJSON(decode(t, `{"bpi":{"USD":{"rate_float":20000,"code":"USD"}}}`))

	out, err := Query(ctx, map[string]*Table{"result_0": r0, "result_1": r1, "result_2": r2},
		"SELECT AVG(price) FROM (SELECT `bitcoin.usd` AS price FROM result_0 UNION SELECT `6` AS price FROM result_1 UNION SELECT `bpi.USD.rate_float` AS price FROM result_2)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	v, err := out.Scalar()
	if err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if v != float64(24000) {
		t.Fatalf("avg = %v (%T), want 24000.0", v, v)
	}
}

func TestQueryWithAlias(t *testing.T) {
	data, _ := FromJSON(decode(t, `[{"p":1},{"p":3}]`))
	out, err := Query(context.Background(), map[string]*Table{"data": data}, "SELECT SUM(p) AS total FROM response", WithAlias("response", "data"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out.Columns[0] != "total" || out.Rows[0][0] != int64(4) {
		t.Fatalf("result = %+v", out)
	}
}

func TestQueryUserError(t *testing.T) {
	_, err := Query(context.Background(), map[string]*Table{"data": New("a")}, "SELEC nonsense")
	if !apperrors.HasCode(err, apperrors.CodeUserQuery) {
		t.Fatalf("err = %v, want UserQueryError", err)
	}
}

func TestTableMarshalJSONKeepsColumnOrder(t *testing.T) {
	tbl := New("z", "a")
	tbl.Append(int64(1), "x")
	raw, err := json.Marshal(tbl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `[{"z":1,"a":"x"}]` {
		t.Fatalf("json = %s", raw)
	}
}
