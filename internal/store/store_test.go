package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/config"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresLoadChains(t *testing.T) {
	pg, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, type, url, active, credentials FROM chains`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "url", "active", "credentials"}).
			AddRow("mainnet", "evm", "http://eth", true, []byte(`{"private_key":"0xabc"}`)).
			AddRow("development", "substrate", "ws://dot", false, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, chain, active FROM contracts`)).
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain", "active"}).
			AddRow("0xb", "mainnet", true).
			AddRow("0xa", "mainnet", true).
			AddRow("0xc", "mainnet", false).
			AddRow("5Grw", "development", true))

	chains, err := LoadChains(context.Background(), pg)
	if err != nil {
		t.Fatalf("LoadChains() error = %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("chains = %+v", chains)
	}

	eth := chains[0]
	if eth.Type != chain.TypeEVM || !eth.Active || eth.Credentials["private_key"] != "0xabc" {
		t.Errorf("mainnet = %+v", eth)
	}
	if len(eth.TrackedContracts) != 2 || eth.TrackedContracts[0] != "0xa" || eth.TrackedContracts[1] != "0xb" {
		t.Errorf("mainnet contracts = %v", eth.TrackedContracts)
	}
	if chains[1].Active || len(chains[1].TrackedContracts) != 1 || chains[1].Credentials == nil {
		t.Errorf("development = %+v", chains[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresListContractsFiltersByChain(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, chain, active FROM contracts`)).
		WithArgs("mainnet").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain", "active"}).AddRow("0xa", "mainnet", true))

	contracts, err := pg.ListContracts(context.Background(), "mainnet")
	if err != nil {
		t.Fatalf("ListContracts() error = %v", err)
	}
	if len(contracts) != 1 || contracts[0].ID != "0xa" {
		t.Errorf("contracts = %+v", contracts)
	}
}

func TestPostgresQueryError(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectQuery("SELECT name").WillReturnError(errors.New("connection reset"))

	if _, err := LoadChains(context.Background(), pg); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStatic([]config.ChainConfig{
		{Name: "mainnet", Type: "evm", URL: "http://eth", Active: true, TrackedContracts: []string{"0x2", "0x1"}},
		{Name: "development", Type: "substrate", URL: "ws://dot"},
	})

	contracts, err := src.ListContracts(context.Background(), "development")
	if err != nil || len(contracts) != 0 {
		t.Fatalf("contracts = %+v, %v", contracts, err)
	}

	chains, err := LoadChains(context.Background(), src)
	if err != nil {
		t.Fatalf("LoadChains() error = %v", err)
	}
	if got := chains[0].TrackedContracts; len(got) != 2 || got[0] != "0x1" {
		t.Errorf("tracked = %v", got)
	}
	if chains[1].Type != chain.TypeSubstrate {
		t.Errorf("type = %s", chains[1].Type)
	}
}

func TestCredentialsScan(t *testing.T) {
	var c Credentials
	if err := c.Scan(`{"a":"b"}`); err != nil || c["a"] != "b" {
		t.Fatalf("Scan(string) = %v, %v", c, err)
	}
	if err := c.Scan(42); err == nil {
		t.Fatal("expected error for int")
	}
	v, err := Credentials(nil).Value()
	if err != nil || string(v.([]byte)) != "{}" {
		t.Fatalf("Value() = %v, %v", v, err)
	}
}
