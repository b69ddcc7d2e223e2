// Package handlers implements the extract step families: http.*, sql.* and
// eth.*.
package handlers

import (
	"strings"
	"time"

	"github.com/paralink-network/paralink-node/internal/config"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Options returns the parser options installing every extract family.
func Options(eth config.EthereumConfig, timeout time.Duration, log *logger.Logger) []pql.Option {
	if log == nil {
		log = logger.NewDefault("pql-handlers")
	}
	return []pql.Option{
		pql.WithExtractor("http", NewHTTP(timeout, log)),
		pql.WithExtractor("sql", NewSQL(DefaultBackends(), log)),
		pql.WithExtractor("eth", NewEth(EthConfig{
			ProviderURL:      eth.ProviderURL,
			EtherscanURL:     eth.EtherscanURL,
			EtherscanKey:     eth.EtherscanKey,
			NumConfirmations: eth.NumConfirmations,
		}, log)),
	}
}

// methodName returns the part after the family prefix ("http.get" → "get").
func methodName(method string) string {
	if dot := strings.IndexByte(method, '.'); dot >= 0 {
		return method[dot+1:]
	}
	return method
}
