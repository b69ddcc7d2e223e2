package pql

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql/tabular"
)

// ResultTableName is the table that holds source i's value in aggregate
// queries.
func ResultTableName(i int) string {
	return fmt.Sprintf("result_%d", i)
}

func aggregate(ctx context.Context, agg *Aggregate, finals []Value) (Value, error) {
	switch agg.Method {
	case AggregateMean, AggregateMedian, AggregateMax, AggregateMin:
		nums := make([]decimal.Decimal, len(finals))
		approx := false
		for i, v := range finals {
			d, err := ToDecimal(v)
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
			nums[i] = d
			if n, ok := v.(Number); ok && n.Approx {
				approx = true
			}
		}
		out, err := statistic(agg.Method, nums)
		if err != nil {
			return nil, err
		}
		return Number{Dec: out, Approx: approx}, nil
	case AggregateQuerySQL:
		return aggregateQuery(ctx, agg, finals)
	default:
		return nil, apperrors.MethodNotFound("aggregate method %q not found", string(agg.Method))
	}
}

func statistic(method AggregateMethod, nums []decimal.Decimal) (decimal.Decimal, error) {
	if len(nums) == 0 {
		return decimal.Zero, apperrors.Argument("nothing to aggregate")
	}
	switch method {
	case AggregateMean:
		return decimal.Sum(nums[0], nums[1:]...).DivRound(decimal.NewFromInt(int64(len(nums))), divisionPlaces), nil
	case AggregateMedian:
		sorted := append([]decimal.Decimal(nil), nums...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].LessThan(sorted[b]) })
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], nil
		}
		return sorted[mid-1].Add(sorted[mid]).DivRound(decimal.NewFromInt(2), divisionPlaces), nil
	case AggregateMax:
		return decimal.Max(nums[0], nums[1:]...), nil
	case AggregateMin:
		return decimal.Min(nums[0], nums[1:]...), nil
	}
	return decimal.Zero, apperrors.MethodNotFound("aggregate method %q not found", string(method))
}

func aggregateQuery(ctx context.Context, agg *Aggregate, finals []Value) (Value, error) {
	if len(agg.Params) != len(finals) {
		return nil, apperrors.Argument("aggregate query.sql needs one parser per source: got %d parsers for %d sources", len(agg.Params), len(finals))
	}
	tables := make(map[string]*tabular.Table, len(finals))
	for i, v := range finals {
		parser := tabular.ParserNone
		if agg.Params[i] != nil {
			parser = tabular.Parser(*agg.Params[i])
		}
		tbl, err := tabular.Convert(v.Native(), parser)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		tables[ResultTableName(i)] = tbl
	}
	return runQuery(ctx, tables, agg.Query, agg.Result)
}
