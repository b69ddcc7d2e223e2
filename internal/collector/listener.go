package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Listener watches one chain and hands every Request event to dispatch. Run
// returns when ctx is cancelled or the connection fails.
type Listener interface {
	Run(ctx context.Context, dispatch func(chain.Request)) error
}

// ListenerFactory builds the listener for a chain.
type ListenerFactory func(c chain.Chain, poll time.Duration, log *logger.Logger) (Listener, error)

// DefaultListeners picks the listener matching the chain variant.
func DefaultListeners(c chain.Chain, poll time.Duration, log *logger.Logger) (Listener, error) {
	switch v := c.(type) {
	case *chain.EVM:
		return &EVMListener{chain: v, poll: poll, log: log}, nil
	case *chain.Substrate:
		return &SubstrateListener{chain: v, poll: poll, log: log}, nil
	default:
		return nil, fmt.Errorf("no listener for chain %s of type %s", c.Name(), c.Type())
	}
}

// EVMListener polls one log filter per tracked contract. The first connect
// starts at the head block; later reconnects resume where scanning stopped.
// Run must not be called concurrently.
type EVMListener struct {
	chain *chain.EVM
	poll  time.Duration
	log   *logger.Logger

	// next block to scan, per checksummed contract address
	next map[string]uint64
}

func (l *EVMListener) Run(ctx context.Context, dispatch func(chain.Request)) error {
	client, err := l.chain.Connect(ctx, true)
	if err != nil {
		return err
	}
	defer client.Close()
	if l.next == nil {
		l.next = make(map[string]uint64)
	}

	contracts := l.chain.TrackedContracts()
	filters := make([]*chain.LogFilter, 0, len(contracts))
	for _, addr := range contracts {
		var f *chain.LogFilter
		if next, ok := l.next[addr]; ok {
			f, err = l.chain.LogFilterFrom(addr, next)
		} else {
			f, err = l.chain.NewLogFilter(ctx, client, addr)
		}
		if err != nil {
			return err
		}
		l.next[addr] = f.Next()
		filters = append(filters, f)
		l.log.WithField("contract", addr).WithField("from_block", f.Next()).Info("listening for Request events")
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, f := range filters {
			entries, err := f.NewEntries(ctx, client)
			if err != nil {
				return err
			}
			for _, req := range entries {
				l.log.WithField("contract", f.Contract()).
					WithField("request_id", req.ID()).
					WithField("block", req.Block).
					Info("request found")
				dispatch(req)
			}
			l.next[f.Contract()] = f.Next()
		}
	}
}

// SubstrateListener walks blocks from the finalized head onwards and scans
// each one for Request events of tracked contracts. The cursor survives
// reconnects. Run must not be called concurrently.
type SubstrateListener struct {
	chain *chain.Substrate
	poll  time.Duration
	log   *logger.Logger

	cursor  uint64
	started bool
}

func (l *SubstrateListener) Run(ctx context.Context, dispatch func(chain.Request)) error {
	client, err := l.chain.Connect(ctx, true)
	if err != nil {
		return err
	}
	l.chain.CheckContracts(ctx)

	if !l.started {
		head, err := client.FinalizedNumber(ctx)
		if err != nil {
			return fmt.Errorf("finalized head: %w", err)
		}
		l.cursor, l.started = head, true
	}
	l.log.WithField("block", l.cursor).Info("listening for Request events")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, ok, err := client.BlockHash(ctx, l.cursor)
		if err != nil {
			return fmt.Errorf("block hash %d: %w", l.cursor, err)
		}
		if !ok {
			if err := sleepContext(ctx, l.poll); err != nil {
				return err
			}
			continue
		}

		reqs, err := l.chain.BlockEvents(ctx, hash)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			req.Block = l.cursor
			l.log.WithField("contract", req.Contract).
				WithField("request_id", req.ID()).
				WithField("block", l.cursor).
				Info("request found")
			dispatch(req)
		}
		l.cursor++
	}
}
