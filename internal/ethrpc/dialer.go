package ethrpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoRPCURL indicates the dialer was constructed without an endpoint.
var ErrNoRPCURL = errors.New("ethereum rpc url not configured")

// Options parameterise RPC connectivity.
type Options struct {
	RPCURL  string
	Timeout time.Duration
}

// Dialer lazily establishes and shares a single eth RPC client.
type Dialer struct {
	opts   Options
	mu     sync.Mutex
	client *ethclient.Client
}

// NewDialer builds a Dialer. The connection is established on first use.
func NewDialer(opts Options) *Dialer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dialer{opts: opts}
}

// Client returns the shared RPC client, dialling on first call.
func (d *Dialer) Client(ctx context.Context) (*ethclient.Client, error) {
	if d.opts.RPCURL == "" {
		return nil, ErrNoRPCURL
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	client, err := ethclient.DialContext(ctx, d.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	d.client = client
	return client, nil
}

// CallContext derives a per-request context bounded by the configured timeout.
func (d *Dialer) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opts.Timeout)
}

// Close tears down the underlying connection, if one was established.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
}
