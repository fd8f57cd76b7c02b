package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNotFound is returned by TransactionByHash when the node no longer knows
	// the transaction (typically mined and pruned from the pending set).
	ErrNotFound = errors.New("transaction not found")
	// ErrUndecodable wraps node answers that are not a transaction this client
	// understands, such as a transaction type newer than the library.
	ErrUndecodable = errors.New("undecodable transaction")
)

// Client is the subset of the Ethereum JSON-RPC API the monitor relies on.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PendingTransactionHashes(ctx context.Context) ([]common.Hash, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Close()
}

// Transaction is a transaction body together with the sender reported by the node.
type Transaction struct {
	Tx   *types.Transaction
	From common.Address
}

// Conn talks to a single endpoint.
type Conn struct {
	url string
	rc  *rpc.Client
	ec  *ethclient.Client
}

var _ Client = (*Conn)(nil)

func Dial(ctx context.Context, url string) (*Conn, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(url, rc), nil
}

// NewConn wraps an already established rpc client.
func NewConn(url string, rc *rpc.Client) *Conn {
	return &Conn{url: url, rc: rc, ec: ethclient.NewClient(rc)}
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *Conn) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

type pendingBlock struct {
	Transactions []struct {
		Hash common.Hash `json:"hash"`
	} `json:"transactions"`
}

// PendingTransactionHashes returns the hashes of the "pending" block in the
// order the node lists them. A node without a pending block yields nil.
func (c *Conn) PendingTransactionHashes(ctx context.Context) ([]common.Hash, error) {
	var raw json.RawMessage
	if err := c.rc.CallContext(ctx, &raw, "eth_getBlockByNumber", "pending", true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var blk pendingBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return nil, fmt.Errorf("decode pending block: %w", err)
	}

	out := make([]common.Hash, 0, len(blk.Transactions))
	for _, tx := range blk.Transactions {
		out = append(out, tx.Hash)
	}
	return out, nil
}

func (c *Conn) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var raw json.RawMessage
	if err := c.rc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNotFound
	}

	var body struct {
		From *common.Address `json:"from,omitempty"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUndecodable, hash.Hex(), err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUndecodable, hash.Hex(), err)
	}

	out := &Transaction{Tx: tx}
	if body.From != nil {
		out.From = *body.From
	}
	return out, nil
}

func (c *Conn) Close() {
	c.rc.Close()
}
