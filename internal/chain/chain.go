// Package chain talks to the credential NFT contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"semaphore/credentials/internal/model"
)

const contractABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"},{"name":"documentHash","type":"bytes32"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"revoke","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"isRevoked","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getDocumentHash","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	ErrNoTransfer = errors.New("mint receipt has no transfer event")
	ErrTxFailed   = errors.New("transaction reverted")
	ErrBadAddress = errors.New("invalid address")
	ErrBadTokenID = errors.New("invalid token id")
)

// Contract is the credential contract as the mint coordinator sees it.
type Contract interface {
	Mint(ctx context.Context, recipient, tokenURI string, documentHash [32]byte) (model.ChainRecord, error)
	Revoke(ctx context.Context, tokenID, reason string) (string, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	GetDocumentHash(ctx context.Context, tokenID string) ([32]byte, error)
}

type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKey      string
	DialTimeout     time.Duration
}

type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	nonces   *nonces
}

// nonces hands out sequential nonces for the minter account. Workers share one
// key, so the counter lives here instead of being read per send. It is loaded
// from the pending nonce on first use and again after any failed send.
type nonces struct {
	mu      sync.Mutex
	pending func(ctx context.Context) (uint64, error)
	next    uint64
	synced  bool
}

// send runs fn with the next nonce while holding the lock.
func (n *nonces) send(ctx context.Context, fn func(nonce uint64) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced {
		next, err := n.pending(ctx)
		if err != nil {
			return fmt.Errorf("pending nonce: %w", err)
		}
		n.next, n.synced = next, true
	}
	if err := fn(n.next); err != nil {
		n.synced = false
		return err
	}
	n.next++
	return nil
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("contract address %q: %w", cfg.ContractAddress, ErrBadAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("minter key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = eth.ChainID(dialCtx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
	}
	address := common.HexToAddress(cfg.ContractAddress)
	minter := crypto.PubkeyToAddress(key.PublicKey)
	pending := func(ctx context.Context) (uint64, error) {
		return eth.PendingNonceAt(ctx, minter)
	}
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(address, parsed, eth, eth, eth),
		address:  address,
		chainID:  chainID,
		key:      key,
		nonces:   &nonces{pending: pending},
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// transact signs and sends one contract call with a nonce from the shared
// counter. Only the send is serialized; waiting for the receipt is not.
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	var tx *types.Transaction
	err := c.nonces.send(ctx, func(nonce uint64) error {
		opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
		if err != nil {
			return err
		}
		opts.Context = ctx
		opts.Nonce = new(big.Int).SetUint64(nonce)
		tx, err = c.contract.Transact(opts, method, args...)
		return err
	})
	return tx, err
}

// Mint sends the mint transaction and waits for it to be mined. The token id
// comes from the Transfer event the contract emits.
func (c *Client) Mint(ctx context.Context, recipient, tokenURI string, documentHash [32]byte) (model.ChainRecord, error) {
	if !common.IsHexAddress(recipient) {
		return model.ChainRecord{}, fmt.Errorf("recipient %q: %w", recipient, ErrBadAddress)
	}
	tx, err := c.transact(ctx, "mint", common.HexToAddress(recipient), tokenURI, documentHash)
	if err != nil {
		return model.ChainRecord{}, fmt.Errorf("send mint: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return model.ChainRecord{}, fmt.Errorf("wait mint %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.ChainRecord{}, fmt.Errorf("mint %s: %w", tx.Hash().Hex(), ErrTxFailed)
	}
	tokenID, err := TokenIDFromReceipt(receipt, c.address)
	if err != nil {
		return model.ChainRecord{}, fmt.Errorf("mint %s: %w", tx.Hash().Hex(), err)
	}
	return model.ChainRecord{
		TokenID:         tokenID,
		ContractAddress: c.address.Hex(),
		TxHash:          receipt.TxHash.Hex(),
		BlockNumber:     receipt.BlockNumber.Uint64(),
		ChainID:         c.chainID.Int64(),
	}, nil
}

// TokenIDFromReceipt finds the token minted by contract in receipt: the
// Transfer log whose sender is the zero address.
func TokenIDFromReceipt(receipt *types.Receipt, contract common.Address) (string, error) {
	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) != 4 || log.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) != (common.Address{}) {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[3].Bytes()).String(), nil
	}
	return "", ErrNoTransfer
}

func parseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%q: %w", tokenID, ErrBadTokenID)
	}
	return id, nil
}

// Revoke marks the token revoked on chain and returns the transaction hash once
// mined.
func (c *Client) Revoke(ctx context.Context, tokenID, reason string) (string, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	tx, err := c.transact(ctx, "revoke", id, reason)
	if err != nil {
		return "", fmt.Errorf("send revoke: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return "", fmt.Errorf("wait revoke %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("revoke %s: %w", tx.Hash().Hex(), ErrTxFailed)
	}
	return receipt.TxHash.Hex(), nil
}

func (c *Client) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return false, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isRevoked", id); err != nil {
		return false, fmt.Errorf("call isRevoked: %w", err)
	}
	revoked, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isRevoked returned %T", out[0])
	}
	return revoked, nil
}

func (c *Client) GetDocumentHash(ctx context.Context, tokenID string) ([32]byte, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return [32]byte{}, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getDocumentHash", id); err != nil {
		return [32]byte{}, fmt.Errorf("call getDocumentHash: %w", err)
	}
	hash, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("getDocumentHash returned %T", out[0])
	}
	return hash, nil
}
