// Package chainclient wraps the RPC connection to the chain and the funding
// account used to disburse gas token transfers.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/metrics"
)

// nativeTransferGasLimit is the fixed gas cost of a plain value transfer
const nativeTransferGasLimit = 21000

// Client contains the RPC client and signing state for the funding account
type Client struct {
	Network       string
	RPCURL        string
	MaxGasPrice   *big.Int
	GasMultiplier float64
	Client        *ethclient.Client

	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  logger.Logger
}

// New connects to the chain and prepares the funding account signer
func New(ctx context.Context, network, rpcURL, privateKeyHex string, gasMultiplier float64, maxGasPrice *big.Int, log logger.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %v", err)
	}

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	client := &Client{
		Network:       network,
		RPCURL:        rpcURL,
		MaxGasPrice:   maxGasPrice,
		GasMultiplier: gasMultiplier,
		Client:        ethClient,
		chainID:       chainID,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
	}
	client.logger = log

	log.InfoWithNetwork(network, "Connected to %s (chain id %s), funding account %s",
		rpcURL, chainID.String(), client.from.Hex())

	return client, nil
}

// FundingAddress returns the address disbursements are sent from
func (c *Client) FundingAddress() common.Address {
	return c.from
}

// EffectiveGasPrice returns the network's suggested gas price with the
// configured multiplier applied
func (c *Client) EffectiveGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	return finalGasPrice, nil
}

// IsWithinMax reports whether the gas price is under the configured cap
func (c *Client) IsWithinMax(gasPrice *big.Int) bool {
	if c.MaxGasPrice == nil || c.MaxGasPrice.Sign() == 0 {
		return true
	}
	return gasPrice.Cmp(c.MaxGasPrice) <= 0
}

// Transfer submits a native token transfer from the funding account. The
// caller is responsible for serializing calls; the pending nonce is read
// fresh for each submission.
func (c *Client) Transfer(ctx context.Context, to common.Address, amountWei *big.Int) (*types.Transaction, error) {
	nonce, err := c.Client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %v", err)
	}

	gasPrice, err := c.EffectiveGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if !c.IsWithinMax(gasPrice) {
		return nil, fmt.Errorf("gas price too high: %s > %s", gasPrice.String(), c.MaxGasPrice.String())
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.Set(gwei)

	tx := types.NewTransaction(nonce, to, amountWei, nativeTransferGasLimit, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}

	if err := c.Client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %v", err)
	}

	c.logger.InfoWithNetwork(c.Network, "Submitted transfer %s to %s (nonce: %d, gas price: %s)",
		signedTx.Hash().Hex(), to.Hex(), nonce, gasPrice.String())

	return signedTx, nil
}

// WaitMined blocks until the transaction is mined or ctx expires
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.Client, tx)
}

// TransactionReceipt looks up the receipt for a submitted transaction. Used
// by the reconciliation pass for transfers whose confirmation wait timed out.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.Client.TransactionReceipt(ctx, txHash)
}

// BalanceAt returns the native balance of an address in wei
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.Client.BalanceAt(ctx, addr, nil)
}

// Close releases the underlying RPC connection
func (c *Client) Close() {
	c.Client.Close()
}
