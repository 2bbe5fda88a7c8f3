package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const simulatedChainID = 1337

type simulatedChain struct {
	backend *backends.SimulatedBackend
	client  *Client
	key     *ecdsa.PrivateKey
	from    common.Address
}

func newSimulatedChain(t *testing.T) *simulatedChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	alloc := core.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", simulatedChainID, backend, Config{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() {
		client.Close()
		_ = backend.Close()
	})
	return &simulatedChain{backend: backend, client: client, key: key, from: from}
}

func (s *simulatedChain) transfer(t *testing.T, ctx context.Context, nonce uint64, to common.Address, value *big.Int) *coretypes.Transaction {
	t.Helper()
	price, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		t.Fatalf("suggest gas price: %v", err)
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      21_000,
		GasPrice: new(big.Int).Mul(price, big.NewInt(2)),
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(big.NewInt(simulatedChainID)), s.key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return signed
}

func TestClientSendAndWaitMined(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chain := newSimulatedChain(t)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := chain.transfer(t, ctx, 0, recipient, big.NewInt(1_000))
	if err := chain.client.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}

	nonce := uint64(0)
	receipt, err := chain.client.WaitMined(ctx, web3.TxRef{Hash: tx.Hash().Hex(), From: chain.from.Hex(), Nonce: &nonce})
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if !receipt.Succeeded() || receipt.Replaced {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.GasUsed != 21_000 {
		t.Fatalf("expected 21000 gas used, got %d", receipt.GasUsed)
	}

	balance, err := chain.client.Balance(ctx, recipient.Hex(), route.NativeTokenAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected recipient balance 1000, got %s", balance)
	}

	height, err := chain.client.BlockNumber(ctx)
	if err != nil || height == 0 {
		t.Fatalf("expected advanced block height, got %d (%v)", height, err)
	}
}

func TestClientDetectsReplacement(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chain := newSimulatedChain(t)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	original := chain.transfer(t, ctx, 0, recipient, big.NewInt(1))
	replacement := chain.transfer(t, ctx, 0, recipient, big.NewInt(2))
	if original.Hash() == replacement.Hash() {
		t.Fatal("expected distinct transactions")
	}

	// Only the replacement reaches the chain.
	if err := chain.client.SendTransaction(ctx, replacement); err != nil {
		t.Fatalf("send replacement: %v", err)
	}

	nonce := uint64(0)
	receipt, err := chain.client.WaitMined(ctx, web3.TxRef{Hash: original.Hash().Hex(), From: chain.from.Hex(), Nonce: &nonce})
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if !receipt.Replaced {
		t.Fatalf("expected replacement to be reported: %+v", receipt)
	}
	if receipt.TxHash != replacement.Hash().Hex() || receipt.OriginalHash != original.Hash().Hex() {
		t.Fatalf("unexpected hashes %s / %s", receipt.TxHash, receipt.OriginalHash)
	}
}

func TestClientWaitMinedFollowsNewBlocks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chain := newSimulatedChain(t)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx := chain.transfer(t, ctx, 0, recipient, big.NewInt(3))
	// Pending until the block below is committed.
	if err := chain.backend.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		chain.backend.Commit()
	}()

	receipt, err := chain.client.WaitMined(ctx, web3.TxRef{Hash: tx.Hash().Hex()})
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if !receipt.Succeeded() || receipt.TxHash != tx.Hash().Hex() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if active := chain.client.blocks.Active(); active != 0 {
		t.Fatalf("expected block watcher to stop, %d loops active", active)
	}
}

func TestClientWaitMinedHonoursContext(t *testing.T) {
	t.Parallel()
	chain := newSimulatedChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	unknown := chain.transfer(t, context.Background(), 5, common.Address{}, big.NewInt(1))
	if _, err := chain.client.WaitMined(ctx, web3.TxRef{Hash: unknown.Hash().Hex()}); err == nil {
		t.Fatal("expected context error for a transaction that is never mined")
	}
}

func TestClientBalancesAndEstimates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	chain := newSimulatedChain(t)

	tokens := []string{route.NativeTokenAddress, "0x00000000000000000000000000000000000000cc", ""}
	balances, err := chain.client.Balances(ctx, chain.from.Hex(), tokens)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(balances))
	}
	if balances[0] == nil || balances[0].Sign() <= 0 || balances[2] == nil {
		t.Fatalf("native balances missing: %v", balances)
	}
	if balances[1] != nil {
		t.Fatalf("token without contract code must yield nil, got %s", balances[1])
	}

	gas, err := chain.client.EstimateGas(ctx, route.TransactionRequest{
		From:  chain.from.Hex(),
		To:    "0x00000000000000000000000000000000000000dd",
		Value: "0x1",
	})
	if err != nil {
		t.Fatalf("estimate gas: %v", err)
	}
	if gas < 21_000 {
		t.Fatalf("unexpected gas estimate %d", gas)
	}

	if _, err := chain.client.Allowance(ctx, "0x00000000000000000000000000000000000000cc", chain.from.Hex(), chain.from.Hex()); err == nil {
		t.Fatal("expected allowance on a codeless address to fail")
	}

	nonce, err := chain.client.PendingNonceAt(ctx, chain.from.Hex())
	if err != nil || nonce != 0 {
		t.Fatalf("unexpected pending nonce %d (%v)", nonce, err)
	}
}

func TestPackApprove(t *testing.T) {
	data, err := PackApprove("0x00000000000000000000000000000000000000ee", big.NewInt(5))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	if len(data) != 4+32+32 {
		t.Fatalf("unexpected calldata length %d", len(data))
	}
	if _, err := PackApprove("not-an-address", big.NewInt(1)); err == nil {
		t.Fatal("expected invalid spender to fail")
	}
}
