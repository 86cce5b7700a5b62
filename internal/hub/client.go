// Package hub consumes the hub-chain RPC operations HubFlow needs:
// claim_intent, prove_intent_fill, intent_status, and the one-time startup
// ERC-20 allowance call. Two implementations share the Client interface: a
// plain EOA signer (EOAClient, below) and an AA/ERC-4337 bundler path
// (Safe4337Client, in safe4337client.go), mirroring original_source's
// HubTxMode::{Eoa,Safe4337}.
package hub

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// IntentStatus mirrors the hub contract's intent_status(id) read.
type IntentStatus struct {
	Solved  bool
	Funded  bool
	Settled bool
	Closed  bool
}

// Receipt is the minimal shape HubFlow needs back from a claim/prove call:
// a transaction hash once mined.
type Receipt struct {
	TxHash common.Hash
}

// Client is the narrow hub surface consumed by hubflow and targetflow.
type Client interface {
	ClaimIntent(ctx context.Context, intentID [32]byte) (Receipt, error)
	ProveIntentFill(ctx context.Context, intentID [32]byte, proof InclusionProofArgs) (Receipt, error)
	IntentStatus(ctx context.Context, intentID [32]byte) (IntentStatus, error)
	EnsureERC20Allowance(ctx context.Context, token, spender common.Address, amount *big.Int) error
	V3TronUSDT(ctx context.Context) (common.Address, error)
}

// InclusionProofArgs is the ABI-encodable shape of an InclusionProof, as
// submitted to prove_intent_fill.
type InclusionProofArgs struct {
	Blocks    [][]byte
	EncodedTx []byte
	Path      [][]byte
	Index     *big.Int
}

// EOAClient signs and sends hub transactions directly from one EOA key; it
// is the simple path original_source calls HubTxMode::Eoa.
type EOAClient struct {
	eth         *ethclient.Client
	intentsAddr common.Address
	signer      TxSigner
	intentsABI  abi.ABI
}

// TxSigner abstracts the private-key-holding signer so EOAClient never
// touches raw key material directly; a real deployment backs this with an
// in-memory or HSM-backed keystore.
type TxSigner interface {
	SignAndSend(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
}

func NewEOAClient(eth *ethclient.Client, intentsAddr common.Address, signer TxSigner, intentsABI abi.ABI) *EOAClient {
	return &EOAClient{eth: eth, intentsAddr: intentsAddr, signer: signer, intentsABI: intentsABI}
}

func (c *EOAClient) ClaimIntent(ctx context.Context, intentID [32]byte) (Receipt, error) {
	data, err := c.intentsABI.Pack("claimIntent", intentID)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack claimIntent: %w", err)
	}
	hash, err := c.signer.SignAndSend(ctx, c.intentsAddr, data, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("send claimIntent: %w", err)
	}
	return Receipt{TxHash: hash}, nil
}

func (c *EOAClient) ProveIntentFill(ctx context.Context, intentID [32]byte, proof InclusionProofArgs) (Receipt, error) {
	data, err := c.intentsABI.Pack("proveIntentFill", intentID, proof.Blocks, proof.EncodedTx, proof.Path, proof.Index)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack proveIntentFill: %w", err)
	}
	hash, err := c.signer.SignAndSend(ctx, c.intentsAddr, data, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("send proveIntentFill: %w", err)
	}
	return Receipt{TxHash: hash}, nil
}

func (c *EOAClient) IntentStatus(ctx context.Context, intentID [32]byte) (IntentStatus, error) {
	data, err := c.intentsABI.Pack("intentStatus", intentID)
	if err != nil {
		return IntentStatus{}, fmt.Errorf("pack intentStatus: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereumCallMsg(c.intentsAddr, data), nil)
	if err != nil {
		return IntentStatus{}, fmt.Errorf("call intentStatus: %w", err)
	}
	vals, err := c.intentsABI.Unpack("intentStatus", out)
	if err != nil || len(vals) < 4 {
		return IntentStatus{}, fmt.Errorf("unpack intentStatus: %w", err)
	}
	return IntentStatus{
		Solved:  vals[0].(bool),
		Funded:  vals[1].(bool),
		Settled: vals[2].(bool),
		Closed:  vals[3].(bool),
	}, nil
}

func (c *EOAClient) EnsureERC20Allowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	erc20ABI, err := erc20MinimalABI()
	if err != nil {
		return err
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, err := c.signer.SignAndSend(ctx, token, data, nil); err != nil {
		return fmt.Errorf("send approve: %w", err)
	}
	return nil
}

func (c *EOAClient) V3TronUSDT(ctx context.Context) (common.Address, error) {
	data, err := c.intentsABI.Pack("v3TronUsdt")
	if err != nil {
		return common.Address{}, fmt.Errorf("pack v3TronUsdt: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereumCallMsg(c.intentsAddr, data), nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call v3TronUsdt: %w", err)
	}
	vals, err := c.intentsABI.Unpack("v3TronUsdt", out)
	if err != nil || len(vals) < 1 {
		return common.Address{}, fmt.Errorf("unpack v3TronUsdt: %w", err)
	}
	return vals[0].(common.Address), nil
}

func erc20MinimalABI() (abi.ABI, error) {
	const erc20JSON = `[{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}]`
	return abi.JSON(strings.NewReader(erc20JSON))
}

func ethereumCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
