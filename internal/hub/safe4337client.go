package hub

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ultrasoundlabs/untron-solver/internal/aa"
)

// UserOpStore is the narrow persistence surface Safe4337Client needs for
// bundler-submission de-duplication; cmd/solver adapts *store.DurableStore
// to it (hubUserOpStoreAdapter).
type UserOpStore interface {
	UpsertHubUserOp(ctx context.Context, op UserOpRow) error
	HubUserOpFor(ctx context.Context, intentID [32]byte, kind UserOpKind) (*UserOpRow, bool, error)
}

// UserOpKind and UserOpRow mirror store.HubUserOpKind/HubUserOp's shape so
// this package does not need to import internal/store for two constants
// and a struct; cmd/solver/main.go wires the conversion at the boundary.
type UserOpKind = string

const (
	UserOpKindClaim UserOpKind = "claim"
	UserOpKindProve UserOpKind = "prove"
)

type UserOpRow struct {
	IntentID    [32]byte
	Kind        UserOpKind
	State       string
	UserOpHash  [32]byte
	TxHash      *[32]byte
	BlockNumber *int64
	Success     *bool
	Receipt     []byte
}

// Safe4337Client is the AA/ERC-4337 bundler-backed hub.Client
// implementation: it wraps each call (claimIntent, proveIntentFill) in a
// Safe-owned UserOperation, submits it through a Bundler, and resolves the
// receipt via aa.ResolveReceipt's bundler-then-EntryPoint-log fallback.
// Mirrors original_source's HubTxMode::Safe4337 path.
type Safe4337Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	cfg         aa.Safe4337Config
	owner       *ecdsa.PrivateKey
	safe        common.Address
	intentsAddr common.Address
	intentsABI  abi.ABI
	bundler     aa.Bundler
	logs        aa.EntryPointLogReader
	store       UserOpStore
}

func NewSafe4337Client(
	eth *ethclient.Client,
	chainID *big.Int,
	cfg aa.Safe4337Config,
	owner *ecdsa.PrivateKey,
	safe common.Address,
	intentsAddr common.Address,
	intentsABI abi.ABI,
	bundler aa.Bundler,
	logs aa.EntryPointLogReader,
	store UserOpStore,
) *Safe4337Client {
	return &Safe4337Client{
		eth: eth, chainID: chainID, cfg: cfg, owner: owner, safe: safe,
		intentsAddr: intentsAddr, intentsABI: intentsABI, bundler: bundler, logs: logs, store: store,
	}
}

func (c *Safe4337Client) ClaimIntent(ctx context.Context, intentID [32]byte) (Receipt, error) {
	data, err := c.intentsABI.Pack("claimIntent", intentID)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack claimIntent: %w", err)
	}
	return c.submit(ctx, intentID, UserOpKindClaim, data)
}

func (c *Safe4337Client) ProveIntentFill(ctx context.Context, intentID [32]byte, proof InclusionProofArgs) (Receipt, error) {
	data, err := c.intentsABI.Pack("proveIntentFill", intentID, proof.Blocks, proof.EncodedTx, proof.Path, proof.Index)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack proveIntentFill: %w", err)
	}
	return c.submit(ctx, intentID, UserOpKindProve, data)
}

// submit de-duplicates against a prior in-flight submission for this
// (intent, kind), builds and signs a UserOperation calling the Safe's
// execTransactionFromModule-equivalent entry point with the intents
// calldata, submits it to the bundler, and resolves its receipt.
func (c *Safe4337Client) submit(ctx context.Context, intentID [32]byte, kind UserOpKind, calldata []byte) (Receipt, error) {
	if prior, found, err := c.store.HubUserOpFor(ctx, intentID, kind); err == nil && found && prior.State != "failed" {
		if prior.TxHash != nil {
			return Receipt{TxHash: common.Hash(*prior.TxHash)}, nil
		}
	}

	op, err := c.buildUserOp(ctx, calldata)
	if err != nil {
		return Receipt{}, fmt.Errorf("build userop: %w", err)
	}
	opHash := c.userOpHash(op)
	sig, err := crypto.Sign(accounts.TextHash(opHash[:]), c.owner)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign userop: %w", err)
	}
	op.Signature = sig

	encoded, err := json.Marshal(op)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode userop: %w", err)
	}
	if _, err := c.bundler.SubmitUserOp(ctx, c.cfg.EntryPoint, encoded); err != nil {
		_ = c.store.UpsertHubUserOp(ctx, UserOpRow{IntentID: intentID, Kind: kind, State: "failed", UserOpHash: opHash})
		return Receipt{}, fmt.Errorf("submit userop: %w", err)
	}
	_ = c.store.UpsertHubUserOp(ctx, UserOpRow{IntentID: intentID, Kind: kind, State: "submitted", UserOpHash: opHash})

	receipt, err := aa.ResolveReceipt(ctx, c.bundler, c.logs, c.cfg.EntryPoint, opHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("resolve userop receipt: %w", err)
	}
	if receipt == nil {
		return Receipt{}, fmt.Errorf("userop %x still pending", opHash)
	}

	raw, _ := json.Marshal(receipt)
	row := UserOpRow{IntentID: intentID, Kind: kind, State: "submitted", UserOpHash: opHash, Receipt: raw}
	if receipt.BlockNumber != nil {
		bn := int64(*receipt.BlockNumber)
		row.BlockNumber = &bn
		row.State = "included"
	}
	row.Success = &receipt.Success
	row.TxHash = &receipt.TxHash
	_ = c.store.UpsertHubUserOp(ctx, row)

	return Receipt{TxHash: receipt.TxHash}, nil
}

func (c *Safe4337Client) IntentStatus(ctx context.Context, intentID [32]byte) (IntentStatus, error) {
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

func (c *Safe4337Client) EnsureERC20Allowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	erc20ABI, err := erc20MinimalABI()
	if err != nil {
		return err
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, err := c.submit(ctx, [32]byte{}, "approve:"+token.Hex(), data); err != nil {
		return err
	}
	return nil
}

func (c *Safe4337Client) V3TronUSDT(ctx context.Context) (common.Address, error) {
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

// userOperation is the EntryPoint v0.6 struct this client submits, with the
// target-call wrapped as the Safe module's single-call executor.
type userOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

func (c *Safe4337Client) buildUserOp(ctx context.Context, calldata []byte) (*userOperation, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.safe)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head header: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return &userOperation{
		Sender:               c.safe,
		Nonce:                new(big.Int).SetUint64(nonce),
		InitCode:             nil,
		CallData:             execFromModuleCalldata(c.intentsAddr, calldata),
		CallGasLimit:         big.NewInt(500_000),
		VerificationGasLimit: big.NewInt(200_000),
		PreVerificationGas:   big.NewInt(50_000),
		MaxFeePerGas:         feeCap,
		MaxPriorityFeePerGas: tip,
		PaymasterAndData:     nil,
	}, nil
}

// execFromModuleCalldata wraps the intents-contract call as a Safe module
// execTransaction(to, value, data, operation=Call) invocation.
func execFromModuleCalldata(to common.Address, data []byte) []byte {
	execABI, err := safeExecModuleABI()
	if err != nil {
		return nil
	}
	packed, err := execABI.Pack("executeUserOpFromModule", to, big.NewInt(0), data, uint8(0))
	if err != nil {
		return nil
	}
	return packed
}

func safeExecModuleABI() (abi.ABI, error) {
	const execJSON = `[{"type":"function","name":"executeUserOpFromModule",
		"inputs":[
			{"name":"to","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"},
			{"name":"operation","type":"uint8"}
		],"outputs":[],"stateMutability":"nonpayable"}]`
	return abi.JSON(strings.NewReader(execJSON))
}

// userOpHash computes the EIP-4337 v0.6 userOpHash: keccak256(abi.encode(
// keccak256(packed user op fields), entryPoint, chainId)).
func (c *Safe4337Client) userOpHash(op *userOperation) [32]byte {
	addrTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)

	packed := abi.Arguments{
		{Type: addrTy}, {Type: uintTy}, {Type: bytes32Ty}, {Type: bytes32Ty},
		{Type: uintTy}, {Type: uintTy}, {Type: uintTy}, {Type: uintTy}, {Type: uintTy}, {Type: bytes32Ty},
	}
	initCodeHash := [32]byte(crypto.Keccak256Hash(op.InitCode))
	callDataHash := [32]byte(crypto.Keccak256Hash(op.CallData))
	paymasterHash := [32]byte(crypto.Keccak256Hash(op.PaymasterAndData))

	packedBytes, err := packed.Pack(
		op.Sender, op.Nonce, initCodeHash, callDataHash,
		op.CallGasLimit, op.VerificationGasLimit, op.PreVerificationGas,
		op.MaxFeePerGas, op.MaxPriorityFeePerGas, paymasterHash,
	)
	if err != nil {
		return [32]byte{}
	}
	opHash := [32]byte(crypto.Keccak256Hash(packedBytes))

	outer := abi.Arguments{{Type: bytes32Ty}, {Type: addrTy}, {Type: uintTy}}
	outerBytes, err := outer.Pack(opHash, c.cfg.EntryPoint, c.chainID)
	if err != nil {
		return [32]byte{}
	}
	return [32]byte(crypto.Keccak256Hash(outerBytes))
}
