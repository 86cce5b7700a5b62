package target

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
)

// GrpcClient is the live Driver implementation: a thin RPC client over a
// driver service process that owns the actual target-chain wallet/node
// connection (the real analogue of original_source's TronGrpc + TronWallet,
// kept out-of-process so this solver binary never holds target-chain key
// material directly). Requests/responses are plain JSON, via jsonCodec, on
// an ordinary grpc.ClientConn — there is no .proto/codegen step available in
// this module, so method dispatch uses conn.Invoke with literal method
// paths instead of generated stubs.
type GrpcClient struct {
	conn *grpc.ClientConn
}

// NewGrpcClient wraps an already-dialed connection. Callers (cmd/solver's
// dialTargetDriver) own the connection's lifecycle.
func NewGrpcClient(conn *grpc.ClientConn) *GrpcClient {
	return &GrpcClient{conn: conn}
}

const driverServiceMethodPrefix = "/untron.solver.target.Driver/"

func (c *GrpcClient) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(ctx, driverServiceMethodPrefix+method, req, resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return fmt.Errorf("target: grpc %s: %w", method, err)
	}
	return nil
}

type executeRequest struct {
	IntentType int16  `json:"intent_type"`
	Specs      []byte `json:"specs"`
}

type executeResponse struct {
	ImmediateProof *wireInclusionProof `json:"immediate_proof,omitempty"`
	BroadcastedTx  []byte              `json:"broadcasted_tx,omitempty"`
}

func (c *GrpcClient) Execute(ctx context.Context, intentType int16, specs []byte) (ExecuteOutcome, error) {
	var resp executeResponse
	if err := c.invoke(ctx, "Execute", &executeRequest{IntentType: intentType, Specs: specs}, &resp); err != nil {
		return ExecuteOutcome{}, err
	}
	out := ExecuteOutcome{}
	if resp.ImmediateProof != nil {
		proof := resp.ImmediateProof.toInclusionProof()
		out.ImmediateProof = &proof
	}
	if len(resp.BroadcastedTx) == 32 {
		var txid [32]byte
		copy(txid[:], resp.BroadcastedTx)
		out.BroadcastedTx = &txid
	}
	return out, nil
}

type broadcastRequest struct {
	TxBytes []byte `json:"tx_bytes"`
}

func (c *GrpcClient) BroadcastSignedTx(ctx context.Context, txBytes []byte) error {
	return c.invoke(ctx, "BroadcastSignedTx", &broadcastRequest{TxBytes: txBytes}, &struct{}{})
}

type txidRequest struct {
	TxID []byte `json:"txid"`
}

type txIsKnownResponse struct {
	Known bool `json:"known"`
}

func (c *GrpcClient) TxIsKnown(ctx context.Context, txid [32]byte) (bool, error) {
	var resp txIsKnownResponse
	if err := c.invoke(ctx, "TxIsKnown", &txidRequest{TxID: txid[:]}, &resp); err != nil {
		return false, err
	}
	return resp.Known, nil
}

type wireTxReceipt struct {
	EnergyUsageTotal int64 `json:"energy_usage_total"`
	NetUsage         int64 `json:"net_usage"`
	EnergyFeeSun     int64 `json:"energy_fee_sun"`
	NetFeeSun        int64 `json:"net_fee_sun"`
}

type fetchTxInfoResponse struct {
	Found          bool           `json:"found"`
	BlockNumber    int64          `json:"block_number"`
	BlockTimestamp int64          `json:"block_timestamp"`
	FeeSun         int64          `json:"fee_sun"`
	Result         int32          `json:"result"`
	ResultMessage  string         `json:"result_message"`
	Receipt        *wireTxReceipt `json:"receipt,omitempty"`
}

func (c *GrpcClient) FetchTxInfo(ctx context.Context, txid [32]byte) (*TxInfo, bool, error) {
	var resp fetchTxInfoResponse
	if err := c.invoke(ctx, "FetchTxInfo", &txidRequest{TxID: txid[:]}, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	info := &TxInfo{
		BlockNumber:    resp.BlockNumber,
		BlockTimestamp: resp.BlockTimestamp,
		FeeSun:         resp.FeeSun,
		Result:         resp.Result,
		ResultMessage:  resp.ResultMessage,
	}
	if resp.Receipt != nil {
		info.Receipt = &TxReceipt{
			EnergyUsageTotal: resp.Receipt.EnergyUsageTotal,
			NetUsage:         resp.Receipt.NetUsage,
			EnergyFeeSun:     resp.Receipt.EnergyFeeSun,
			NetFeeSun:        resp.Receipt.NetFeeSun,
		}
	}
	return info, true, nil
}

type wireInclusionProof struct {
	Blocks    [][]byte `json:"blocks"`
	EncodedTx []byte   `json:"encoded_tx"`
	Path      [][]byte `json:"path"`
	Index     uint64   `json:"index"`
}

func (p *wireInclusionProof) toInclusionProof() InclusionProof {
	return InclusionProof{Blocks: p.Blocks, EncodedTx: p.EncodedTx, Path: p.Path, Index: p.Index}
}

type buildProofRequest struct {
	TxID       []byte `json:"txid"`
	DeadlineMs int64  `json:"deadline_ms"`
}

type buildProofResponse struct {
	Proof    *wireInclusionProof `json:"proof,omitempty"`
	TxFailed bool                `json:"tx_failed"`
}

// BuildProof asks the driver service to build the inclusion proof, passing
// the deadline through so the out-of-process driver can bound its own
// finality-wait retry loop the way
// original_source/apps/solver/src/tron_backend/grpc/proof.rs's
// build_proof_with does locally.
func (c *GrpcClient) BuildProof(ctx context.Context, txid [32]byte, deadline time.Duration) (InclusionProof, error) {
	var resp buildProofResponse
	req := &buildProofRequest{TxID: txid[:], DeadlineMs: deadline.Milliseconds()}
	if err := c.invoke(ctx, "BuildProof", req, &resp); err != nil {
		return InclusionProof{}, err
	}
	if resp.TxFailed {
		return InclusionProof{}, ErrTxFailed
	}
	if resp.Proof == nil {
		return InclusionProof{}, fmt.Errorf("target: BuildProof response missing proof for txid %x", txid)
	}
	return resp.Proof.toInclusionProof(), nil
}
