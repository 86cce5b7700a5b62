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

// EntryPointLogReader implements aa.EntryPointLogReader by filtering the
// EntryPoint contract's UserOperationEvent log directly, used when a
// bundler's own receipt endpoint still reports the userop as unknown. This
// is the fallback path original_source/apps/e2e's
// solver_safe4337_receipt_fallback test asserts.
type EntryPointLogReader struct {
	eth      *ethclient.Client
	eventABI abi.ABI
}

const userOperationEventJSON = `[{"type":"event","name":"UserOperationEvent","anonymous":false,
	"inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"actualGasCost","type":"uint256","indexed":false},
		{"name":"actualGasUsed","type":"uint256","indexed":false}
	]}]`

func NewEntryPointLogReader(eth *ethclient.Client) (*EntryPointLogReader, error) {
	eventABI, err := abi.JSON(strings.NewReader(userOperationEventJSON))
	if err != nil {
		return nil, fmt.Errorf("parse UserOperationEvent abi: %w", err)
	}
	return &EntryPointLogReader{eth: eth, eventABI: eventABI}, nil
}

func (r *EntryPointLogReader) UserOperationEvent(ctx context.Context, entryPoint common.Address, userOpHash common.Hash) (common.Hash, uint64, bool, bool, error) {
	event := r.eventABI.Events["UserOperationEvent"]
	logs, err := r.eth.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{entryPoint},
		Topics:    [][]common.Hash{{event.ID}, {userOpHash}},
	})
	if err != nil {
		return common.Hash{}, 0, false, false, fmt.Errorf("filter UserOperationEvent logs: %w", err)
	}
	if len(logs) == 0 {
		return common.Hash{}, 0, false, false, nil
	}
	entry := logs[len(logs)-1]

	var decoded struct {
		Nonce         *big.Int
		Success       bool
		ActualGasCost *big.Int
		ActualGasUsed *big.Int
	}
	if err := r.eventABI.UnpackIntoInterface(&decoded, "UserOperationEvent", entry.Data); err != nil {
		return common.Hash{}, 0, false, false, fmt.Errorf("unpack UserOperationEvent: %w", err)
	}
	return entry.TxHash, entry.BlockNumber, decoded.Success, true, nil
}
