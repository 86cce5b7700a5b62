package hub

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// IntentsABI is the minimal ABI fragment for the four hub-contract methods
// the hub client calls (v3TronUsdt on behalf of TargetFlow, the rest for
// HubFlow); the full contract surface (escrow accounting, admin
// controls) is out of this engine's scope per spec.md §1.
const intentsABIJSON = `[
	{"type":"function","name":"claimIntent","stateMutability":"nonpayable",
	 "inputs":[{"name":"id","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"proveIntentFill","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"blocks","type":"bytes[]"},
		{"name":"encodedTx","type":"bytes"},
		{"name":"path","type":"bytes[]"},
		{"name":"index","type":"uint256"}
	 ],"outputs":[]},
	{"type":"function","name":"intentStatus","stateMutability":"view",
	 "inputs":[{"name":"id","type":"bytes32"}],
	 "outputs":[
		{"name":"solved","type":"bool"},
		{"name":"funded","type":"bool"},
		{"name":"settled","type":"bool"},
		{"name":"closed","type":"bool"}
	 ]},
	{"type":"function","name":"v3TronUsdt","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

func IntentsABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(intentsABIJSON))
}
