package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const erc20TransferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// erc20Transfer is a decoded Transfer(address,address,uint256) event.
type erc20Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// decodeTransferLog decodes a Transfer event emitted by token. It reports
// false for logs from other contracts or with another signature.
func decodeTransferLog(log *ethtypes.Log, token common.Address) (*erc20Transfer, bool) {
	event := erc20ABI.Events["Transfer"]

	if log == nil || log.Address != token || len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return nil, false
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil || len(values) != 1 {
		return nil, false
	}

	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, false
	}

	return &erc20Transfer{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value,
	}, true
}
