// Copyright 2025 Jinn Network
//
// Package chain implements C4: typed read/write access to the marketplace,
// service registry, staking, and Safe multisig contracts (spec §4.4, §6).
// Grounded on pkg/ethereum/ethereum.go's client-wrapper shape and
// pkg/execution/contracts/*.go's bound-contract call style.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const registryABIJSON = `[
	{"name":"getService","type":"function","stateMutability":"view",
	 "inputs":[{"name":"serviceId","type":"uint256"}],
	 "outputs":[{"name":"multisig","type":"address"},{"name":"state","type":"uint8"}]},
	{"name":"ownerOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"serviceId","type":"uint256"}],
	 "outputs":[{"name":"owner","type":"address"}]}
]`

const stakingABIJSON = `[
	{"name":"getStakingState","type":"function","stateMutability":"view",
	 "inputs":[{"name":"serviceId","type":"uint256"}],
	 "outputs":[{"name":"state","type":"uint8"}]},
	{"name":"getServiceInfo","type":"function","stateMutability":"view",
	 "inputs":[{"name":"serviceId","type":"uint256"}],
	 "outputs":[{"name":"multisig","type":"address"}]}
]`

const marketplaceABIJSON = `[
	{"name":"create","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"serviceId","type":"uint256"},{"name":"factory","type":"address"},{"name":"payload","type":"bytes"}],
	 "outputs":[{"name":"mech","type":"address"}]},
	{"name":"deliver","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"requestId","type":"uint256"},{"name":"digestHex","type":"bytes32"}],
	 "outputs":[]},
	{"name":"claim","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"requestId","type":"uint256"}],
	 "outputs":[]},
	{"name":"request","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"mech","type":"address"},{"name":"metadataCid","type":"string"},{"name":"workstreamId","type":"string"}],
	 "outputs":[{"name":"requestId","type":"uint256"}]},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"mech","type":"address"},
		{"indexed":true,"name":"serviceId","type":"uint256"},
		{"indexed":true,"name":"factory","type":"address"}],
	 "name":"CreateMech","type":"event"}
]`

const safeABIJSON = `[
	{"name":"nonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getTransactionHash","type":"function","stateMutability":"view",
	 "inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"_nonce","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"name":"execTransaction","type":"function","stateMutability":"payable",
	 "inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}],
	 "outputs":[{"name":"success","type":"bool"}]}
]`

var (
	registryABI    abi.ABI
	stakingABI     abi.ABI
	marketplaceABI abi.ABI
	safeABI        abi.ABI
)

func init() {
	var err error
	if registryABI, err = abi.JSON(strings.NewReader(registryABIJSON)); err != nil {
		panic("chain: parse registry abi: " + err.Error())
	}
	if stakingABI, err = abi.JSON(strings.NewReader(stakingABIJSON)); err != nil {
		panic("chain: parse staking abi: " + err.Error())
	}
	if marketplaceABI, err = abi.JSON(strings.NewReader(marketplaceABIJSON)); err != nil {
		panic("chain: parse marketplace abi: " + err.Error())
	}
	if safeABI, err = abi.JSON(strings.NewReader(safeABIJSON)); err != nil {
		panic("chain: parse safe abi: " + err.Error())
	}
}

// OperationCall is the Safe "operation" enum value for a plain CALL
// (as opposed to DELEGATECALL), per spec §4.4/§6.
const OperationCall uint8 = 0

// ServiceStateDeployed is the ServiceRegistry state value meaning "deployed"
// (spec §4.4: "State 4 ⇒ deployed").
const ServiceStateDeployed uint8 = 4

// StakingStateStaked is the staking contract state value meaning "staked"
// (spec §6: "1 = Staked").
const StakingStateStaked uint8 = 1
