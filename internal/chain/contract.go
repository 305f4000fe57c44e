package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	EventInfluencerPaid     = "InfluencerPaid"
	EventAdvertiserRefunded = "AdvertiserRefunded"
)

// Contract is the campaign escrow contract: its address, ABI and the network
// the address was deployed to.
type Contract struct {
	address   common.Address
	abi       abi.ABI
	name      string
	networkId string
}

type artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Networks     map[string]struct {
		Address string `json:"address"`
	} `json:"networks"`
}

// LoadContract resolves ABI and address from the profile. An artifact file
// may be a truffle build output (abi + networks) or a bare ABI array; the
// configured contract_address always wins over the artifact's.
func LoadContract(profile config.ChainProfile) (*Contract, error) {
	c := &Contract{name: "AdContract"}

	if profile.ArtifactPath == "" {
		parsed, err := abi.JSON(strings.NewReader(adContractABI))
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in ABI: %w", err)
		}
		c.abi = parsed
	} else {
		data, err := os.ReadFile(profile.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load artifact from %s: %w", profile.ArtifactPath, err)
		}
		if err := c.loadArtifact(data, profile.NetworkId); err != nil {
			return nil, err
		}
	}

	if profile.ContractAddress != "" {
		if !common.IsHexAddress(profile.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", profile.ContractAddress)
		}
		c.address = common.HexToAddress(profile.ContractAddress)
		if c.networkId == "" {
			c.networkId = profile.NetworkId
		}
	}
	if c.address == (common.Address{}) {
		return nil, fmt.Errorf("no contract address configured for network %s", profile.NetworkId)
	}

	if profile.NetworkId != "" && c.networkId != profile.NetworkId {
		logger.Warn("Contract %s was deployed to network %s but network %s is configured",
			c.address.Hex(), c.networkId, profile.NetworkId)
	}

	return c, nil
}

func (c *Contract) loadArtifact(data []byte, wantNetwork string) error {
	var compiled artifact
	if err := json.Unmarshal(data, &compiled); err != nil || compiled.ABI == nil {
		// bare ABI array
		parsed, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to parse ABI: %w", err)
		}
		c.abi = parsed
		return nil
	}

	parsed, err := abi.JSON(bytes.NewReader(compiled.ABI))
	if err != nil {
		return fmt.Errorf("failed to parse ABI from compiled output: %w", err)
	}
	c.abi = parsed
	if compiled.ContractName != "" {
		c.name = compiled.ContractName
	}

	if len(compiled.Networks) == 0 {
		return nil
	}
	networkId := wantNetwork
	if _, ok := compiled.Networks[networkId]; !ok {
		networkId = latestNetwork(compiled.Networks)
	}
	deployed := compiled.Networks[networkId]
	if common.IsHexAddress(deployed.Address) {
		c.address = common.HexToAddress(deployed.Address)
		c.networkId = networkId
	}
	return nil
}

// latestNetwork picks the highest numeric network id.
func latestNetwork[T any](networks map[string]T) string {
	ids := make([]string, 0, len(networks))
	for id := range networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseUint(ids[i], 10, 64)
		b, errB := strconv.ParseUint(ids[j], 10, 64)
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids[len(ids)-1]
}

func (c *Contract) GetAddress() common.Address {
	return c.address
}

func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

func (c *Contract) GetName() string {
	return c.name
}

func (c *Contract) GetNetworkId() string {
	return c.networkId
}

// ParseEvent decodes a log emitted by the contract into a field map.
func (c *Contract) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log %s has no topics", log.TxHash.Hex())
	}
	eventSignature := log.Topics[0].Hex()

	for eventName, event := range c.abi.Events {
		if event.ID.Hex() == eventSignature {
			return c.parseEvent(eventName, log, event)
		}
	}

	logger.Debug("Unknown event signature: %s in contract %s", eventSignature, c.name)
	return map[string]interface{}{
		"eventName":   "Unknown",
		"signature":   eventSignature,
		"contract":    c.name,
		"txHash":      log.TxHash.Hex(),
		"blockNumber": log.BlockNumber,
		"logIndex":    log.Index,
	}, nil
}

func (c *Contract) parseEvent(eventName string, log types.Log, event abi.Event) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	result["eventName"] = eventName
	result["contract"] = c.name
	result["txHash"] = log.TxHash.Hex()
	result["blockNumber"] = log.BlockNumber
	result["logIndex"] = log.Index

	topic := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topic >= len(log.Topics) {
			break
		}
		result[input.Name] = parseTopicValue(log.Topics[topic], input.Type)
		topic++
	}

	nonIndexed := event.Inputs.NonIndexed()
	if len(log.Data) > 0 && len(nonIndexed) > 0 {
		values, err := c.abi.Unpack(eventName, log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s data: %w", eventName, err)
		}
		for i, input := range nonIndexed {
			if i < len(values) {
				result[input.Name] = values[i]
			}
		}
	}

	return result, nil
}

func parseTopicValue(topic common.Hash, t abi.Type) interface{} {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.BoolTy:
		return new(big.Int).SetBytes(topic.Bytes()).Sign() > 0
	case abi.BytesTy:
		return topic.Bytes()
	default:
		return topic.Hex()
	}
}

// eventAmount returns the amount field of the first eventName log the
// contract emitted in receipt, or nil.
func (c *Contract) eventAmount(receipt *types.Receipt, eventName string) *big.Int {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address {
			continue
		}
		fields, err := c.ParseEvent(*l)
		if err != nil {
			logger.Warn("Failed to parse log %d of %s: %v", l.Index, receipt.TxHash.Hex(), err)
			continue
		}
		if fields["eventName"] != eventName {
			continue
		}
		if amount, ok := fields["amount"].(*big.Int); ok {
			return amount
		}
	}
	return nil
}
