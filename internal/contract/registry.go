package contract

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Name identifies one of the deployed ChainMMO contracts.
type Name string

const (
	GameWorld   Name = "gameWorld"
	FeeVault    Name = "feeVault"
	Items       Name = "items"
	RFQMarket   Name = "rfqMarket"
	TradeEscrow Name = "tradeEscrow"
	MMO         Name = "mmo"
)

// AllNames lists every contract in binding order.
var AllNames = []Name{GameWorld, FeeVault, Items, RFQMarket, TradeEscrow, MMO}

// Errors returned by the registry.
var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrUnboundContract = errors.New("contract address not configured")
)

var abiSources = map[Name]string{
	GameWorld:   GameWorldABI,
	FeeVault:    FeeVaultABI,
	Items:       ItemsABI,
	RFQMarket:   RFQMarketABI,
	TradeEscrow: TradeEscrowABI,
	MMO:         MMOTokenABI,
}

var (
	parsedOnce sync.Once
	parsedABIs map[Name]abi.ABI
	parseErr   error
)

func parsedABI() (map[Name]abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABIs = make(map[Name]abi.ABI, len(abiSources))
		for name, src := range abiSources {
			parsed, err := abi.JSON(strings.NewReader(src))
			if err != nil {
				parseErr = fmt.Errorf("parse %s abi: %w", name, err)
				return
			}
			parsedABIs[name] = parsed
		}
	})
	return parsedABIs, parseErr
}

// DecodedLog is a log matched against a known event.
type DecodedLog struct {
	Contract    Name
	EventName   string
	Args        map[string]interface{}
	Address     common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
}

type eventRef struct {
	contract Name
	event    abi.Event
}

// Registry holds the parsed ABIs and the configured addresses.
// It is safe for concurrent use after construction.
type Registry struct {
	abis      map[Name]abi.ABI
	addresses map[Name]common.Address
	byAddress map[common.Address]Name
	byTopic   map[Name]map[common.Hash]abi.Event
}

// NewRegistry binds the contract addresses. Zero addresses are treated as unbound.
func NewRegistry(addresses map[Name]common.Address) (*Registry, error) {
	abis, err := parsedABI()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		abis:      abis,
		addresses: make(map[Name]common.Address, len(addresses)),
		byAddress: make(map[common.Address]Name, len(addresses)),
		byTopic:   make(map[Name]map[common.Hash]abi.Event, len(abis)),
	}
	for name, addr := range addresses {
		if _, ok := abis[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContract, name)
		}
		if addr == (common.Address{}) {
			continue
		}
		r.addresses[name] = addr
		r.byAddress[addr] = name
	}
	for name, parsed := range abis {
		events := make(map[common.Hash]abi.Event, len(parsed.Events))
		for _, ev := range parsed.Events {
			events[ev.ID] = ev
		}
		r.byTopic[name] = events
	}
	return r, nil
}

// ABI returns the parsed ABI of a contract.
func (r *Registry) ABI(name Name) (abi.ABI, error) {
	parsed, ok := r.abis[name]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	return parsed, nil
}

// Address returns the configured address of a contract.
func (r *Registry) Address(name Name) (common.Address, error) {
	addr, ok := r.addresses[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnboundContract, name)
	}
	return addr, nil
}

// Pack encodes calldata for a contract method.
func (r *Registry) Pack(name Name, method string, args ...interface{}) ([]byte, error) {
	parsed, err := r.ABI(name)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", name, method, err)
	}
	return data, nil
}

// Unpack decodes the return data of a contract method.
func (r *Registry) Unpack(name Name, method string, data []byte) ([]interface{}, error) {
	parsed, err := r.ABI(name)
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", name, method, err)
	}
	return out, nil
}

// LogAddresses returns the addresses scanned by the indexer.
// The MMO token is excluded; its transfers carry no game state.
func (r *Registry) LogAddresses() []common.Address {
	out := make([]common.Address, 0, len(r.addresses))
	for _, name := range AllNames {
		if name == MMO {
			continue
		}
		if addr, ok := r.addresses[name]; ok {
			out = append(out, addr)
		}
	}
	return out
}

// Decode matches a log against the ABI of the contract that emitted it.
// It returns false for logs from unknown addresses or unknown events and for
// payloads that do not unpack.
func (r *Registry) Decode(log types.Log) (*DecodedLog, bool) {
	if len(log.Topics) == 0 {
		return nil, false
	}
	name, ok := r.byAddress[log.Address]
	if !ok {
		return nil, false
	}
	event, ok := r.byTopic[name][log.Topics[0]]
	if !ok {
		return nil, false
	}

	args := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(args, log.Data); err != nil {
			return nil, false
		}
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) != len(log.Topics)-1 {
		return nil, false
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, false
		}
	}

	return &DecodedLog{
		Contract:    name,
		EventName:   event.Name,
		Args:        args,
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, true
}

// EventID returns the topic0 of an event, for building log filters and tests.
func (r *Registry) EventID(name Name, event string) (common.Hash, error) {
	parsed, err := r.ABI(name)
	if err != nil {
		return common.Hash{}, err
	}
	ev, ok := parsed.Events[event]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not found in %s", event, name)
	}
	return ev.ID, nil
}

// RevertName extracts the custom error name from a reverted call.
// The node returns revert data through rpc.DataError; when the selector is
// known the error name is returned, otherwise an empty string.
func RevertName(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil || len(data) < 4 {
		return ""
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	return revertSelectors()[selector]
}

var (
	selectorOnce sync.Once
	selectors    map[[4]byte]string
)

func revertSelectors() map[[4]byte]string {
	selectorOnce.Do(func() {
		selectors = make(map[[4]byte]string, len(GameErrorNames))
		for _, name := range GameErrorNames {
			id := crypto4(name + "()")
			selectors[id] = name
		}
	})
	return selectors
}
