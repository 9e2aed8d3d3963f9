package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/blockchain"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
)

// fakeWrite 已发送的交易
type fakeWrite struct {
	target contract.Name
	method string
	value  *big.Int
	args   []interface{}
}

// fakeChain 内存链, 实现 ChainGateway
type fakeChain struct {
	mu     sync.Mutex
	signer common.Address
	local  bool

	// reads 按 "target.method" 返回固定输出
	reads map[string][]interface{}
	// readFn 按参数返回输出, ok=false 时回退到 reads
	readFn func(target contract.Name, method string, args []interface{}) ([]interface{}, bool)
	// readErrs 按 "target.method" 返回错误
	readErrs map[string]error

	writes    []fakeWrite
	attempts  map[string]int
	writeErrs map[string][]error
	logs      map[string][]*contract.DecodedLog
	txMethod  map[common.Hash]string
	txBlock   map[common.Hash]uint64

	block uint64
	mined int
}

func newFakeChain(signer common.Address) *fakeChain {
	return &fakeChain{
		signer:    signer,
		local:     true,
		reads:     make(map[string][]interface{}),
		readErrs:  make(map[string]error),
		attempts:  make(map[string]int),
		writeErrs: make(map[string][]error),
		logs:      make(map[string][]*contract.DecodedLog),
		txMethod:  make(map[common.Hash]string),
		txBlock:   make(map[common.Hash]uint64),
		block:     100,
	}
}

func fakeAddress(target contract.Name) common.Address {
	return common.BytesToAddress([]byte(target))
}

func (f *fakeChain) setRead(target contract.Name, method string, out ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[string(target)+"."+method] = out
}

// failWrite 让 method 接下来的写入依次返回 errs
func (f *fakeChain) failWrite(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs[method] = append(f.writeErrs[method], errs...)
}

// emit method 的回执带上这些日志
func (f *fakeChain) emit(method string, logs ...*contract.DecodedLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[method] = append(f.logs[method], logs...)
}

func (f *fakeChain) writesTo(method string) []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeWrite
	for _, w := range f.writes {
		if w.method == method {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeChain) writeMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		out = append(out, w.method)
	}
	return out
}

func (f *fakeChain) Signer() common.Address { return f.signer }

func (f *fakeChain) IsLocalChain() bool { return f.local }

func (f *fakeChain) ContractAddress(target contract.Name) (common.Address, error) {
	return fakeAddress(target), nil
}

func (f *fakeChain) ReadContract(_ context.Context, target contract.Name, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	fn := f.readFn
	out, ok := f.reads[string(target)+"."+method]
	readErr := f.readErrs[string(target)+"."+method]
	f.mu.Unlock()

	if readErr != nil {
		return nil, readErr
	}

	if fn != nil {
		if res, handled := fn(target, method, args); handled {
			return res, nil
		}
	}
	if !ok {
		return nil, fmt.Errorf("unexpected read %s.%s", target, method)
	}
	return out, nil
}

func (f *fakeChain) WriteContract(_ context.Context, target contract.Name, method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[method]++
	if errs := f.writeErrs[method]; len(errs) > 0 {
		f.writeErrs[method] = errs[1:]
		return common.Hash{}, errs[0]
	}

	f.writes = append(f.writes, fakeWrite{target: target, method: method, value: value, args: args})
	f.block++
	hash := common.BigToHash(big.NewInt(int64(len(f.writes))))
	f.txMethod[hash] = method
	f.txBlock[hash] = f.block
	return hash, nil
}

func (f *fakeChain) WaitForReceipt(_ context.Context, txHash common.Hash) (*blockchain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method, ok := f.txMethod[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", txHash.Hex())
	}
	receipt := &blockchain.Receipt{TxHash: txHash, BlockNumber: f.txBlock[txHash], Status: 1, GasUsed: 21000}
	for _, l := range f.logs[method] {
		cp := *l
		cp.TxHash = txHash
		cp.BlockNumber = receipt.BlockNumber
		receipt.Logs = append(receipt.Logs, &cp)
	}
	return receipt, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeChain) MineBlocks(_ context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block += uint64(n)
	f.mined += n
	return nil
}

func (f *fakeChain) WaitForBlock(_ context.Context, target uint64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block < target {
		f.block = target
	}
	return nil
}

// runStateOutputs getRunState 的 10 个输出
func runStateOutputs(active bool, hp, mana, power uint8) []interface{} {
	return []interface{}{active, uint8(3), uint8(1), uint32(100), uint32(50), hp, mana, power, uint32(1), uint8(0)}
}
