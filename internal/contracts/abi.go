package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const multicall3ABIJSON = `[
  {
    "inputs": [
      {"internalType": "bool", "name": "requireSuccess", "type": "bool"},
      {
        "components": [
          {"internalType": "address", "name": "target", "type": "address"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Call[]",
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "tryBlockAndAggregate",
    "outputs": [
      {"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
      {"internalType": "bytes32", "name": "blockHash", "type": "bytes32"},
      {
        "components": [
          {"internalType": "bool", "name": "success", "type": "bool"},
          {"internalType": "bytes", "name": "returnData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Result[]",
        "name": "returnData",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "payable",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalSupply", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// Yield aggregator tokens price themselves in the underlying and expose a blended APR.
const yieldTokenABIJSON = `[
  {"inputs": [], "name": "tokenPrice", "outputs": [{"internalType": "uint256", "name": "price", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getAvgAPR", "outputs": [{"internalType": "uint256", "name": "avgApr", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const cdoABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "_tranche", "type": "address"}], "name": "virtualPrice", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "_tranche", "type": "address"}], "name": "getApr", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const routerABIJSON = `[
  {"inputs": [{"internalType": "uint256", "name": "amountIn", "type": "uint256"}, {"internalType": "address[]", "name": "path", "type": "address[]"}], "name": "getAmountsOut", "outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "uint256", "name": "amountOut", "type": "uint256"}, {"internalType": "address[]", "name": "path", "type": "address[]"}], "name": "getAmountsIn", "outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}], "stateMutability": "view", "type": "function"}
]`

type lazyABI struct {
	raw  string
	once sync.Once
	abi  abi.ABI
	err  error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.abi, l.err = abi.JSON(strings.NewReader(l.raw))
	})
	return l.abi, l.err
}

var (
	multicall3ABI = &lazyABI{raw: multicall3ABIJSON}
	erc20ABI      = &lazyABI{raw: erc20ABIJSON}
	yieldTokenABI = &lazyABI{raw: yieldTokenABIJSON}
	cdoABI        = &lazyABI{raw: cdoABIJSON}
	routerABI     = &lazyABI{raw: routerABIJSON}
)

// Multicall3ABI returns the parsed Multicall3 tryBlockAndAggregate ABI.
func Multicall3ABI() (abi.ABI, error) { return multicall3ABI.get() }

// ERC20ABI returns the parsed ERC20 read ABI.
func ERC20ABI() (abi.ABI, error) { return erc20ABI.get() }

// YieldTokenABI returns the parsed yield aggregator token ABI.
func YieldTokenABI() (abi.ABI, error) { return yieldTokenABI.get() }

// CDOABI returns the parsed tranche CDO ABI.
func CDOABI() (abi.ABI, error) { return cdoABI.get() }

// RouterABI returns the parsed DEX router quote ABI.
func RouterABI() (abi.ABI, error) { return routerABI.get() }

// MustParsed panics when one of the embedded ABIs fails to parse. The JSON is
// compiled in, so a failure is a programming error.
func MustParsed(get func() (abi.ABI, error)) *abi.ABI {
	parsed, err := get()
	if err != nil {
		panic(err)
	}
	return &parsed
}
