package vault

import (
	"github.com/ethereum/go-ethereum/common"

	"vaultScope/internal/contracts"
	"vaultScope/internal/multicall"
)

func balanceOfCall(entityID string, token, owner common.Address, decimals int) *multicall.Call {
	erc20 := contracts.MustParsed(contracts.ERC20ABI)
	return multicall.NewCall(entityID, multicall.FieldBalance, token, erc20, "balanceOf", owner).WithDecimals(decimals)
}

func totalSupplyCall(entityID string, token common.Address, decimals int) *multicall.Call {
	erc20 := contracts.MustParsed(contracts.ERC20ABI)
	return multicall.NewCall(entityID, multicall.FieldTotalSupply, token, erc20, "totalSupply").WithDecimals(decimals)
}

func tokenPriceCall(entityID string, token common.Address, underlyingDecimals int) *multicall.Call {
	yield := contracts.MustParsed(contracts.YieldTokenABI)
	return multicall.NewCall(entityID, multicall.FieldVaultPrice, token, yield, "tokenPrice").WithDecimals(underlyingDecimals)
}

func avgAPRCall(entityID string, token common.Address) *multicall.Call {
	yield := contracts.MustParsed(contracts.YieldTokenABI)
	return multicall.NewCall(entityID, multicall.FieldAPR, token, yield, "getAvgAPR").WithDecimals(aprDecimals)
}

func virtualPriceCall(entityID string, cdo, tranche common.Address, underlyingDecimals int) *multicall.Call {
	cdoABI := contracts.MustParsed(contracts.CDOABI)
	return multicall.NewCall(entityID, multicall.FieldVaultPrice, cdo, cdoABI, "virtualPrice", tranche).WithDecimals(underlyingDecimals)
}

func trancheAPRCall(entityID string, cdo, tranche common.Address) *multicall.Call {
	cdoABI := contracts.MustParsed(contracts.CDOABI)
	return multicall.NewCall(entityID, multicall.FieldAPR, cdo, cdoABI, "getApr", tranche).WithDecimals(aprDecimals)
}

// DecimalsCall reads ERC20 decimals() for a token whose registry entry omits them.
func DecimalsCall(entityID string, token common.Address) *multicall.Call {
	erc20 := contracts.MustParsed(contracts.ERC20ABI)
	return multicall.NewCall(entityID, multicall.FieldDecimals, token, erc20, "decimals").WithDecimals(0)
}
