package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a chain's static vault and token registry.
type File struct {
	ChainID       uint64               `yaml:"chain_id"`
	Multicall     string               `yaml:"multicall"`
	WrappedNative string               `yaml:"wrapped_native"`
	Contracts     map[string]string    `yaml:"contracts"`
	Tokens        map[string]TokenFile `yaml:"tokens"`
	Vaults        []VaultFile          `yaml:"vaults"`
}

// TokenFile describes one underlying token.
type TokenFile struct {
	Address  string    `yaml:"address"`
	Decimals *int      `yaml:"decimals"`
	USDPrice string    `yaml:"usd_price"`
	Rate     *RateFile `yaml:"rate"`
}

// RateFile configures a router quote for tokens without a static USD price.
type RateFile struct {
	Router           string `yaml:"router"`
	To               string `yaml:"to"`
	Method           string `yaml:"method"`
	Invert           bool   `yaml:"invert"`
	SkipIntermediate bool   `yaml:"skip_intermediate"`
}

// VaultFile describes one vault. Which fields matter depends on Type.
type VaultFile struct {
	Type            string   `yaml:"type"`
	Address         string   `yaml:"address"`
	Name            string   `yaml:"name"`
	Decimals        *int     `yaml:"decimals"`
	Underlying      string   `yaml:"underlying"`
	CDO             string   `yaml:"cdo"`
	TrancheType     string   `yaml:"tranche_type"`
	Tranche         string   `yaml:"tranche"`
	ReferralMethods []string `yaml:"referral_methods"`
}

// Load reads and validates a registry file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates registry YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Multicall == "" || !common.IsHexAddress(f.Multicall) {
		return fmt.Errorf("invalid multicall address: %q", f.Multicall)
	}
	for name, addr := range f.Contracts {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("contract %s: invalid address: %s", name, addr)
		}
	}
	for symbol, token := range f.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("token %s: invalid address: %s", symbol, token.Address)
		}
		if token.Rate != nil && token.Rate.Method != "" {
			switch strings.ToLower(token.Rate.Method) {
			case "amountsout", "amountsin":
			default:
				return fmt.Errorf("token %s: unknown router method: %s", symbol, token.Rate.Method)
			}
		}
	}
	if f.WrappedNative != "" {
		if _, ok := f.token(f.WrappedNative); !ok {
			return fmt.Errorf("wrapped native token %s is not registered", f.WrappedNative)
		}
	}

	seen := make(map[string]struct{}, len(f.Vaults))
	for i, v := range f.Vaults {
		if !common.IsHexAddress(v.Address) {
			return fmt.Errorf("vault %d: invalid address: %s", i, v.Address)
		}
		key := strings.ToLower(v.Address)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("vault %s: duplicate address", v.Address)
		}
		seen[key] = struct{}{}

		switch v.Type {
		case "underlying", "yield":
		case "tranche":
			if v.CDO != "" && !common.IsHexAddress(v.CDO) {
				return fmt.Errorf("vault %s: invalid cdo: %s", v.Address, v.CDO)
			}
		case "gauge":
			if v.Tranche != "" && !common.IsHexAddress(v.Tranche) {
				return fmt.Errorf("vault %s: invalid tranche: %s", v.Address, v.Tranche)
			}
		default:
			return fmt.Errorf("vault %s: unknown type: %q", v.Address, v.Type)
		}
	}
	return nil
}

func (f *File) token(symbol string) (TokenFile, bool) {
	if t, ok := f.Tokens[symbol]; ok {
		return t, true
	}
	for name, t := range f.Tokens {
		if strings.EqualFold(name, symbol) {
			return t, true
		}
	}
	return TokenFile{}, false
}
