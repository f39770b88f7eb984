package model

import (
	"math/big"
	"strings"
)

// RawTransferRecord is one token transfer touching an account, as supplied by
// the transfer-log feed. Addresses are lower-cased.
type RawTransferRecord struct {
	Hash            string   `json:"hash"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	ContractAddress string   `json:"contract_address"`
	Value           *big.Int `json:"value"`
	BlockNumber     uint64   `json:"block_number"`
	Timestamp       uint64   `json:"timestamp"`
	FunctionName    string   `json:"function_name,omitempty"`
}

// Normalize lower-cases every address and the hash.
func (r RawTransferRecord) Normalize() RawTransferRecord {
	r.Hash = strings.ToLower(r.Hash)
	r.From = strings.ToLower(r.From)
	r.To = strings.ToLower(r.To)
	r.ContractAddress = strings.ToLower(r.ContractAddress)
	return r
}

// IsZero reports whether the transfer moved no value.
func (r RawTransferRecord) IsZero() bool {
	return r.Value == nil || r.Value.Sign() == 0
}
