package monitor

import (
	"context"

	"github.com/lucidperp/posmon/pkg/domain"
)

// AccountRecord is one raw on-chain account surfaced by a ChainScanner:
// its address, its owner (as reported by the scanner alongside the
// account; the owner bytes inside the account data are not decoded),
// and the undecoded account bytes ready for onchain.DecodePosition.
type AccountRecord struct {
	ID    domain.Address
	Owner domain.Address
	Data  []byte
}

// ChainScanner abstracts the RPC boundary the on-chain refresh task polls:
// "enumerate all on-chain accounts matching the Position discriminator"
// per refresh cycle. A real implementation would page through program
// accounts over an RPC client; tests and local runs can substitute an
// in-memory fake.
type ChainScanner interface {
	ScanPositionAccounts(ctx context.Context) ([]AccountRecord, error)
}
