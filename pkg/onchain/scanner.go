package onchain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
)

// AccountRecord is one raw account observed by a scan: an address, its
// owning user, and its undecoded bytes. It mirrors pkg/monitor's
// ChainScanner record shape field-for-field so callers there can
// convert with a plain struct literal, without this package importing
// pkg/monitor (which already imports this one).
type AccountRecord struct {
	ID    domain.Address
	Owner domain.Address
	Data  []byte
}

// RPCScanner implements pkg/monitor's ChainScanner over a JSON-RPC
// getProgramAccounts endpoint, the same "poll, decode, reconcile" shape
// the refresh task needs. It is deliberately generic
// about the RPC dialect: it only needs an endpoint that, given a program
// id, returns a list of (address, owner, base64 data) tuples, which is
// the common shape across account-model chains.
type RPCScanner struct {
	rpcURL    string
	programID domain.Address
	http      *retryablehttp.Client
	log       *zap.Logger
}

// NewRPCScanner builds a scanner against rpcURL, filtered to programID's
// accounts. maxRetries mirrors pkg/oracle.NewClient's retry budget so a
// stalled RPC node surfaces as a failed cycle, not a hang.
func NewRPCScanner(rpcURL string, programID domain.Address, maxRetries int, log *zap.Logger) *RPCScanner {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.HTTPClient.Timeout = 2 * time.Second
	rc.Logger = nil
	if log == nil {
		log = zap.NewNop()
	}
	return &RPCScanner{rpcURL: rpcURL, programID: programID, http: rc, log: log}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcAccountEntry struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Owner string   `json:"owner"`
		Data  []string `json:"data"` // [base64, "base64"]
	} `json:"account"`
}

type rpcResponse struct {
	Result []rpcAccountEntry `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ScanPositionAccounts calls getProgramAccounts for the configured
// program id and decodes each entry's address/owner/data triple. It
// does not itself call DecodePosition — that stays the caller's job, so
// a non-Position account under the same program (e.g. a UserAccount)
// doesn't abort the whole scan.
func (s *RPCScanner) ScanPositionAccounts(ctx context.Context) ([]AccountRecord, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getProgramAccounts",
		Params:  []interface{}{hexAddr(s.programID), map[string]string{"encoding": "base64"}},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "encoding getProgramAccounts request")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", s.rpcURL, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "building rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "calling %s", s.rpcURL)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "decoding rpc response")
	}
	if decoded.Error != nil {
		return nil, apperr.New(apperr.StoreUnavailable, "rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	out := make([]AccountRecord, 0, len(decoded.Result))
	for _, e := range decoded.Result {
		id, err := parseHexAddr(e.Pubkey)
		if err != nil {
			s.log.Warn("skipping account with unparseable pubkey", zap.String("pubkey", e.Pubkey))
			continue
		}
		owner, err := parseHexAddr(e.Account.Owner)
		if err != nil {
			s.log.Warn("skipping account with unparseable owner", zap.String("owner", e.Account.Owner))
			continue
		}
		if len(e.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(e.Account.Data[0])
		if err != nil {
			s.log.Warn("skipping account with unparseable data", zap.String("pubkey", e.Pubkey))
			continue
		}
		out = append(out, AccountRecord{ID: id, Owner: owner, Data: data})
	}
	return out, nil
}

func hexAddr(a domain.Address) string {
	return "0x" + hex.EncodeToString(a[:])
}

func parseHexAddr(s string) (domain.Address, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return domain.Address{}, err
	}
	return domain.AddressFromBytes(b), nil
}
