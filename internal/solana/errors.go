package solana

import (
	"errors"
	"fmt"
)

// ErrInvalidMint indicates a malformed mint address. It is never retried.
var ErrInvalidMint = errors.New("invalid mint address")

// JSON-RPC error codes that mark a query as unsupported by the endpoint.
// Public Solana RPC nodes disable the token-program secondary index that
// getProgramAccounts needs, and report it with these codes rather than a
// transient failure.
const (
	rpcCodeMethodNotFound = -32601
	rpcCodeExcludedIndex  = -32010
)

// UnsupportedError indicates the RPC endpoint cannot serve the query at all,
// regardless of retries. Error() carries remediation guidance.
type UnsupportedError struct {
	Endpoint string
	Method   string
	Err      error
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf(
		"endpoint %s does not support %s for the Token Program: %v\n"+
			"Public RPC endpoints exclude token accounts from secondary indexes.\n"+
			"Use a private RPC endpoint instead, for example:\n"+
			"  https://mainnet.helius-rpc.com/?api-key=YOUR_KEY\n"+
			"  https://your-endpoint.solana-mainnet.quiknode.pro/YOUR_KEY/\n"+
			"  https://solana-mainnet.g.alchemy.com/v2/YOUR_KEY",
		e.Endpoint, e.Method, e.Err)
}

func (e *UnsupportedError) Unwrap() error { return e.Err }

// IsUnsupported reports whether err carries an UnsupportedError.
func IsUnsupported(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}

// ExhaustedError is returned after every retry attempt failed.
// It wraps the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
