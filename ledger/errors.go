package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBlockhashExpired    = errors.New("ledger: blockhash expired before confirmation")
	ErrConfirmationTimeout = errors.New("ledger: confirmation timed out")
	ErrTransactionFailed   = errors.New("ledger: transaction failed on chain")
	ErrNoSigners           = errors.New("ledger: at least one signer required")
)

// RPCError is a JSON-RPC error object returned by the ledger node. Preflight
// simulation failures carry the program logs.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Logs    []string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger rpc %s: %d %s", e.Method, e.Code, e.Message)
}

func newRPCError(method string, obj *jsonRPCErrorObj) *RPCError {
	rpcErr := &RPCError{Method: method, Code: obj.Code, Message: obj.Message}
	if len(obj.Data) > 0 {
		var data struct {
			Logs []string `json:"logs"`
		}
		if err := json.Unmarshal(obj.Data, &data); err == nil {
			rpcErr.Logs = data.Logs
		}
	}
	return rpcErr
}

// SubmissionError wraps every failure between building a transaction and
// seeing it confirmed. Reason carries the ledger's rejection message verbatim.
type SubmissionError struct {
	Op        string
	Signature string
	Reason    string
	Logs      []string
	Err       error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger: submit %s", e.Op)
	if e.Signature != "" {
		fmt.Fprintf(&b, " (%s)", e.Signature)
	}
	b.WriteString(": ")
	if e.Reason != "" {
		b.WriteString(e.Reason)
	} else if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func submissionError(op, signature string, err error) *SubmissionError {
	subErr := &SubmissionError{Op: op, Signature: signature, Err: err, Reason: err.Error()}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		subErr.Reason = rpcErr.Message
		subErr.Logs = append([]string(nil), rpcErr.Logs...)
	}
	return subErr
}
