package ledgertest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "stakeshack/core/errors"
	"stakeshack/crypto"
	"stakeshack/ledger"
)

type rpcRequest struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Handler serves the ledger over JSON-RPC so that ledger.Client can be
// exercised against it with httptest.
func (l *Ledger) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := l.dispatch(r, req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func param[T any](req rpcRequest, i int) (T, error) {
	var out T
	if i >= len(req.Params) {
		return out, errors.New("missing param")
	}
	err := json.Unmarshal(req.Params[i], &out)
	return out, err
}

func invalidParams(err error) *rpcErrorBody {
	return &rpcErrorBody{Code: -32602, Message: "invalid params: " + err.Error()}
}

func fromRPCError(err error) *rpcErrorBody {
	var rpcErr *ledger.RPCError
	if errors.As(err, &rpcErr) {
		return &rpcErrorBody{Code: rpcErr.Code, Message: rpcErr.Message, Data: map[string]any{"logs": rpcErr.Logs}}
	}
	return &rpcErrorBody{Code: -32603, Message: err.Error()}
}

func withContext(slot uint64, value any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": slot}, "value": value}
}

func (l *Ledger) dispatch(r *http.Request, req rpcRequest) (any, *rpcErrorBody) {
	ctx := r.Context()
	slot := l.currentHeight()
	switch req.Method {
	case "getAccountInfo":
		key, err := param[crypto.PublicKey](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		info, err := l.GetAccountInfo(ctx, key)
		if errors.Is(err, coreerrors.ErrNotFound) {
			return withContext(slot, nil), nil
		}
		return withContext(slot, ledger.EncodeAccount(info)), nil
	case "getMultipleAccounts":
		keys, err := param[[]crypto.PublicKey](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		infos, _ := l.GetMultipleAccounts(ctx, keys)
		values := make([]any, len(infos))
		for i, info := range infos {
			values[i] = ledger.EncodeAccount(info)
		}
		return withContext(slot, values), nil
	case "getProgramAccounts":
		program, err := param[crypto.PublicKey](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		cfg, _ := param[struct {
			Filters []struct {
				Memcmp struct {
					Offset int    `json:"offset"`
					Bytes  string `json:"bytes"`
				} `json:"memcmp"`
			} `json:"filters"`
		}](req, 1)
		var filters []ledger.MemcmpFilter
		for _, f := range cfg.Filters {
			raw, err := base64.StdEncoding.DecodeString(f.Memcmp.Bytes)
			if err != nil {
				return nil, invalidParams(err)
			}
			filters = append(filters, ledger.MemcmpFilter{Offset: f.Memcmp.Offset, Bytes: raw})
		}
		accounts, _ := l.GetProgramAccounts(ctx, program, filters...)
		out := make([]map[string]any, len(accounts))
		for i, acct := range accounts {
			info := acct.Account
			out[i] = map[string]any{"pubkey": acct.Pubkey.String(), "account": ledger.EncodeAccount(&info)}
		}
		return out, nil
	case "getLatestBlockhash":
		latest, _ := l.GetLatestBlockhash(ctx)
		return withContext(slot, map[string]any{
			"blockhash":            latest.Blockhash.String(),
			"lastValidBlockHeight": latest.LastValidBlockHeight,
		}), nil
	case "getBlockHeight":
		return slot, nil
	case "sendTransaction":
		encoded, err := param[string](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, invalidParams(err)
		}
		signature, err := l.SendTransaction(ctx, raw)
		if err != nil {
			return nil, fromRPCError(err)
		}
		return signature, nil
	case "getSignatureStatuses":
		signatures, err := param[[]string](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		statuses, _ := l.GetSignatureStatuses(ctx, signatures)
		return withContext(slot, statuses), nil
	case "getBalance":
		key, err := param[crypto.PublicKey](req, 0)
		if err != nil {
			return nil, invalidParams(err)
		}
		balance, _ := l.GetBalance(ctx, key)
		return withContext(slot, balance), nil
	default:
		return nil, &rpcErrorBody{Code: -32601, Message: "Method not found"}
	}
}
