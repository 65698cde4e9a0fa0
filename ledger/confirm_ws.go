package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stakeshack/observability"
)

// WebsocketConfirmer waits on a signatureSubscribe notification. When the
// socket cannot be opened, or drops before the notification, it falls back to
// polling.
type WebsocketConfirmer struct {
	url        string
	commitment Commitment
	fallback   *PollingConfirmer
	logger     *slog.Logger
	metrics    *observability.EscrowClientMetrics
}

// NewWebsocketConfirmer subscribes at url. fallback also performs the initial
// status check that covers transactions confirmed before the subscription.
func NewWebsocketConfirmer(url string, commitment Commitment, fallback *PollingConfirmer, logger *slog.Logger) *WebsocketConfirmer {
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketConfirmer{
		url:        url,
		commitment: commitment,
		fallback:   fallback,
		logger:     logger,
		metrics:    observability.EscrowClient(),
	}
}

type socketLostError struct {
	err error
}

func (e *socketLostError) Error() string {
	return "websocket closed: " + e.err.Error()
}

type subscribeResponse struct {
	ID     int64            `json:"id"`
	Result *int64           `json:"result"`
	Error  *jsonRPCErrorObj `json:"error"`
	Method string           `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (w *WebsocketConfirmer) Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	started := time.Now()
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		w.logger.Warn("websocket confirmer unavailable, polling instead", "error", err)
		return w.fallback.Confirm(ctx, signature, lastValidBlockHeight)
	}
	defer conn.Close(websocket.StatusNormalClosure, "confirmation complete")

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []any{signature, map[string]any{"commitment": string(w.commitment)}},
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return w.fallback.Confirm(ctx, signature, lastValidBlockHeight)
	}

	// The transaction may have landed before the subscription existed.
	if done, err := w.fallback.check(ctx, signature, 0); done {
		return err
	}

	notifications := make(chan error, 1)
	go func() {
		for {
			var msg subscribeResponse
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				notifications <- &socketLostError{err: err}
				return
			}
			if msg.Error != nil {
				notifications <- newRPCError("signatureSubscribe", msg.Error)
				return
			}
			if msg.Method != "signatureNotification" || msg.Params == nil {
				continue
			}
			if raw := msg.Params.Result.Value.Err; len(raw) > 0 && string(raw) != "null" {
				notifications <- &onChainError{raw: string(raw)}
				return
			}
			notifications <- nil
			return
		}
	}()

	var expiry <-chan time.Time
	if lastValidBlockHeight > 0 {
		ticker := time.NewTicker(w.fallback.interval * 4)
		defer ticker.Stop()
		expiry = ticker.C
	}
	for {
		select {
		case err := <-notifications:
			var lost *socketLostError
			if errors.As(err, &lost) {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
				}
				w.logger.Warn("websocket dropped while confirming, polling instead",
					"signature", signature, "error", lost.err)
				return w.fallback.Confirm(ctx, signature, lastValidBlockHeight)
			}
			if err == nil {
				w.metrics.ObserveConfirmation("websocket", time.Since(started))
			}
			return err
		case <-expiry:
			if done, err := w.fallback.check(ctx, signature, lastValidBlockHeight); done {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
		}
	}
}
