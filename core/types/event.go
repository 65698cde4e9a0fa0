package types

// Event is an audit record of a confirmed ledger transition. Attributes carry
// base58 addresses and decimal amounts.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
