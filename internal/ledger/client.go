// Package ledger talks to the external distributed ledger node. The core only
// needs to fetch and validate transactions and to submit outgoing payments and
// escrow finishes; signing and key custody live with the node-side wallet.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TxType enumerates the ledger transaction kinds the core cares about
type TxType string

const (
	TxTypeEscrowCreate TxType = "EscrowCreate"
	TxTypeEscrowFinish TxType = "EscrowFinish"
	TxTypeEscrowCancel TxType = "EscrowCancel"
	TxTypePayment      TxType = "Payment"
)

// Tx is the validated view of a ledger transaction
type Tx struct {
	Hash        string          `json:"hash"`
	Type        TxType          `json:"type"`
	Account     string          `json:"account"`     // sender
	Destination string          `json:"destination"` // receiver
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Issuer      string          `json:"issuer"`
	Condition   string          `json:"condition"` // escrow release commitment, hex
	CancelAfter *time.Time      `json:"cancel_after"`
	Validated   bool            `json:"validated"`
	Successful  bool            `json:"successful"`
}

// Payment describes an outgoing transfer the core asks the node to submit
type Payment struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer"`
	Memo     string          `json:"memo"`
}

// EscrowFinish releases an escrow by presenting the fulfillment
type EscrowFinish struct {
	Owner       string `json:"owner"`
	TxHash      string `json:"tx_hash"` // hash of the EscrowCreate being finished
	Condition   string `json:"condition"`
	Fulfillment string `json:"fulfillment"`
}

// ErrTxNotFound signals that the referenced transaction is unknown to the node
var ErrTxNotFound = errors.New("ledger: transaction not found")

// Client is the narrow interface the lending core needs from the ledger node
type Client interface {
	// Tx fetches a transaction by hash. Returns ErrTxNotFound when the node
	// has no record of it.
	Tx(ctx context.Context, hash string) (*Tx, error)
	// SubmitPayment asks the node to sign and submit a payment, returning the
	// transaction hash once accepted.
	SubmitPayment(ctx context.Context, p Payment) (string, error)
	// FinishEscrow asks the node to finish an escrow, returning the finish
	// transaction hash.
	FinishEscrow(ctx context.Context, f EscrowFinish) (string, error)
}

// HTTPClient implements Client against the node's JSON-RPC endpoint
type HTTPClient struct {
	endpoint string
	http     *http.Client
	log      *logrus.Entry
}

// NewHTTPClient constructs a ledger client with a bounded request timeout.
// The timeout bound matters: a confirmation wait that never returns must
// surface as a transport failure, not hang the caller's single-flight lock.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      logrus.WithField("component", "ledger"),
	}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return errors.Wrap(err, "marshal rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "ledger rpc call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ledger rpc: unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read rpc response")
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return errors.Wrap(err, "unmarshal rpc response")
	}
	if rpc.Error != "" {
		if rpc.Error == "txnNotFound" {
			return ErrTxNotFound
		}
		return errors.Errorf("ledger rpc: %s", rpc.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return errors.Wrap(err, "unmarshal rpc result")
		}
	}
	return nil
}

// Tx fetches a transaction by hash
func (c *HTTPClient) Tx(ctx context.Context, hash string) (*Tx, error) {
	var tx Tx
	if err := c.call(ctx, "tx", map[string]string{"transaction": hash}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SubmitPayment asks the node to sign and submit a payment
func (c *HTTPClient) SubmitPayment(ctx context.Context, p Payment) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "submit_payment", p, &result); err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{
		"to":       p.To,
		"currency": p.Currency,
		"hash":     result.Hash,
	}).Info("payment submitted")
	return result.Hash, nil
}

// FinishEscrow asks the node to finish an escrow
func (c *HTTPClient) FinishEscrow(ctx context.Context, f EscrowFinish) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "escrow_finish", f, &result); err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{
		"owner": f.Owner,
		"hash":  result.Hash,
	}).Info("escrow finished")
	return result.Hash, nil
}
