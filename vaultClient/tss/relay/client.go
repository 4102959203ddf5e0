// Package relay is the HTTP client of the rendezvous server that stores and
// forwards encrypted ceremony messages between parties.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

// MessageIDHeader scopes message and keysign-completion requests to one signed message.
const MessageIDHeader = "message_id"

const maxResponseBytes = 8 << 20

// Message is one encrypted protocol message as stored by the relay.
type Message struct {
	SessionID  string   `json:"session_id"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Body       string   `json:"body"`        // base64 ciphertext
	Hash       string   `json:"hash"`        // md5 of the plaintext body
	SequenceNo int64    `json:"sequence_no"` // per-sender ordering
}

// Client talks to a relay or a local mediator. The server address is taken
// from the session on every call so a discovered mediator needs no new client.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a relay client backed by a pooled transport.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http:   cleanhttp.DefaultPooledClient(),
		logger: logger.With().Str("component", "relay_client").Logger(),
	}
}

// RegisterParties announces parties as present in the session (POST /{sessionId}).
func (c *Client) RegisterParties(ctx context.Context, sess session.Session, parties []string) error {
	_, err := c.doJSON(ctx, http.MethodPost, sess, "/"+url.PathEscape(sess.ID()), "", parties, nil)
	return err
}

// Participants lists parties that joined the session (GET /{sessionId}).
func (c *Client) Participants(ctx context.Context, sess session.Session) ([]string, error) {
	var parties []string
	if _, err := c.doJSON(ctx, http.MethodGet, sess, "/"+url.PathEscape(sess.ID()), "", nil, &parties); err != nil {
		return nil, err
	}
	return parties, nil
}

// EndSession removes the session from the relay (DELETE /{sessionId}).
func (c *Client) EndSession(ctx context.Context, sess session.Session) error {
	_, err := c.doJSON(ctx, http.MethodDelete, sess, "/"+url.PathEscape(sess.ID()), "", nil, nil)
	return err
}

// StartSession publishes the finalized committee (POST /start/{sessionId}).
func (c *Client) StartSession(ctx context.Context, sess session.Session, committee []string) error {
	_, err := c.doJSON(ctx, http.MethodPost, sess, "/start/"+url.PathEscape(sess.ID()), "", committee, nil)
	return err
}

// StartedCommittee returns the committee once the initiator started the
// session. started is false while the relay answers with a non-200 status.
func (c *Client) StartedCommittee(ctx context.Context, sess session.Session) (committee []string, started bool, err error) {
	status, body, err := c.do(ctx, http.MethodGet, sess, "/start/"+url.PathEscape(sess.ID()), "", nil)
	if err != nil {
		return nil, false, err
	}
	if status != http.StatusOK {
		return nil, false, nil
	}
	if err := json.Unmarshal(body, &committee); err != nil {
		return nil, false, vcerrors.NewNetworkError("malformed start response", err)
	}
	return committee, true, nil
}

// MarkComplete reports parties as done with all rounds (POST /complete/{sessionId}).
func (c *Client) MarkComplete(ctx context.Context, sess session.Session, parties []string) error {
	_, err := c.doJSON(ctx, http.MethodPost, sess, "/complete/"+url.PathEscape(sess.ID()), "", parties, nil)
	return err
}

// CompletedParties returns the parties that reported completion (GET /complete/{sessionId}).
// A session nobody completed yet yields an empty list.
func (c *Client) CompletedParties(ctx context.Context, sess session.Session) ([]string, error) {
	status, body, err := c.do(ctx, http.MethodGet, sess, "/complete/"+url.PathEscape(sess.ID()), "", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError(http.MethodGet, "/complete", status)
	}
	var parties []string
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &parties); err != nil {
		return nil, vcerrors.NewNetworkError("malformed complete response", err)
	}
	return parties, nil
}

// MarkKeysignComplete stores the result of a signed message (POST /complete/{sessionId}/keysign).
func (c *Client) MarkKeysignComplete(ctx context.Context, sess session.Session, messageID string, payload []byte) error {
	status, _, err := c.do(ctx, http.MethodPost, sess, "/complete/"+url.PathEscape(sess.ID())+"/keysign", messageID, payload)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return statusError(http.MethodPost, "/complete/keysign", status)
	}
	return nil
}

// KeysignResult fetches a result previously stored with MarkKeysignComplete.
func (c *Client) KeysignResult(ctx context.Context, sess session.Session, messageID string) ([]byte, bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, sess, "/complete/"+url.PathEscape(sess.ID())+"/keysign", messageID, nil)
	if err != nil {
		return nil, false, err
	}
	switch {
	case status == http.StatusOK && len(body) > 0:
		return body, true, nil
	case status == http.StatusOK, status == http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, statusError(http.MethodGet, "/complete/keysign", status)
	}
}

// PostMessage uploads one encrypted message (POST /message/{sessionId}).
func (c *Client) PostMessage(ctx context.Context, sess session.Session, messageID string, msg Message) error {
	_, err := c.doJSON(ctx, http.MethodPost, sess, "/message/"+url.PathEscape(sess.ID()), messageID, msg, nil)
	return err
}

// Messages lists messages waiting for partyID (GET /message/{sessionId}/{partyId}).
func (c *Client) Messages(ctx context.Context, sess session.Session, partyID, messageID string) ([]Message, error) {
	path := "/message/" + url.PathEscape(sess.ID()) + "/" + url.PathEscape(partyID)
	status, body, err := c.do(ctx, http.MethodGet, sess, path, messageID, nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError(http.MethodGet, "/message", status)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, vcerrors.NewNetworkError("malformed message list", err)
	}
	return msgs, nil
}

// DeleteMessage acknowledges a consumed message (DELETE /message/{sessionId}/{partyId}/{hash}).
func (c *Client) DeleteMessage(ctx context.Context, sess session.Session, partyID, hash, messageID string) error {
	path := "/message/" + url.PathEscape(sess.ID()) + "/" + url.PathEscape(partyID) + "/" + url.PathEscape(hash)
	_, err := c.doJSON(ctx, http.MethodDelete, sess, path, messageID, nil, nil)
	return err
}

// doJSON sends an optional JSON body and decodes an optional JSON response.
// Any non-2xx status is an error.
func (c *Client) doJSON(ctx context.Context, method string, sess session.Session, path, messageID string, in, out any) (int, error) {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return 0, vcerrors.NewInternalError("failed to encode relay request", err)
		}
	}
	status, body, err := c.do(ctx, method, sess, path, messageID, payload)
	if err != nil {
		return status, err
	}
	if status/100 != 2 {
		return status, statusError(method, path, status)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return status, vcerrors.NewNetworkError("malformed relay response", err)
		}
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method string, sess session.Session, path, messageID string, payload []byte) (int, []byte, error) {
	if sess.ServerAddress() == "" {
		return 0, nil, vcerrors.NewValidationError("session has no server address")
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, sess.ServerAddress()+path, reader)
	if err != nil {
		return 0, nil, vcerrors.NewInternalError("failed to build relay request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if messageID != "" {
		req.Header.Set(MessageIDHeader, messageID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, vcerrors.NewNetworkError(fmt.Sprintf("%s %s failed", method, path), err).WithSession(sess.ID())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, vcerrors.NewNetworkError("failed to read relay response", err).WithSession(sess.ID())
	}

	c.logger.Debug().
		Str("session_id", sess.ID()).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("relay request")

	return resp.StatusCode, body, nil
}

func statusError(method, path string, status int) error {
	return vcerrors.NewNetworkError(fmt.Sprintf("%s %s returned status %d", method, path, status), nil).
		WithContext("status", status)
}
