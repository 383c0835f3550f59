package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relaymesh/relayd/pkg/relayerr"
)

// callTimeout is the hard deadline on every PlatformClient call.
const callTimeout = 30 * time.Second

// Client is the HTTP implementation of PlatformClient against one worker
// node. Every call goes through the worker's circuit breaker: a worker whose
// platform session is wedged trips the breaker and stops being handed new
// dispatches until it recovers.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	log       *slog.Logger
}

// NewClient builds a Client for one worker's address and auth token.
func NewClient(address, authToken string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    address,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("worker circuit breaker state change", "worker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		baseURL:   "http://" + address,
		authToken: authToken,
		http:      &http.Client{Timeout: callTimeout},
		breaker:   breaker,
		log:       log,
	}
}

type startSessionRequest struct {
	SessionID string `json:"session_id"`
	AuthBlob  []byte `json:"auth_blob"`
}

type sendRequest struct {
	DestinationChatID int64   `json:"destination_chat_id"`
	Payload           Payload `json:"payload"`
}

type sendResponse struct {
	ForwardedMsgID int64 `json:"forwarded_msg_id"`
}

type editRequest struct {
	DestinationChatID int64   `json:"destination_chat_id"`
	ForwardedMsgID    int64   `json:"forwarded_msg_id"`
	Payload           Payload `json:"payload"`
}

type deleteRequest struct {
	DestinationChatID int64 `json:"destination_chat_id"`
	ForwardedMsgID    int64 `json:"forwarded_msg_id"`
}

type flowControlRequest struct {
	SessionID string `json:"session_id"`
}

func (c *Client) StartSession(ctx context.Context, sessionID string, authBlob []byte) error {
	_, err := c.call(ctx, "POST", "/sessions/start", startSessionRequest{SessionID: sessionID, AuthBlob: authBlob}, nil)
	return err
}

func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, "POST", "/sessions/stop", flowControlRequest{SessionID: sessionID}, nil)
	return err
}

func (c *Client) Send(ctx context.Context, destinationChatID int64, payload Payload) (int64, error) {
	var resp sendResponse
	_, err := c.call(ctx, "POST", "/messages/send", sendRequest{DestinationChatID: destinationChatID, Payload: payload}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ForwardedMsgID, nil
}

func (c *Client) Edit(ctx context.Context, destinationChatID, forwardedMsgID int64, payload Payload) error {
	_, err := c.call(ctx, "POST", "/messages/edit", editRequest{
		DestinationChatID: destinationChatID, ForwardedMsgID: forwardedMsgID, Payload: payload}, nil)
	return err
}

func (c *Client) Delete(ctx context.Context, destinationChatID, forwardedMsgID int64) error {
	_, err := c.call(ctx, "POST", "/messages/delete", deleteRequest{
		DestinationChatID: destinationChatID, ForwardedMsgID: forwardedMsgID}, nil)
	return err
}

func (c *Client) PauseUpdates(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, "POST", "/sessions/pause-updates", flowControlRequest{SessionID: sessionID}, nil)
	return err
}

func (c *Client) ResumeUpdates(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, "POST", "/sessions/resume-updates", flowControlRequest{SessionID: sessionID}, nil)
	return err
}

// call runs one breaker-guarded HTTP round trip and classifies the failure:
// network errors, timeouts, 429 and 5xx become PlatformTransient (retried by
// the pipeline with backoff); any other non-2xx becomes PlatformPermanent.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) (int, error) {
	var status int
	_, err := c.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindInternal, err, "encoding worker request")
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindInternal, err, "building worker request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.authToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindPlatformTransient, err, "worker unreachable")
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindPlatformTransient, err, "reading worker response")
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, relayerr.Newf(relayerr.KindPlatformTransient, "worker returned %d: %s", resp.StatusCode, truncate(data))
		default:
			return nil, relayerr.Newf(relayerr.KindPlatformPermanent, "worker returned %d: %s", resp.StatusCode, truncate(data))
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, relayerr.Wrap(relayerr.KindPlatformPermanent, err, "decoding worker response")
			}
		}
		return nil, nil
	})
	if err != nil {
		// A tripped breaker reads as a transient platform failure so callers
		// back off rather than marking the message permanently failed.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return status, relayerr.Wrap(relayerr.KindPlatformTransient, err, "worker circuit open")
		}
		return status, err
	}
	return status, nil
}

func truncate(data []byte) string {
	const limit = 200
	if len(data) > limit {
		return fmt.Sprintf("%s...", data[:limit])
	}
	return string(data)
}
