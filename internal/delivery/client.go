package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// maxAckBody caps how much of the robot's reply is kept
const maxAckBody = 512

// CommandRequest is the JSON body the robot endpoint expects
type CommandRequest struct {
	Command string `json:"command"`
}

// Client posts translated commands to the robot endpoint
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *logger.Logger
}

var _ pipeline.Deliverer = (*Client)(nil)

// NewClient creates a delivery client with keep-alive connections
func NewClient(timeout time.Duration, userAgent string, logger *logger.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
		logger:    logger.Named("delivery-client"),
	}
}

// Deliver posts {"command": command} to endpointURL. Any 2xx status is a
// success; other statuses are DeliveryRejected and transport failures are
// DeliveryUnreachable. Commands are never retried.
func (c *Client) Deliver(ctx context.Context, endpointURL, command string) (pipeline.DeliveryAck, error) {
	payload, err := json.Marshal(CommandRequest{Command: command})
	if err != nil {
		return pipeline.DeliveryAck{}, fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return pipeline.DeliveryAck{}, pipeline.ErrDeliveryUnreachable.Wrap(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("Sending command",
		logger.String("url", endpointURL),
		logger.String("command", command))

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.DeliveryAck{}, pipeline.ErrDeliveryUnreachable.Wrap(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBody))
	if err != nil {
		c.logger.Warn("Failed to read response body", logger.Error(err))
	}

	ack := pipeline.DeliveryAck{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Robot endpoint rejected command",
			logger.String("url", endpointURL),
			logger.Int("status_code", resp.StatusCode),
			logger.String("response_body", ack.Body))
		detail := "server responded with status code " + strconv.Itoa(resp.StatusCode)
		if ack.Body != "" {
			detail += ": " + ack.Body
		}
		return ack, &pipeline.Error{
			Kind:   pipeline.KindDeliveryRejected,
			Status: strconv.Itoa(resp.StatusCode),
			Detail: detail,
		}
	}

	c.logger.Info("Command delivered",
		logger.String("url", endpointURL),
		logger.Int("status_code", resp.StatusCode),
		logger.Duration("duration", time.Since(started)))

	return ack, nil
}
