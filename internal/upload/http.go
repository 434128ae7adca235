package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-soundgate/internal/config"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Request headers carrying the payload metadata.
const (
	HeaderDeviceID     = "X-Device-ID"
	HeaderSessionID    = "X-Session-ID"
	HeaderSampleRate   = "X-Sample-Rate"
	HeaderSampleFormat = "X-Sample-Format"
	HeaderChannels     = "X-Channels"
)

// maxResponseBody bounds how much of a response is read for logging.
const maxResponseBody = 4096

// HTTPClient POSTs raw PCM as application/octet-stream.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a client for endpoint. When oauth is configured,
// requests carry a client-credentials bearer token.
func NewHTTPClient(endpoint string, timeout time.Duration, oauth config.OAuthConfig) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("upload endpoint not configured")
	}

	// Base client with timeout to prevent indefinite hangs
	base := &http.Client{Timeout: timeout}
	client := base
	if oauth.IsConfigured() {
		conf := &clientcredentials.Config{
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			TokenURL:     oauth.TokenURL,
			Scopes:       oauth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = conf.Client(ctx)
		client.Timeout = timeout
	}

	return &HTTPClient{endpoint: endpoint, client: client}, nil
}

// uploadResponse is the optional JSON acknowledgement of the receiver.
type uploadResponse struct {
	BytesReceived int64 `json:"bytes_received"`
}

// Upload implements Client.
func (c *HTTPClient) Upload(ctx context.Context, p *types.Payload) (types.UploadResult, error) {
	if err := checkPayload(p); err != nil {
		return types.UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(p.Data))
	if err != nil {
		return types.UploadResult{}, util.WrapError("create upload request", err)
	}
	req.ContentLength = int64(len(p.Data))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderDeviceID, p.DeviceID)
	req.Header.Set(HeaderSessionID, p.SessionID)
	req.Header.Set(HeaderSampleRate, strconv.Itoa(p.SampleRate))
	req.Header.Set(HeaderSampleFormat, types.SampleFormat)
	req.Header.Set(HeaderChannels, strconv.Itoa(types.Channels))

	resp, err := c.client.Do(req)
	if err != nil {
		return types.UploadResult{}, util.WrapError("send upload request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "upload response body")()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // body is informational
	result := types.UploadResult{StatusCode: resp.StatusCode}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	result.BytesSent = int64(len(p.Data))

	var ack uploadResponse
	if json.Unmarshal(body, &ack) == nil && ack.BytesReceived > 0 && ack.BytesReceived != result.BytesSent {
		slog.Warn("receiver acknowledged a different size",
			"session_id", p.SessionID, "bytes_sent", result.BytesSent, "bytes_received", ack.BytesReceived)
	}
	return result, nil
}
