package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Traffic is one up/down throughput sample in bytes per second.
type Traffic struct {
	Up   int64 `json:"up"`
	Down int64 `json:"down"`
}

// TrafficSamples streams count samples from the controller's /traffic
// websocket, which pushes one frame per second.
func (c *Client) TrafficSamples(count int) ([]Traffic, error) {
	if count <= 0 {
		count = 1
	}
	endpoint := wsEndpoint(c.BaseURL, "/traffic")
	header := http.Header{}
	c.applySecret(header)

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, resp, err := dialer.Dial(endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to %s: %w (%s)", endpoint, err, resp.Status)
		}
		return nil, fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	defer conn.Close()

	samples := make([]Traffic, 0, count)
	for len(samples) < count {
		// Frames arrive once per second; allow generous slack.
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return samples, err
		}
		var sample Traffic
		if err := conn.ReadJSON(&sample); err != nil {
			return samples, fmt.Errorf("reading traffic frame: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func wsEndpoint(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + path
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + path
	}
	return "ws://" + base + path
}
