package broadcast

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/seatwise/synckit/observe"
)

// consumeSSE opens the Server-Sent Events fallback stream and pumps events
// until the connection drops. Returns true if the stream opened successfully.
func (l *Listener) consumeSSE(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(l.config.BaseURL, "/")+SSEPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if l.config.Token != nil {
		if token := l.config.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// No client timeout: the stream is long-lived and bounded by ctx.
	resp, err := (&http.Client{}).Do(req)
	l.metrics.RecordReconnect(ctx, "sse", err)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	l.setState(StateConnected)
	l.logger.Info(ctx, "push transport connected",
		observe.Field{Key: "transport", Value: "sse"})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates one event.
			if data.Len() > 0 {
				l.dispatch(ctx, []byte(data.String()))
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment/heartbeat line, ignore.
		}
	}
	return true
}
