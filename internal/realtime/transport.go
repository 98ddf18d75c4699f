package realtime

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConnState is the coarse connection state surfaced to the lifecycle
// controller.
type ConnState string

const (
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
)

// Handler receives transport callbacks. All callbacks may fire from
// transport-owned goroutines.
type Handler struct {
	// OnEvent delivers each parsed server event.
	OnEvent func(*ServerEvent)
	// OnStateChange delivers coarse connection state transitions.
	OnStateChange func(ConnState)
	// OnChannelClose fires when the event channel closes unexpectedly.
	OnChannelClose func(reason string)
	// OnOpen fires once the event channel is ready.
	OnOpen func()
}

// Transport is one realtime media/data connection. Connect performs the
// full negotiation with the ephemeral credential; Send delivers a control
// event, queueing it in order if the channel is not yet open.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Send(event any) error
	Close() error
}

// exchangeSDP posts the raw local offer to the realtime endpoint with
// bearer authorization and returns the remote answer. Non-2xx responses
// come back as *HTTPError with the negotiate context tag.
func exchangeSDP(ctx context.Context, client *http.Client, endpoint, credential, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &HTTPError{StatusCode: res.StatusCode, Body: string(body), Context: ContextNegotiate}
	}
	return string(body), nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
