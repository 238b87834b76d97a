package volc

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxHandshakeBody = 4096

// Credentials authenticate one connection. ResourceID selects the product
// (for example volc.bigasr.sauc.duration or seed-tts-1.0).
type Credentials struct {
	AppKey     string
	AccessKey  string
	ResourceID string
}

// HandshakeError is returned when the server refuses the websocket upgrade.
type HandshakeError struct {
	StatusCode int
	Body       string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d: %s", e.StatusCode, e.Body)
}

// Dial opens an authenticated connection and returns it with its connect id.
// The connection is closed when ctx is done, since reads do not observe ctx;
// call the returned stop func once the exchange is over.
func Dial(ctx context.Context, dialer *websocket.Dialer, endpoint string, creds Credentials) (*websocket.Conn, string, func() bool, error) {
	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", creds.AppKey)
	header.Set("X-Api-Access-Key", creds.AccessKey)
	header.Set("X-Api-Resource-Id", creds.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
			resp.Body.Close()
			return nil, "", nil, &HandshakeError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		return nil, "", nil, fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[volc] connected resource=%s logid=%s", creds.ResourceID, logid)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return conn, connectID, stop, nil
}
