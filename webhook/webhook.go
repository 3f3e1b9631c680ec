// Package webhook sends JWT-signed start/stop notifications for bound
// streams to an external HTTP endpoint, adapted from the teacher's
// SendStartCallback/SendStopCallback (rtmp_callback.go). The teacher
// signed a golang-jwt/jwt v3 token; this package signs with v5, the
// version the rest of the module already depends on, keeping the same
// claim shape retargeted from the teacher's channel/key pair to the
// connection core's connection id/stream name.
package webhook

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AgustinSRG/rtmp-connection-core/rlog"
)

const expirationSeconds = 120

// Notifier posts signed start/stop events to CallbackURL; a zero value
// with an empty URL is a no-op (spec.md §6, optional collaborator).
type Notifier struct {
	URL     string
	Secret  string
	Subject string
	Client  *http.Client
}

// New builds a Notifier; url == "" disables it.
func New(url, secret, subject string) *Notifier {
	if subject == "" {
		subject = "rtmp_event"
	}
	return &Notifier{URL: url, Secret: secret, Subject: subject, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *Notifier) sign(claims jwt.MapClaims) (string, error) {
	claims["sub"] = n.Subject
	claims["exp"] = time.Now().Unix() + expirationSeconds
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(n.Secret))
}

func (n *Notifier) post(claims jwt.MapClaims) (streamID string, ok bool) {
	if n == nil || n.URL == "" {
		return "", true
	}

	signed, err := n.sign(claims)
	if err != nil {
		rlog.Error(err)
		return "", false
	}

	req, err := http.NewRequest(http.MethodPost, n.URL, nil)
	if err != nil {
		rlog.Error(err)
		return "", false
	}
	req.Header.Set("rtmp-event", signed)

	res, err := n.Client.Do(req)
	if err != nil {
		rlog.Error(err)
		return "", false
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		rlog.Warning(fmt.Sprintf("callback request ended with status code %d", res.StatusCode))
		return "", false
	}
	return res.Header.Get("stream-id"), true
}

// NotifyStart posts a "start" event for connectionID binding to name,
// returning any externally assigned stream id from the response header.
func (n *Notifier) NotifyStart(connectionID, name, remoteAddr string) (streamID string, ok bool) {
	return n.post(jwt.MapClaims{
		"event":     "start",
		"connection_id": connectionID,
		"name":      name,
		"client_ip": remoteAddr,
	})
}

// NotifyStop posts a "stop" event for a previously started binding.
func (n *Notifier) NotifyStop(connectionID, name, streamID, remoteAddr string) bool {
	_, ok := n.post(jwt.MapClaims{
		"event":     "stop",
		"connection_id": connectionID,
		"name":      name,
		"stream_id": streamID,
		"client_ip": remoteAddr,
	})
	return ok
}
