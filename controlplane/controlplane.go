// Package controlplane is a websocket RPC client to an external
// coordinator service that authorises stream bindings and can request a
// remote kill — adapted from the teacher's ControlServerConnection
// (control_connection.go) and its JWT auth header (control_auth.go).
//
// The teacher's coordinator protocol is channel/key shaped (PUBLISH-
// REQUEST/PUBLISH-ACCEPT/PUBLISH-DENY/STREAM-KILL against an RTMP
// "channel" string and a publish "key"). This package keeps that message
// vocabulary and wire shape — it is still the same go-simple-rpc-message
// RPCMessage framing over the same gorilla/websocket connection — but
// repurposes the decision it asks for: instead of approving a publish by
// channel key, it asks the coordinator to approve a connection id binding
// to a NetStream name. RequestBind is exported for an embedder to call;
// nothing in conn or scope calls it, so Scope.GetBean and newStream
// proceed without it.
package controlplane

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/rtmp-connection-core/rlog"
)

// BindResponse is the coordinator's verdict on a RequestBind call.
type BindResponse struct {
	Accepted bool
	StreamID string
}

type pendingRequest struct {
	waiter chan BindResponse
}

// KillHandler is invoked when the coordinator asks that a connection be
// torn down remotely (STREAM-KILL), identified by the same connection id
// the core exposes via Connection.ID().
type KillHandler func(connectionID string)

// Client holds the coordinator connection (spec.md §6 external
// application container, remote-authorisation flavour).
type Client struct {
	connectionURL string
	onKill        KillHandler

	mu            sync.Mutex
	conn          *websocket.Conn
	nextRequestID uint64
	requests      map[string]*pendingRequest
	enabled       bool
}

// New builds a Client from CONTROL_BASE_URL; when unset, the client is
// disabled and RequestBind always accepts locally (stand-alone mode,
// spec.md's transport/controlplane are optional collaborators).
func New(onKill KillHandler) *Client {
	c := &Client{requests: make(map[string]*pendingRequest), onKill: onKill}

	baseURL := os.Getenv("CONTROL_BASE_URL")
	if baseURL == "" {
		rlog.Warning("CONTROL_BASE_URL not provided. Running in stand-alone mode.")
		return c
	}

	parsedBase, err := url.Parse(baseURL)
	if err != nil {
		rlog.Error(err)
		rlog.Warning("CONTROL_BASE_URL invalid. Running in stand-alone mode.")
		return c
	}
	pathURL, _ := url.Parse("/ws/control/rtmp")
	c.connectionURL = parsedBase.ResolveReference(pathURL).String()
	c.enabled = true

	go c.Connect()
	go c.runHeartBeatLoop()
	return c
}

func makeAuthToken() string {
	secret := os.Getenv("CONTROL_SECRET")
	if secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rtmp-connection-core"})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		rlog.Error(err)
		return ""
	}
	return signed
}

// Connect dials the coordinator's websocket endpoint.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}

	rlog.Info("[CONTROLPLANE] Connecting to " + c.connectionURL)

	headers := http.Header{}
	if token := makeAuthToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}

	ws, _, err := websocket.DefaultDialer.Dial(c.connectionURL, headers)
	if err != nil {
		c.mu.Unlock()
		rlog.ErrorMessage("[CONTROLPLANE] Connection error: " + err.Error())
		go c.reconnect()
		return
	}
	c.conn = ws
	c.mu.Unlock()

	go c.runReaderLoop(ws)
}

func (c *Client) reconnect() {
	time.Sleep(10 * time.Second)
	c.Connect()
}

func (c *Client) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	if err != nil {
		rlog.Info("[CONTROLPLANE] Disconnected: " + err.Error())
	}
	go c.Connect()
}

// send writes one RPC message; returns false if there is no live
// connection.
func (c *Client) send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())) == nil
}

func (c *Client) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRequestID
	c.nextRequestID++
	return id
}

func (c *Client) runReaderLoop(ws *websocket.Conn) {
	for {
		if err := ws.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			ws.Close()
			c.onDisconnect(err)
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			c.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(raw))
		c.parseIncoming(&msg)
	}
}

func (c *Client) parseIncoming(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		rlog.ErrorMessage("[CONTROLPLANE] Remote error. Code=" + msg.GetParam("Error-Code") + " / " + msg.GetParam("Error-Message"))
	case "BIND-ACCEPT":
		c.resolve(msg.GetParam("Request-Id"), BindResponse{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "BIND-DENY":
		c.resolve(msg.GetParam("Request-Id"), BindResponse{Accepted: false})
	case "STREAM-KILL":
		if c.onKill != nil {
			c.onKill(msg.GetParam("Connection-Id"))
		}
	}
}

func (c *Client) resolve(requestID string, res BindResponse) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	req.waiter <- res
}

func (c *Client) runHeartBeatLoop() {
	for {
		time.Sleep(20 * time.Second)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestBind asks the coordinator to authorise connectionID binding to
// name, blocking for up to 20 seconds for a reply (spec.md §6, adapted
// from RequestPublish). In stand-alone mode it always accepts.
func (c *Client) RequestBind(connectionID string, name string, remoteAddr string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	requestID := fmt.Sprint(c.nextID())
	req := &pendingRequest{waiter: make(chan BindResponse, 1)}

	c.mu.Lock()
	c.requests[requestID] = req
	c.mu.Unlock()

	sent := c.send(messages.RPCMessage{
		Method: "BIND-REQUEST",
		Params: map[string]string{
			"Request-Id":    requestID,
			"Connection-Id": connectionID,
			"Stream-Name":   name,
			"Remote-Addr":   remoteAddr,
		},
	})
	if !sent {
		c.mu.Lock()
		delete(c.requests, requestID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(20*time.Second, func() {
		select {
		case req.waiter <- BindResponse{Accepted: false}:
		default:
		}
	})
	res := <-req.waiter
	timer.Stop()

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	return res.Accepted, res.StreamID
}

// NotifyEnd tells the coordinator a bound stream ended (spec.md §6,
// adapted from PublishEnd).
func (c *Client) NotifyEnd(connectionID string, streamID string) bool {
	return c.send(messages.RPCMessage{
		Method: "BIND-END",
		Params: map[string]string{
			"Connection-Id": connectionID,
			"Stream-Id":     streamID,
		},
	})
}
