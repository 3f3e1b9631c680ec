// Package admin is a remote-kill listener over Redis pub/sub, adapted
// from the teacher's setupRedisCommandReceiver/parseRedisCommand
// (redis_cmds.go). The wire format (a ">"-delimited command name
// followed by "|"-delimited arguments) is unchanged; the commands
// themselves are retargeted from the teacher's RTMP-channel/stream-id
// pair to the connection core's own identifiers — a connection id for
// kill-connection, a (connection id, stream id) pair for close-stream.
package admin

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgustinSRG/rtmp-connection-core/rlog"
)

// KillFunc tears down a connection by id.
type KillFunc func(connectionID string)

// CloseStreamFunc tears down a single stream on a connection.
type CloseStreamFunc func(connectionID string, streamID uint32)

// Listener subscribes to a Redis channel and dispatches kill/close-stream
// commands (spec.md §6, supplemented admin surface).
type Listener struct {
	kill         KillFunc
	closeStream  CloseStreamFunc
}

// New returns a Listener; call Run to block and start consuming.
func New(kill KillFunc, closeStream CloseStreamFunc) *Listener {
	return &Listener{kill: kill, closeStream: closeStream}
}

// Run subscribes to REDIS_CHANNEL (default "rtmp_commands") and blocks,
// dispatching commands until ctx is cancelled. A no-op when REDIS_USE is
// not "YES" (spec.md admin/ is an optional collaborator).
func (l *Listener) Run(ctx context.Context) {
	if os.Getenv("REDIS_USE") != "YES" {
		return
	}

	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	password := os.Getenv("REDIS_PASSWORD")
	channelName := os.Getenv("REDIS_CHANNEL")
	if channelName == "" {
		channelName = "rtmp_commands"
	}

	opts := &redis.Options{Addr: host + ":" + port, Password: password}
	if os.Getenv("REDIS_TLS") == "YES" {
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	sub := client.Subscribe(ctx, channelName)
	defer sub.Close()

	rlog.Info("[REDIS] Listening for commands on channel '" + channelName + "'")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rlog.Warning("Could not connect to Redis: " + err.Error())
			time.Sleep(10 * time.Second)
			continue
		}
		l.dispatch(msg.Payload)
	}
}

func (l *Listener) dispatch(cmd string) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case error:
				rlog.Error(x)
			default:
				rlog.Error(errors.New("admin: panic parsing command"))
			}
			rlog.Warning("Could not parse message: " + cmd)
		}
	}()

	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		rlog.Warning("Invalid message from admin channel: " + cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-connection":
		if len(args) < 1 {
			rlog.Warning("Invalid message from admin channel: " + cmd)
			return
		}
		if l.kill != nil {
			l.kill(args[0])
		}
	case "close-stream":
		if len(args) < 2 {
			rlog.Warning("Invalid message from admin channel: " + cmd)
			return
		}
		streamID, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			rlog.Warning("Invalid stream id in admin command: " + cmd)
			return
		}
		if l.closeStream != nil {
			l.closeStream(args[0], uint32(streamID))
		}
	default:
		rlog.Warning("Unknown admin command: " + cmd)
	}
}
