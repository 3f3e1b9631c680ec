// Package rlog is the default structured-ish line logger used by the
// connection core's demo binary and collaborator implementations.
//
// The core itself never imports this package directly — it logs through
// the conn.Logger interface so callers can plug in their own sink.
package rlog

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var mutex sync.Mutex

func line(level string, msg string) {
	tm := time.Now()
	mutex.Lock()
	defer mutex.Unlock()
	fmt.Printf("[%s] [%s] %s\n", tm.Format("2006-01-02 15:04:05"), level, msg)
}

// Info logs an informational line.
func Info(msg string) {
	line("INFO", msg)
}

// Warning logs a warning line.
func Warning(msg string) {
	line("WARNING", msg)
}

// Error logs an error.
func Error(err error) {
	line("ERROR", err.Error())
}

// ErrorMessage logs an error-level line without an error value.
func ErrorMessage(msg string) {
	line("ERROR", msg)
}

var debugEnabled = os.Getenv("RTMP_LOG_DEBUG") == "YES"

// Debug logs a debug line, gated by RTMP_LOG_DEBUG=YES.
func Debug(msg string) {
	if debugEnabled {
		line("DEBUG", msg)
	}
}

// Session logs a line prefixed with a connection id and remote address.
func Session(id string, remoteAddr string, msg string) {
	line("SESSION", "#"+id+" ("+remoteAddr+") "+msg)
}

// DebugSession is the debug-gated counterpart of Session.
func DebugSession(id string, remoteAddr string, msg string) {
	if debugEnabled {
		line("DEBUG", "#"+id+" ("+remoteAddr+") "+msg)
	}
}

// Request logs a request-style line, matching the teacher's LogRequest.
// Controlled by RTMP_LOG_REQUESTS (default: enabled).
var requestsEnabled = os.Getenv("RTMP_LOG_REQUESTS") != "NO"

func Request(id string, remoteAddr string, msg string) {
	if requestsEnabled {
		line("REQUEST", "#"+id+" ("+remoteAddr+") "+msg)
	}
}

// Counter formats a named counter for debug lines, e.g. droppedMessages.
func Counter(name string, value uint64) string {
	return name + "=" + strconv.FormatUint(value, 10)
}
