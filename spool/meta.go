package spool

//go:generate msgp -tests=false

import (
	"time"
)

// Meta is the envelope sidecar written next to a spooled message.
type Meta struct {
	ID         string            `msg:"id"`
	From       string            `msg:"from"`
	To         []string          `msg:"to"`
	Params     map[string]string `msg:"params"`
	Helo       string            `msg:"helo"`
	RemoteAddr string            `msg:"remote"`
	TLS        bool              `msg:"tls"`
	Size       int64             `msg:"size"`
	ReceivedAt time.Time         `msg:"received_at"`
}
