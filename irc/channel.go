package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

const chanCapacity = 64

// Outbound lines are throttled to stay under common server flood limits.
// PONG replies are not.
const (
	sendRate  = rate.Limit(2)
	sendBurst = 10
)

// Keepalive timings; a PING is sent after keepAlive of silence and the
// connection is reset after keepAlive+maxRTT.
var (
	keepAlive     = 30 * time.Second
	maxRTT        = 10 * time.Second
	keepAliveTick = time.Second
)

// ChanInOut reads lines from conn into in and writes messages sent to out.
// Lines are delivered in arrival order. in is closed when the connection is
// lost; closing out closes the connection once the messages queued before
// are written.
//
// Sending on out never waits for the network or the rate limiter: messages
// are queued without bound until the writer takes them. Once the writer has
// stopped, messages sent on out are dropped.
func ChanInOut(conn net.Conn) (in <-chan string, out chan<- Message) {
	in_ := make(chan string, chanCapacity)
	out_ := make(chan Message, chanCapacity)
	send := make(chan Message)
	done := make(chan struct{})

	keepAlive, maxRTT, tick := keepAlive, maxRTT, keepAliveTick
	var last atomic.Value
	last.Store(time.Now())

	go func() {
		r := bufio.NewScanner(conn)
		for r.Scan() {
			now := time.Now()
			last.Store(now)
			conn.SetReadDeadline(now.Add(keepAlive + maxRTT))
			in_ <- r.Text()
		}
		if err := r.Err(); err != nil {
			glog.V(1).Infof("[conn] read error = %s", err)
		}
		close(in_)
	}()

	go func() {
		defer close(send)
		var src <-chan Message = out_
		var queue []Message
		for src != nil || len(queue) > 0 {
			var next chan<- Message
			var head Message
			if len(queue) > 0 {
				next, head = send, queue[0]
			}
			select {
			case msg, ok := <-src:
				if !ok {
					src = nil
					continue
				}
				if msg.Command == "PONG" {
					queue = append([]Message{msg}, queue...)
				} else {
					queue = append(queue, msg)
				}
			case next <- head:
				queue = queue[1:]
			case <-done:
				// keep senders from blocking until out is closed
				if src != nil {
					for range src {
					}
				}
				return
			}
		}
	}()

	go func() {
		defer close(done)
		t := time.NewTicker(tick)
		defer t.Stop()
		limiter := rate.NewLimiter(sendRate, sendBurst)
	outer:
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					break outer
				}
				if msg.Command != "PONG" {
					if err := limiter.Wait(context.Background()); err != nil {
						break outer
					}
				}

				last.Store(time.Now())
				_, err := fmt.Fprintf(conn, "%s\r\n", msg.String())
				if err != nil {
					glog.V(1).Infof("[conn] write error = %s", err)
					break outer
				}
			case <-t.C:
				now := time.Now()
				if last.Load().(time.Time).Add(keepAlive).After(now) {
					continue
				}
				if last.Load().(time.Time).Add(keepAlive + maxRTT).Before(now) {
					// probably out of sleep, reset connection
					conn.Close()
					continue
				}
				last.Store(now)
				_, err := fmt.Fprint(conn, "PING _\r\n")
				if err != nil {
					break outer
				}
			}
		}
		_ = conn.Close()
	}()

	return in_, out_
}
