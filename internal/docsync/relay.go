// Package docsync is the coordinator's boundary to the external CRDT
// document service. The coordinator never parses the document protocol; it
// moves opaque frames between the connections of one named document.
package docsync

import (
	"sync"
	"time"

	"collab-app/pkg/logger"

	"github.com/gorilla/websocket"
)

// Collaborator consumes a raw document stream. ServeDocument owns the
// connection until it returns. The external CRDT service satisfies this
// interface; Relay is the in-process implementation.
type Collaborator interface {
	ServeDocument(conn *websocket.Conn, document string)
}

const (
	docPongWait   = 60 * time.Second
	docPingPeriod = 54 * time.Second
	docWriteWait  = 10 * time.Second

	docSendBuffer = 64
)

// Relay forwards every frame received on a document verbatim to the
// document's other connections. Message type and payload pass through
// untouched; the relay has no opinion about what the bytes mean.
type Relay struct {
	mu   sync.Mutex
	docs map[string]map[*docConn]struct{}
}

// docConn's send channel is never closed; forward may race with detach, so
// the write pump is terminated through done instead.
type docConn struct {
	conn *websocket.Conn
	send chan frame
	done chan struct{}
}

type frame struct {
	messageType int
	data        []byte
}

func NewRelay() *Relay {
	return &Relay{docs: make(map[string]map[*docConn]struct{})}
}

// ServeDocument attaches a connection to a document and relays until the
// connection closes. Blocks for the connection's lifetime.
func (r *Relay) ServeDocument(conn *websocket.Conn, document string) {
	dc := &docConn{
		conn: conn,
		send: make(chan frame, docSendBuffer),
		done: make(chan struct{}),
	}
	r.attach(document, dc)
	logger.Debug("Document %q gained a connection", document)

	go dc.writePump()

	defer func() {
		r.detach(document, dc)
		conn.Close()
		logger.Debug("Document %q lost a connection", document)
	}()

	conn.SetReadDeadline(time.Now().Add(docPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(docPongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.forward(document, dc, frame{messageType: messageType, data: data})
	}
}

func (r *Relay) attach(document string, dc *docConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.docs[document]
	if !ok {
		peers = make(map[*docConn]struct{})
		r.docs[document] = peers
	}
	peers[dc] = struct{}{}
}

func (r *Relay) detach(document string, dc *docConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.docs[document]
	if !ok {
		return
	}
	if _, present := peers[dc]; !present {
		return
	}
	delete(peers, dc)
	close(dc.done)
	if len(peers) == 0 {
		delete(r.docs, document)
	}
}

// forward queues a frame to every other connection on the document.
// Non-blocking: a connection that cannot keep up, or one that detached
// after the snapshot, misses frames rather than holding the document back.
// Sends into peer.send are safe against a concurrent detach because the
// channel is never closed.
func (r *Relay) forward(document string, from *docConn, f frame) {
	r.mu.Lock()
	targets := make([]*docConn, 0, len(r.docs[document]))
	for peer := range r.docs[document] {
		if peer != from {
			targets = append(targets, peer)
		}
	}
	r.mu.Unlock()

	for _, peer := range targets {
		select {
		case peer.send <- f:
		case <-peer.done:
		default:
			logger.Debug("Dropped document frame for slow connection on %q", document)
		}
	}
}

// DocumentCount reports the number of documents with at least one
// connection.
func (r *Relay) DocumentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func (dc *docConn) writePump() {
	ticker := time.NewTicker(docPingPeriod)
	defer func() {
		ticker.Stop()
		dc.conn.Close()
	}()

	for {
		select {
		case <-dc.done:
			dc.conn.SetWriteDeadline(time.Now().Add(docWriteWait))
			dc.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-dc.send:
			dc.conn.SetWriteDeadline(time.Now().Add(docWriteWait))
			if err := dc.conn.WriteMessage(f.messageType, f.data); err != nil {
				return
			}

		case <-ticker.C:
			dc.conn.SetWriteDeadline(time.Now().Add(docWriteWait))
			if err := dc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
