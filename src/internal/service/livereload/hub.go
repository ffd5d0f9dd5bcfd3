// Package livereload watches the served directory and tells connected
// browsers to reload when something in it changes.
package livereload

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"aphorism/src/internal/domain"
)

const (
	DefaultDebounce = 100 * time.Millisecond
	writeWait       = 5 * time.Second
	sendBuffer      = 4
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Phones on the LAN connect with their own origin
	},
}

type client struct {
	conn *websocket.Conn
	send chan domain.ReloadMessage
}

type Hub struct {
	root     string
	logger   logrus.FieldLogger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New starts watching root and every non-hidden directory below it.
func New(root string, logger logrus.FieldLogger) (*Hub, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	h := &Hub{
		root:     root,
		logger:   logger,
		watcher:  w,
		debounce: DefaultDebounce,
		clients:  make(map[*client]struct{}),
	}
	if err := h.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	return h, nil
}

func (h *Hub) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != h.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return h.watcher.Add(path)
	})
}

// Run pumps filesystem events until ctx is done or the watcher is closed.
// Bursts of events are coalesced into one reload per debounce window.
func (h *Hub) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			rel, ok := h.relevant(ev)
			if !ok {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := h.addTree(ev.Name); err != nil {
						h.logger.WithError(err).WithField("dir", ev.Name).Warn("Could not watch new directory")
					}
				}
			}
			pending = rel
			if timer == nil {
				timer = time.NewTimer(h.debounce)
				timerC = timer.C
			} else {
				timer.Reset(h.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			h.logger.WithField("path", pending).Debug("Change detected, reloading clients")
			h.Broadcast(domain.ReloadMessage{Type: "reload", Path: pending})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// relevant maps an event to its URL path, dropping chmod-only events,
// hidden files and editor backups.
func (h *Hub) relevant(ev fsnotify.Event) (string, bool) {
	if ev.Op == fsnotify.Chmod {
		return "", false
	}
	rel, err := filepath.Rel(h.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if hidden(part) {
			return "", false
		}
	}
	if strings.HasSuffix(rel, "~") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func hidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// Broadcast queues msg for every client. A client whose queue is full
// skips the message; it already has a reload pending.
func (h *Hub) Broadcast(msg domain.ReloadMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and holds it open until the
// browser goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Live reload upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan domain.ReloadMessage, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	go h.writePump(c)

	// Reads only drain control frames; the browser never sends data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.conn.Close()
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	c.conn.Close()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close stops the watcher and disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return h.watcher.Close()
}
