package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Update is pushed to websocket clients whenever the executable URL of a
// watched path changes. An empty URL means the path has nothing published.
type Update struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// outbox queues updates for one connection. Executable callbacks must not
// block on the network, so pushes only append.
type outbox struct {
	mu     sync.Mutex
	queue  []Update
	signal chan struct{}
}

func (o *outbox) push(u Update) {
	o.mu.Lock()
	o.queue = append(o.queue, u)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []Update {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queue
	o.queue = nil
	return q
}

// ws streams executable changes of the paths matching the glob query
// parameter, "**" by default.
func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	glob := r.URL.Query().Get("glob")
	if glob == "" {
		glob = "**"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		serverLogger.Debug("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	out := &outbox{signal: make(chan struct{}, 1)}
	cancel, err := s.fs.WatchExecutable(glob, func(path, url string) {
		out.push(Update{Path: path, URL: s.publicURL(url)})
	})
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer cancel()
	serverLogger.Debug("Websocket client %s watching %q", r.RemoteAddr, glob)

	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			serverLogger.Debug("Websocket client %s left", r.RemoteAddr)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-out.signal:
			for _, u := range out.take() {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(u); err != nil {
					serverLogger.Debug("Websocket write failed: %v", err)
					return
				}
			}
		}
	}
}

// publicURL rewrites an object URL into one the client can fetch.
func (s *Server) publicURL(url string) string {
	if url == "" {
		return ""
	}
	return s.location(url)
}
