package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server is the tracker's HTTP front end: a fixed-size worker pool fed by
// a bounded channel of accepted connections, each served through a
// single-connection http.Server (spec §4.10).
type Server struct {
	swarm    *Swarm
	snapshot *Snapshot
	counters *Counters

	numWorkers int
	startPort  int
	maxRetries int

	router *mux.Router
	connCh chan net.Conn

	// Port is set to the port actually bound once Run has started
	// listening, which may differ from startPort after retries.
	Port int
}

// NewServer builds a Server. numWorkers is the fixed worker-pool size;
// startPort/maxRetries drive the port-contention retry loop (spec §5 Port
// contention).
func NewServer(swarm *Swarm, snapshot *Snapshot, counters *Counters, numWorkers, startPort, maxRetries int) *Server {
	s := &Server{
		swarm:      swarm,
		snapshot:   snapshot,
		counters:   counters,
		numWorkers: numWorkers,
		startPort:  startPort,
		maxRetries: maxRetries,
		connCh:     make(chan net.Conn, numWorkers*4),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/announce", s.handleAnnounce).Methods(http.MethodGet)
	r.HandleFunc("/database.json", s.handleDatabase).Methods(http.MethodGet)
	r.HandleFunc("/stats.html", assetHandler("assets/stats.html")).Methods(http.MethodGet)
	r.HandleFunc("/docs.html", assetHandler("assets/docs.html")).Methods(http.MethodGet)
	r.HandleFunc("/style.css", assetHandler("assets/style.css")).Methods(http.MethodGet)
	r.HandleFunc("/js/code.js", assetHandler("assets/js/code.js")).Methods(http.MethodGet)
	r.HandleFunc("/", assetHandler("assets/stats.html")).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	return r
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	connections, completed := s.counters.Snapshot()
	s.snapshot.Record(time.Now().UTC().Format(time.RFC3339), connections, completed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot)
}

func assetHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := staticAssets.ReadFile(path)
		if err != nil {
			handleNotFound(w, r)
			return
		}
		w.Write(data)
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	data, err := staticAssets.ReadFile("assets/404.html")
	if err != nil {
		io.WriteString(w, "404 NOT FOUND")
		return
	}
	w.Write(data)
}

// Run binds the configured port (retrying on contention), starts the
// worker pool, and dispatches accepted connections onto it until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, port, err := listenWithRetry(s.startPort, s.maxRetries)
	if err != nil {
		return errors.Wrap(err, "tracker: bind listener")
	}
	s.Port = port
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case s.connCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

func (s *Server) worker(ctx context.Context) {
	for {
		select {
		case conn := <-s.connCh:
			s.serveOne(conn)
		case <-ctx.Done():
			return
		}
	}
}

// serveOne runs a single accepted connection through a one-shot
// http.Server, grounded directly on spec §4.10's "listener dispatches each
// connection onto a free worker via a bounded channel" — the worker pool
// is hand-rolled; only the per-connection HTTP parsing/response writing is
// delegated to net/http.
func (s *Server) serveOne(conn net.Conn) {
	httpSrv := &http.Server{Handler: s.router}
	httpSrv.Serve(&singleConnListener{conn: conn})
}

// singleConnListener is a net.Listener that yields exactly one
// already-accepted connection, then reports itself closed.
type singleConnListener struct {
	conn net.Conn
	used bool
}

var errSingleConnListenerClosed = errors.New("tracker: single-connection listener closed")

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.used {
		return nil, errSingleConnListenerClosed
	}
	l.used = true
	return l.conn, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

// listenWithRetry binds startPort, incrementing and retrying up to
// maxRetries times on "address already in use" (spec §5 Port contention).
func listenWithRetry(startPort, maxRetries int) (net.Listener, int, error) {
	var lastErr error
	for port := startPort; port <= startPort+maxRetries; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			return ln, port, nil
		}
		lastErr = err
		logrus.WithError(err).WithField("port", port).Debug("tracker: bind failed, retrying next port")
	}
	return nil, 0, errors.Wrap(lastErr, "tracker: exhausted port retry ceiling")
}
