package server

import (
	"clipd/internal/hub"
	"clipd/internal/storage"
	"clipd/internal/thumbnail"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config holds the server listen addresses and retention settings.
type Config struct {
	IngestSocket string
	ClientSocket string
	HTTPAddr     string
	MaxItems     int
}

// Server owns the ingest and subscriber listeners plus the HTTP
// status/websocket surface.
type Server struct {
	store      storage.Store
	hub        *hub.Hub
	thumbnails *thumbnail.Pipeline
	log        *zap.SugaredLogger
	config     Config

	pid      *pidFile
	ingestLn net.Listener
	clientLn net.Listener
	httpSrv  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(store storage.Store, h *hub.Hub, thumbnails *thumbnail.Pipeline, config Config, log *zap.SugaredLogger) *Server {
	return &Server{
		store:      store,
		hub:        h,
		thumbnails: thumbnails,
		log:        log,
		config:     config,
	}
}

// Start claims the pidfile, opens both unix sockets and the HTTP server,
// and launches the accept loops.
func (s *Server) Start(ctx context.Context) error {
	pid, err := newPIDFile()
	if err != nil {
		return err
	}
	if err := pid.acquire(); err != nil {
		return err
	}
	s.pid = pid

	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx

	s.ingestLn, err = listenUnix(s.config.IngestSocket)
	if err != nil {
		return fmt.Errorf("failed to listen on ingest socket: %w", err)
	}
	s.clientLn, err = listenUnix(s.config.ClientSocket)
	if err != nil {
		s.ingestLn.Close()
		return fmt.Errorf("failed to listen on client socket: %w", err)
	}

	s.wg.Add(2)
	go s.acceptLoop(ctx, s.ingestLn, s.handleIngestConn)
	go s.acceptLoop(ctx, s.clientLn, s.handleClientConn)

	s.startHTTP()

	s.log.Infow("server started",
		"ingest_socket", s.config.IngestSocket,
		"client_socket", s.config.ClientSocket,
		"http_addr", s.config.HTTPAddr,
	)
	return nil
}

// Stop closes the listeners, shuts down the HTTP server, and waits for
// connection handlers to drain.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ingestLn != nil {
		s.ingestLn.Close()
	}
	if s.clientLn != nil {
		s.clientLn.Close()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warnw("error shutting down http server", "error", err)
		}
	}
	s.wg.Wait()
	if s.pid != nil {
		if err := s.pid.remove(); err != nil {
			return err
		}
	}
	return nil
}

// listenUnix removes a stale socket file before binding.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", path)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnw("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(ctx, conn)
		}()
	}
}

func (s *Server) startHTTP() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.serveWs)

	s.httpSrv = &http.Server{Addr: s.config.HTTPAddr, Handler: r}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("http server error", "error", err)
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.GetTotalCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pasted, err := s.store.GetPastedCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"time":         time.Now().Format(time.RFC3339),
		"total_items":  total,
		"pasted_items": pasted,
		"subscribers":  s.hub.Count(),
	})
}
