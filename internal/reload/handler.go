package reload

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/devloop/internal/types"
)

// Routes returns the reload listener's handler:
//
//	GET  /livereload      websocket subscription
//	GET  /changed?files=  broadcast one event per file
//	POST /changed         same, files from query or JSON body
//	GET  /livereload.js   client script
//	GET  /                welcome document
//	GET  /metrics         Prometheus metrics
func (b *Broker) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(allowAnyOrigin)

	r.Get("/livereload", b.handleWebSocket)
	r.Get("/changed", b.handleChanged)
	r.Post("/changed", b.handleChanged)
	r.Get("/livereload.js", handleScript)
	r.Get("/", b.handleWelcome)
	r.Handle("/metrics", b.metrics.Handler())

	return r
}

var clientSeq atomic.Uint64

func (b *Broker) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.logger.Debug(r.Context(), "WebSocket upgrade failed", "error", err.Error())
		return
	}

	c := newClient(fmt.Sprintf("client-%d", clientSeq.Add(1)), conn, b, b.logger)

	hello, err := HelloMessage().Encode()
	if err == nil {
		_ = c.Deliver(hello)
	}

	b.Add(c)
	c.serve(r.Context())
}

type changedRequest struct {
	Files []string `json:"files"`
}

type changedResponse struct {
	Clients int      `json:"clients"`
	Files   []string `json:"files"`
}

func (b *Broker) handleChanged(w http.ResponseWriter, r *http.Request) {
	files := splitFiles(r.URL.Query()["files"])

	if r.Method == http.MethodPost && r.Body != nil && strings.Contains(r.Header.Get("Content-Type"), "json") {
		var body changedRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		files = append(files, splitFiles(body.Files)...)
	}

	if len(files) == 0 {
		http.Error(w, "missing files parameter", http.StatusBadRequest)
		return
	}

	for _, file := range files {
		b.Broadcast(r.Context(), types.ChangeEvent{
			Class: types.ClassForFile(file),
			Path:  file,
			Time:  time.Now(),
		})
	}

	writeJSON(w, http.StatusOK, changedResponse{Clients: b.Count(), Files: files})
}

func (b *Broker) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devloop": "Welcome",
		"clients": b.Count(),
	})
}

func handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(ClientScript))
}

func splitFiles(values []string) []string {
	var files []string
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
	}
	return files
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
