package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/kadhash/dht/internal/logging"
)

// restKeyValue is the client-facing JSON shape for a PUT request body.
type restKeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// restStatus answers GET /v1/status with a shallow view of the node's
// identity and routing table occupancy.
type restStatus struct {
	NodeID      string `json:"nodeId"`
	Address     string `json:"address"`
	Port        uint32 `json:"port"`
	RoutingSize int    `json:"routingTableSize"`
}

// Router builds the chi multiplexer serving the client-facing REST API:
// GET /v1/data/{key}, POST /v1/data, GET /v1/status.
func (n *Node) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(
		render.SetContentType(render.ContentTypeJSON),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	r.Get("/v1/data/{key}", n.handleGetData)
	r.Post("/v1/data", n.handlePutData)
	r.Get("/v1/status", n.handleStatus)
	return r
}

func (n *Node) handleGetData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	value, err := n.Get(r.Context(), []byte(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n.log.Error("REST GET failed", logging.F("key", key), logging.F("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, map[string]string{"key": key, "value": value})
}

func (n *Node) handlePutData(w http.ResponseWriter, r *http.Request) {
	var body restKeyValue
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := n.Put(r.Context(), []byte(body.Key), body.Value); err != nil {
		if errors.Is(err, ErrValueRejected) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n.log.Error("REST PUT failed", logging.F("key", body.Key), logging.F("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (n *Node) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, restStatus{
		NodeID:      n.self.NodeID.String(),
		Address:     n.self.Address,
		Port:        n.self.Port,
		RoutingSize: n.routingTable.Size(),
	})
}
