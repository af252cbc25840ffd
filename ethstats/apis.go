package ethstats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.Info())
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.Snapshot())
}

func (s *Server) getBlocks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.Stats().Blocks)
}

// getBlock looks up a block of the history by number or hash.
func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var match func(b *Block) bool
	if filters, present := query["number"]; present {
		number, err := strconv.ParseUint(filters[0], 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprint(err), http.StatusBadRequest)
			return
		}
		match = func(b *Block) bool {
			return b.Number == number
		}
	} else if filters, present := query["hash"]; present {
		match = func(b *Block) bool {
			return b.Hash == filters[0]
		}
	} else {
		http.Error(w, "number or hash expected", http.StatusBadRequest)
		return
	}

	for _, b := range s.agent.Stats().Blocks {
		if !b.isSentinel() && match(b) {
			s.writeJSON(w, b)
			return
		}
	}
	http.Error(w, "block not found", http.StatusNotFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, obj interface{}) {
	data, err := json.Marshal(obj)
	if err != nil {
		http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write response", "err", err)
	}
}
