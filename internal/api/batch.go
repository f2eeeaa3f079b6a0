package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/batch"
	"github.com/mirrornet/pagepool/internal/metrics"
	"github.com/mirrornet/pagepool/internal/progress"
)

type batchRequest struct {
	Count    int    `json:"count"`
	Host     string `json:"host"`
	Random   bool   `json:"random"`
	MinWords int    `json:"min_words"`
	MaxWords int    `json:"max_words"`
}

func (req batchRequest) toRun(fallbackHost string) batch.Request {
	host := req.Host
	if host == "" {
		host = fallbackHost
	}
	return batch.Request{
		Count:      req.Count,
		Host:       host,
		RandomMode: req.Random,
		MinWords:   req.MinWords,
		MaxWords:   req.MaxWords,
	}
}

// handleBatch runs a batch synchronously and returns the summary when every
// job has finished.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := s.batch.Run(r.Context(), req.toRun(metrics.SanitizeHost(r.Host)), nil)
	if err != nil {
		s.logger.Error("batch run", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":  res.BatchID,
		"total":     res.Total,
		"generated": res.Generated,
		"failed":    res.Failed,
	})
}

// streamLine is one NDJSON record on the batch stream. Page lines carry
// progress counters; the run ends with a single {"status":"done"} sentinel.
type streamLine struct {
	Status    string `json:"status,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Total     int    `json:"total,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Host      string `json:"host,omitempty"`
	Title     string `json:"title,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Generator string `json:"generator,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleBatchStream runs a batch while streaming one NDJSON line per
// completion. Query parameters: count, random, min_words, max_words.
func (s *Server) handleBatchStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := batchRequest{Host: q.Get("host")}
	req.Count, _ = strconv.Atoi(q.Get("count"))
	req.Random, _ = strconv.ParseBool(q.Get("random"))
	req.MinWords, _ = strconv.Atoi(q.Get("min_words"))
	req.MaxWords, _ = strconv.Atoi(q.Get("max_words"))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	// Workers publish concurrently; one writer owns the connection.
	var writeMu sync.Mutex
	emit := func(evt progress.Event) {
		line, ok := streamLineFor(evt)
		if !ok {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(line); err != nil {
			s.logger.Debug("stream write", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := s.batch.Run(r.Context(), req.toRun(metrics.SanitizeHost(r.Host)), emit); err != nil {
		s.logger.Error("batch stream run", zap.Error(err))
		writeMu.Lock()
		_ = enc.Encode(streamLine{Status: "error", Error: "batch run failed"})
		writeMu.Unlock()
	}
}

// streamLineFor maps hub stages onto the wire contract: exactly one line per
// completed job, then one done sentinel. Anything else stays off the stream.
func streamLineFor(evt progress.Event) (streamLine, bool) {
	switch evt.Stage {
	case progress.StagePageDone:
		return streamLine{
			Progress:  evt.Index,
			Total:     evt.Total,
			Slug:      evt.Slug,
			Host:      evt.Host,
			Title:     evt.Title,
			Topic:     evt.Topic,
			Generator: evt.Generator,
			Preview:   evt.Preview,
		}, true
	case progress.StagePageError:
		return streamLine{
			Progress: evt.Index,
			Total:    evt.Total,
			Slug:     evt.Slug,
			Host:     evt.Host,
			Title:    evt.Title,
			Preview:  evt.Preview,
			Error:    evt.Note,
		}, true
	case progress.StageBatchDone:
		return streamLine{
			Status:  "done",
			BatchID: evt.BatchUUID().String(),
			Total:   evt.Total,
		}, true
	}
	return streamLine{}, false
}

// eventRecord is the JSON shape of one history entry on /v1/events.
type eventRecord struct {
	BatchID    string    `json:"batch_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	Index      int       `json:"index,omitempty"`
	Total      int       `json:"total"`
	Slug       string    `json:"slug,omitempty"`
	Host       string    `json:"host,omitempty"`
	Title      string    `json:"title,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Generator  string    `json:"generator,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// handleEvents returns recent generation events, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"events": []eventRecord{}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events := s.ring.Recent()

	records := make([]eventRecord, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		records = append(records, eventRecord{
			BatchID:    evt.BatchUUID().String(),
			TS:         evt.TS,
			Stage:      string(evt.Stage),
			Index:      evt.Index,
			Total:      evt.Total,
			Slug:       evt.Slug,
			Host:       evt.Host,
			Title:      evt.Title,
			Topic:      evt.Topic,
			Generator:  evt.Generator,
			Preview:    evt.Preview,
			DurationMS: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
		if limit > 0 && len(records) >= limit {
			break
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"events": records})
}
