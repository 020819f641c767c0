package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	streamBuffer  = 10
	streamPing    = 30 * time.Second
	streamRetryMS = 2000
	eventProgress = "progress"
)

// ProgressEvent is one SSE frame describing a job's search progress
type ProgressEvent struct {
	Seq        uint64    `json:"seq"`
	JobID      string    `json:"jobId"`
	State      JobState  `json:"state"`
	Phase      string    `json:"phase,omitempty"`
	Iterations int       `json:"iterations"`
	Accepted   int       `json:"accepted"`
	BestCost   float64   `json:"bestCost"`
	IPS        float64   `json:"ips"` // search iterations per second
	Timestamp  time.Time `json:"timestamp"`
}

// name is the SSE event type: "progress" while running, the final state after
func (e ProgressEvent) name() string {
	if e.State.Terminal() {
		return string(e.State)
	}
	return eventProgress
}

// jobStream holds the subscribers of one job and the last frame sent
type jobStream struct {
	clients map[chan ProgressEvent]struct{}
	last    *ProgressEvent
	seq     uint64
}

// EventBroadcaster fans progress events out to SSE subscribers per job.
// Sends never block: a subscriber whose buffer is full misses the frame.
type EventBroadcaster struct {
	mu   sync.Mutex
	jobs map[string]*jobStream
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{jobs: make(map[string]*jobStream)}
}

func (eb *EventBroadcaster) stream(jobID string) *jobStream {
	js, ok := eb.jobs[jobID]
	if !ok {
		js = &jobStream{clients: make(map[chan ProgressEvent]struct{})}
		eb.jobs[jobID] = js
	}
	return js
}

// Subscribe registers a client; the last frame, if any, is replayed to it
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, streamBuffer)
	js := eb.stream(jobID)
	js.clients[ch] = struct{}{}
	if js.last != nil {
		ch <- *js.last
	}
	streamClients.Inc()

	slog.Debug("SSE client subscribed", "jobID", jobID, "total_clients", len(js.clients))
	return ch
}

// Unsubscribe removes a client and closes its channel. Channels already
// closed by CleanupJob are left alone.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	js, ok := eb.jobs[jobID]
	if !ok {
		return
	}
	if _, ok := js.clients[ch]; !ok {
		return
	}
	delete(js.clients, ch)
	close(ch)
	streamClients.Dec()
	slog.Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast numbers the event and delivers it to every subscriber of its job
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	js := eb.stream(event.JobID)
	js.seq++
	event.Seq = js.seq
	js.last = &event

	for ch := range js.clients {
		select {
		case ch <- event:
		default:
			streamDropped.Inc()
			slog.Warn("SSE channel full, dropping frame", "jobID", event.JobID, "seq", event.Seq)
		}
	}
}

// CleanupJob closes every subscriber of a job and forgets its last frame
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	js, ok := eb.jobs[jobID]
	if !ok {
		return
	}
	for ch := range js.clients {
		close(ch)
		streamClients.Dec()
	}
	delete(eb.jobs, jobID)
	slog.Debug("Cleaned up SSE resources", "jobID", jobID)
}

// handleJobStream handles GET /api/v1/jobs/:id/stream (server-sent events).
// The current state is sent first; the stream ends once the job is terminal.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "retry: %d\n\n", streamRetryMS)

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	if err := writeSSEEvent(w, progressEvent(job)); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one named frame; the id line is omitted for
// unnumbered snapshots
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if event.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.name(), data)
	return err
}
