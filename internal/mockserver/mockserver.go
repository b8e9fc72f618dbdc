package mockserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBucket is the bucket the fake edge function writes to
const DefaultBucket = "instagram-images"

// Run is the scripted state of one fake Apify actor run
type Run struct {
	ID        string
	Username  string
	Status    string
	DatasetID string
	Finished  *time.Time
}

// Server fakes the Apify API, Supabase storage and edge functions, and an
// image CDN behind a single httptest server
type Server struct {
	server *httptest.Server

	// Token, when set, must be presented as a Bearer token on every call
	Token string

	mu           sync.RWMutex
	runs         map[string]*Run
	runOrder     []string
	nextRunIDs   []string
	datasets     map[string][]interface{}
	buckets      map[string]bool
	objects      map[string][]byte
	contentTypes map[string]string
	images       map[string][]byte
	errors       map[string]int
	delays       map[string]time.Duration
	hits         map[string]int
	fetchEnabled bool

	runSeq       int32
	requestCount int32
}

// New starts a mock server
func New() *Server {
	m := &Server{
		runs:         make(map[string]*Run),
		datasets:     make(map[string][]interface{}),
		buckets:      make(map[string]bool),
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
		images:       make(map[string][]byte),
		errors:       make(map[string]int),
		delays:       make(map[string]time.Duration),
		hits:         make(map[string]int),
		fetchEnabled: true,
	}

	mux := http.NewServeMux()

	// Apify
	mux.HandleFunc("POST /v2/acts/{actor}/runs", m.handleStartRun)
	mux.HandleFunc("GET /v2/actor-runs/{id}", m.handleRunStatus)
	mux.HandleFunc("GET /v2/datasets/{id}/items", m.handleDatasetItems)

	// Supabase storage
	mux.HandleFunc("POST /storage/v1/object/list/{bucket}", m.handleListObjects)
	mux.HandleFunc("POST /storage/v1/bucket", m.handleCreateBucket)
	mux.HandleFunc("POST /storage/v1/object/{bucket}/{key...}", m.handleUpload)
	mux.HandleFunc("GET /storage/v1/object/public/{bucket}/{key...}", m.handlePublicObject)

	// Supabase edge functions
	mux.HandleFunc("POST /functions/v1/{name}", m.handleFunction)

	// Image CDN
	mux.HandleFunc("GET /cdn/{path...}", m.handleImage)

	m.server = httptest.NewServer(m.instrument(mux))
	return m
}

// instrument applies configured delays and errors before routing
func (m *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.requestCount, 1)
		path := r.URL.Path

		m.mu.Lock()
		m.hits[path]++
		delay := m.delays[path]
		code := m.errorFor(path)
		m.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if code > 0 {
			writeJSON(w, code, map[string]interface{}{
				"error": map[string]string{"type": "injected", "message": fmt.Sprintf("injected error %d", code)},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorFor returns the injected status for the longest matching path prefix
func (m *Server) errorFor(path string) int {
	best, code := -1, 0
	for prefix, c := range m.errors {
		if strings.HasPrefix(path, prefix) && len(prefix) > best {
			best, code = len(prefix), c
		}
	}
	return code
}

func (m *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if m.Token == "" {
		return true
	}
	if r.Header.Get("Authorization") != "Bearer "+m.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]string{"type": "token-not-valid", "message": "User was not authorized"},
		})
		return false
	}
	return true
}

func (m *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}

	var input struct {
		DirectURLs   []string `json:"directUrls"`
		ResultsType  string   `json:"resultsType"`
		ResultsLimit int      `json:"resultsLimit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || len(input.DirectURLs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]string{"type": "invalid-input", "message": "directUrls is required"},
		})
		return
	}

	username := input.DirectURLs[0]
	if i := strings.LastIndex(strings.TrimRight(username, "/"), "/"); i >= 0 {
		username = strings.TrimRight(username, "/")[i+1:]
	}

	m.mu.Lock()
	var id string
	if len(m.nextRunIDs) > 0 {
		id, m.nextRunIDs = m.nextRunIDs[0], m.nextRunIDs[1:]
	} else {
		id = fmt.Sprintf("run-%d", atomic.AddInt32(&m.runSeq, 1))
	}
	m.runs[id] = &Run{ID: id, Username: username, Status: "READY"}
	m.runOrder = append(m.runOrder, id)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{"id": id, "status": "READY"},
	})
}

func (m *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}

	m.mu.RLock()
	run, ok := m.runs[r.PathValue("id")]
	var snapshot Run
	if ok {
		snapshot = *run
	}
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]string{"type": "record-not-found", "message": "Actor run was not found"},
		})
		return
	}

	data := map[string]interface{}{
		"id":     snapshot.ID,
		"status": snapshot.Status,
	}
	if snapshot.DatasetID != "" {
		data["defaultDatasetId"] = snapshot.DatasetID
	}
	if snapshot.Finished != nil {
		data["finishedAt"] = snapshot.Finished.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (m *Server) handleDatasetItems(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}

	m.mu.RLock()
	items, ok := m.datasets[r.PathValue("id")]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]string{"type": "record-not-found", "message": "Dataset was not found"},
		})
		return
	}
	if items == nil {
		items = []interface{}{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (m *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")

	m.mu.RLock()
	exists := m.buckets[bucket]
	m.mu.RUnlock()

	if !exists {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"statusCode": "404",
			"error":      "Bucket not found",
			"message":    "Bucket not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, []interface{}{})
}

func (m *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Public bool   `json:"public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bucket"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[body.ID] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"statusCode": "409",
			"error":      "Duplicate",
			"message":    "The resource already exists",
		})
		return
	}
	m.buckets[body.ID] = true
	writeJSON(w, http.StatusOK, map[string]string{"name": body.ID})
}

func (m *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucket, key := r.PathValue("bucket"), r.PathValue("key")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.buckets[bucket] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Bucket not found"})
		return
	}
	objectKey := bucket + "/" + key
	if _, exists := m.objects[objectKey]; exists && r.Header.Get("x-upsert") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "409", "error": "Duplicate"})
		return
	}
	m.objects[objectKey] = data
	m.contentTypes[objectKey] = r.Header.Get("Content-Type")
	writeJSON(w, http.StatusOK, map[string]string{"Key": objectKey})
}

func (m *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	objectKey := r.PathValue("bucket") + "/" + r.PathValue("key")

	m.mu.RLock()
	data, ok := m.objects[objectKey]
	contentType := m.contentTypes[objectKey]
	m.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleFunction emulates the download-instagram-image edge function: it
// fetches imageUrl from this same server and stores it under storagePath
func (m *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageURL    string `json:"imageUrl"`
		StoragePath string `json:"storagePath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "imageUrl is required"})
		return
	}

	m.mu.Lock()
	enabled := m.fetchEnabled
	if enabled {
		m.objects[DefaultBucket+"/"+body.StoragePath] = []byte("delegated:" + body.ImageURL)
		m.contentTypes[DefaultBucket+"/"+body.StoragePath] = "image/jpeg"
	}
	m.mu.Unlock()

	if !enabled {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": "fetch failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"url":     m.PublicURL(DefaultBucket, body.StoragePath),
	})
}

func (m *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	data, ok := m.images[r.PathValue("path")]
	m.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// URL returns the base URL of the mock server
func (m *Server) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the server
func (m *Server) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server
func (m *Server) Close() {
	m.server.Close()
}

// QueueRunIDs fixes the ids handed out by the next StartRun calls
func (m *Server) QueueRunIDs(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRunIDs = append(m.nextRunIDs, ids...)
}

// SetRun scripts the status and dataset of a run, creating it if needed
func (m *Server) SetRun(id, status, datasetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		run = &Run{ID: id}
		m.runs[id] = run
		m.runOrder = append(m.runOrder, id)
	}
	run.Status = status
	run.DatasetID = datasetID
	if status == "SUCCEEDED" || status == "FAILED" || status == "TIMED-OUT" || status == "ABORTED" {
		now := time.Now().UTC().Truncate(time.Second)
		run.Finished = &now
	}
}

// Runs returns the started runs in order
func (m *Server) Runs() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Run, 0, len(m.runOrder))
	for _, id := range m.runOrder {
		out = append(out, *m.runs[id])
	}
	return out
}

// SetDataset registers the items of a dataset
func (m *Server) SetDataset(id string, items ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[id] = items
}

// AddBucket marks a storage bucket as existing
func (m *Server) AddBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[name] = true
}

// HasBucket reports whether the bucket exists
func (m *Server) HasBucket(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[name]
}

// Object returns a stored object by bucket and key
func (m *Server) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

// ObjectCount returns the number of stored objects
func (m *Server) ObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// PublicURL returns the public URL of an object
func (m *Server) PublicURL(bucket, key string) string {
	return m.server.URL + "/storage/v1/object/public/" + bucket + "/" + key
}

// AddImage serves data at /cdn/<path> and returns its absolute URL
func (m *Server) AddImage(path string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = data
	return m.ImageURL(path)
}

// ImageURL returns the absolute CDN URL for path without registering it
func (m *Server) ImageURL(path string) string {
	return m.server.URL + "/cdn/" + path
}

// SetDelegatedFetch enables or disables the edge function
func (m *Server) SetDelegatedFetch(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchEnabled = enabled
}

// SetErrorResponse makes every path with the given prefix return code
func (m *Server) SetErrorResponse(pathPrefix string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[pathPrefix] = code
}

// ClearErrorResponse removes an injected error
func (m *Server) ClearErrorResponse(pathPrefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, pathPrefix)
}

// SetDelay delays responses for an exact path
func (m *Server) SetDelay(path string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[path] = delay
}

// Hits returns how many requests reached an exact path
func (m *Server) Hits(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[path]
}

// RequestCount returns the total number of requests
func (m *Server) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}
