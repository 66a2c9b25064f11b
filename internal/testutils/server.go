// Package testutils provides shared test infrastructure.
package testutils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ObjectServer is an in-memory HTTP object store. PUT stores a body, GET and
// HEAD serve it, DELETE removes it. Failures can be scripted per path.
type ObjectServer struct {
	*httptest.Server

	// Delay is applied to every request before it is answered.
	Delay time.Duration

	// Username and Password, when set, are required as basic auth.
	Username string
	Password string

	mu        sync.Mutex
	objects   map[string][]byte
	failures  map[string][]int
	lengths   map[string]int64
	requests  map[string]int
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

// NewObjectServer starts a server that is closed when the test ends.
func NewObjectServer(t *testing.T) *ObjectServer {
	t.Helper()

	s := &ObjectServer{
		objects:  make(map[string][]byte),
		failures: make(map[string][]int),
		lengths:  make(map[string]int64),
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URLFor returns the absolute URL of path.
func (s *ObjectServer) URLFor(path string) string {
	return s.Server.URL + path
}

// Store places an object at path.
func (s *ObjectServer) Store(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
}

// Object returns the object stored at path.
func (s *ObjectServer) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// FailNext makes the next len(codes) requests to path answer with the given
// status codes, in order.
func (s *ObjectServer) FailNext(path string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], codes...)
}

// ReportLength makes HEAD on path report n as content length regardless of
// the stored object.
func (s *ObjectServer) ReportLength(path string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lengths[path] = n
}

// Requests returns how many requests with method were made to path.
func (s *ObjectServer) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// TotalRequests returns the number of requests of all methods and paths.
func (s *ObjectServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// MaxInFlight returns the highest number of concurrent requests seen.
func (s *ObjectServer) MaxInFlight() int {
	return int(s.maxFlight.Load())
}

func (s *ObjectServer) serve(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxFlight.Load()
		if n <= cur || s.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}

	path := r.URL.Path

	s.mu.Lock()
	s.requests[r.Method+" "+path]++
	var code int
	if q := s.failures[path]; len(q) > 0 {
		code, s.failures[path] = q[0], q[1:]
	}
	s.mu.Unlock()

	if s.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	if code != 0 {
		w.WriteHeader(code)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.Store(path, data)
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		data, ok := s.Object(path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)

	case http.MethodHead:
		data, ok := s.Object(path)
		s.mu.Lock()
		n, override := s.lengths[path]
		s.mu.Unlock()
		if !ok && !override {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !override {
			n = int64(len(data))
		}
		w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		s.mu.Lock()
		_, ok := s.objects[path]
		delete(s.objects, path)
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
