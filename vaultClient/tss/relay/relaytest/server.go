// Package relaytest provides an in-memory relay server for tests and local
// development.
package relaytest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
)

type storedMessage struct {
	messageID string
	msg       relay.Message
}

// Server is an httptest-backed relay with the same routes as the real one.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	participants map[string][]string
	started      map[string][]string
	completed    map[string][]string
	keysign      map[string][]byte
	messages     map[string][]storedMessage
	statusByPath map[string]int

	requests atomic.Int64
}

// NewServer starts a relay on a random local port. Close it when done.
func NewServer() *Server {
	s := &Server{
		participants: make(map[string][]string),
		started:      make(map[string][]string),
		completed:    make(map[string][]string),
		keysign:      make(map[string][]byte),
		messages:     make(map[string][]storedMessage),
		statusByPath: make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(s.countAndOverride)
	r.HandleFunc("/message/{session}", s.postMessage).Methods(http.MethodPost)
	r.HandleFunc("/message/{session}/{party}", s.getMessages).Methods(http.MethodGet)
	r.HandleFunc("/message/{session}/{party}/{hash}", s.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/start/{session}", s.postStart).Methods(http.MethodPost)
	r.HandleFunc("/start/{session}", s.getStart).Methods(http.MethodGet)
	r.HandleFunc("/complete/{session}/keysign", s.postKeysign).Methods(http.MethodPost)
	r.HandleFunc("/complete/{session}/keysign", s.getKeysign).Methods(http.MethodGet)
	r.HandleFunc("/complete/{session}", s.postComplete).Methods(http.MethodPost)
	r.HandleFunc("/complete/{session}", s.getComplete).Methods(http.MethodGet)
	r.HandleFunc("/{session}", s.postSession).Methods(http.MethodPost)
	r.HandleFunc("/{session}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/{session}", s.deleteSession).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	return s
}

// Requests returns the number of requests served so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// SetStatus forces every request with the given method and path to answer
// with status. Passing 0 removes the override.
func (s *Server) SetStatus(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	if status == 0 {
		delete(s.statusByPath, key)
		return
	}
	s.statusByPath[key] = status
}

// SetCompleted overwrites the completed-party list of a session.
func (s *Server) SetCompleted(sessionID string, parties []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[sessionID] = slices.Clone(parties)
}

// SetStarted publishes a committee as if an initiator had started the session.
func (s *Server) SetStarted(sessionID string, committee []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[sessionID] = slices.Clone(committee)
}

// SetKeysignResult stores a keysign completion record.
func (s *Server) SetKeysignResult(sessionID, messageID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysign[sessionID+"/"+messageID] = slices.Clone(payload)
}

// PendingMessages returns how many undeleted messages a party has in a session.
func (s *Server) PendingMessages(sessionID, partyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages[sessionID] {
		if slices.Contains(m.msg.To, partyID) {
			n++
		}
	}
	return n
}

// InjectMessage stores a message verbatim, bypassing the client.
func (s *Server) InjectMessage(messageID string, msg relay.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], storedMessage{messageID: messageID, msg: msg})
}

// Participants returns who registered in a session.
func (s *Server) Participants(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants[sessionID])
}

func (s *Server) countAndOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.mu.Lock()
		status, ok := s.statusByPath[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if ok {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) postSession(w http.ResponseWriter, r *http.Request) {
	var parties []string
	if !decode(w, r, &parties) {
		return
	}
	id := mux.Vars(r)["session"]
	s.mu.Lock()
	for _, p := range parties {
		if !slices.Contains(s.participants[id], p) {
			s.participants[id] = append(s.participants[id], p)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	parties, ok := s.participants[mux.Vars(r)["session"]]
	parties = slices.Clone(parties)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, parties)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session"]
	s.mu.Lock()
	delete(s.participants, id)
	delete(s.started, id)
	delete(s.completed, id)
	delete(s.messages, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) postStart(w http.ResponseWriter, r *http.Request) {
	var committee []string
	if !decode(w, r, &committee) {
		return
	}
	s.SetStarted(mux.Vars(r)["session"], committee)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	committee, ok := s.started[mux.Vars(r)["session"]]
	committee = slices.Clone(committee)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, committee)
}

func (s *Server) postComplete(w http.ResponseWriter, r *http.Request) {
	var parties []string
	if !decode(w, r, &parties) {
		return
	}
	id := mux.Vars(r)["session"]
	s.mu.Lock()
	for _, p := range parties {
		if !slices.Contains(s.completed[id], p) {
			s.completed[id] = append(s.completed[id], p)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getComplete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	parties, ok := s.completed[mux.Vars(r)["session"]]
	parties = slices.Clone(parties)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, parties)
}

func (s *Server) postKeysign(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.SetKeysignResult(mux.Vars(r)["session"], r.Header.Get(relay.MessageIDHeader), body)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getKeysign(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.keysign[mux.Vars(r)["session"]+"/"+r.Header.Get(relay.MessageIDHeader)]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg relay.Message
	if !decode(w, r, &msg) {
		return
	}
	msg.SessionID = mux.Vars(r)["session"]
	s.InjectMessage(r.Header.Get(relay.MessageIDHeader), msg)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	messageID := r.Header.Get(relay.MessageIDHeader)
	s.mu.Lock()
	out := make([]relay.Message, 0)
	for _, m := range s.messages[vars["session"]] {
		if m.messageID == messageID && slices.Contains(m.msg.To, vars["party"]) {
			out = append(out, m.msg)
		}
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	messageID := r.Header.Get(relay.MessageIDHeader)
	s.mu.Lock()
	kept := s.messages[vars["session"]][:0]
	for _, m := range s.messages[vars["session"]] {
		if m.messageID == messageID && m.msg.Hash == vars["hash"] && slices.Contains(m.msg.To, vars["party"]) {
			continue
		}
		kept = append(kept, m)
	}
	s.messages[vars["session"]] = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
