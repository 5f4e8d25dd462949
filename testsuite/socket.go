package testsuite

import (
	"slices"
	"sync"
)

// MockSocket is an in-memory websocket which records what is sent to it
type MockSocket struct {
	onMessage func([]byte)
	onClose   func(int)

	sent  []string
	mutex sync.Mutex
}

func NewMockSocket() *MockSocket {
	return &MockSocket{}
}

func (s *MockSocket) Start() {}

func (s *MockSocket) Send(msg []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sent = append(s.sent, string(msg))
}

func (s *MockSocket) Close(code int) {
	s.onClose(code)
}

func (s *MockSocket) OnMessage(fn func([]byte)) { s.onMessage = fn }
func (s *MockSocket) OnClose(fn func(int))      { s.onClose = fn }

// Receive simulates a message arriving from the other side
func (s *MockSocket) Receive(msg string) {
	s.onMessage([]byte(msg))
}

// Sent returns everything sent to the socket so far
func (s *MockSocket) Sent() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return slices.Clone(s.sent)
}
