package entityclient

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/veloxdb/provider"
)

// TransactionScope is an ambient transaction. Connections enlist in it with
// EnlistTransaction; the scope commits if Complete was called before Dispose and
// aborts otherwise.
type TransactionScope struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	status    provider.TransactionStatus
	completed bool
	callbacks map[int]func(provider.AmbientTransaction)
	next      int
}

// NewTransactionScope returns an active scope.
func NewTransactionScope(logger *slog.Logger) *TransactionScope {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	return &TransactionScope{
		id:        id,
		logger:    logger.With(slog.String("tx_id", id)),
		callbacks: make(map[int]func(provider.AmbientTransaction)),
	}
}

// ID implements provider.AmbientTransaction.
func (s *TransactionScope) ID() string { return s.id }

// Status implements provider.AmbientTransaction.
func (s *TransactionScope) Status() provider.TransactionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnComplete implements provider.AmbientTransaction. Registering on a finished scope
// runs fn immediately.
func (s *TransactionScope) OnComplete(fn func(provider.AmbientTransaction)) func() {
	s.mu.Lock()
	if s.status != provider.TransactionActive {
		s.mu.Unlock()
		fn(s)
		return func() {}
	}
	id := s.next
	s.next++
	s.callbacks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.callbacks, id)
	}
}

// Complete marks the scope to commit when it is disposed.
func (s *TransactionScope) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

// Dispose ends the scope and runs the completion callbacks. Later calls do nothing.
func (s *TransactionScope) Dispose() {
	s.mu.Lock()
	if s.status != provider.TransactionActive {
		s.mu.Unlock()
		return
	}
	s.status = provider.TransactionAborted
	if s.completed {
		s.status = provider.TransactionCommitted
	}
	callbacks := s.callbacks
	s.callbacks = nil
	status := s.status
	s.mu.Unlock()
	s.logger.Debug("transaction scope ended", slog.String("status", status.String()))
	for _, fn := range callbacks {
		fn(s)
	}
}

var _ provider.AmbientTransaction = (*TransactionScope)(nil)
