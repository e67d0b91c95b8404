// Package badger keeps the offline answer buffer in an embedded BadgerDB so buffered
// answers survive a process restart.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

const keyPrefix = "answers:"

// Config holds configuration for the buffer's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory skips disk persistence; used by tests and demos.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Open creates and opens a BadgerDB instance with the given configuration.
func Open(cfg Config, log zerolog.Logger) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent buffer")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// AnswerBuffer is a BadgerDB-backed app.AnswerBuffer holding one record per session.
type AnswerBuffer struct {
	db *badger.DB
	// single writer: read-modify-write of a session record must not interleave
	mu sync.Mutex
}

func NewAnswerBuffer(db *badger.DB) *AnswerBuffer {
	return &AnswerBuffer{db: db}
}

func (b *AnswerBuffer) Put(_ context.Context, userID, sessionID, questionID, answer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		pending, err := readPending(txn, sessionID)
		if err != nil {
			return err
		}
		if pending.UserID == "" {
			pending.UserID = userID
		}
		pending.Answers[questionID] = answer
		return writePending(txn, pending)
	})
}

func (b *AnswerBuffer) Sessions(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list buffered sessions: %w", err)
	}
	return ids, nil
}

func (b *AnswerBuffer) Answers(_ context.Context, sessionID string) (domain.PendingAnswers, error) {
	var pending domain.PendingAnswers
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		pending, err = readPending(txn, sessionID)
		return err
	})
	return pending, err
}

// Clear removes the synced pairs whose value is unchanged, and the record once it is empty.
func (b *AnswerBuffer) Clear(_ context.Context, sessionID string, synced map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		pending, err := readPending(txn, sessionID)
		if err != nil {
			return err
		}
		for qid, answer := range synced {
			if pending.Answers[qid] == answer {
				delete(pending.Answers, qid)
			}
		}
		if len(pending.Answers) == 0 {
			return txn.Delete(key(sessionID))
		}
		return writePending(txn, pending)
	})
}

func key(sessionID string) []byte {
	return []byte(keyPrefix + sessionID)
}

func readPending(txn *badger.Txn, sessionID string) (domain.PendingAnswers, error) {
	pending := domain.PendingAnswers{SessionID: sessionID, Answers: map[string]string{}}
	item, err := txn.Get(key(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return pending, nil
	}
	if err != nil {
		return pending, fmt.Errorf("read buffered answers: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &pending)
	})
	if err != nil {
		return pending, fmt.Errorf("decode buffered answers: %w", err)
	}
	if pending.Answers == nil {
		pending.Answers = map[string]string{}
	}
	return pending, nil
}

func writePending(txn *badger.Txn, pending domain.PendingAnswers) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode buffered answers: %w", err)
	}
	return txn.Set(key(pending.SessionID), data)
}

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
