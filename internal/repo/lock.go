package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResubmitLockKey — ключ advisory lock для лидера resubmit.
const ResubmitLockKey int64 = 424242

const (
	tryLockQuery = `SELECT pg_try_advisory_lock($1)`
	unlockQuery  = `SELECT pg_advisory_unlock($1)`

	// Ключ bigint хранится в pg_locks как (classid << 32 | objid), objsubid = 1.
	heldLockQuery = `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory'
			  AND pid = pg_backend_pid()
			  AND granted
			  AND objsubid = 1
			  AND ((classid::bigint << 32) | objid::bigint) = $1
		)
	`
)

// lockSession — сессия PostgreSQL, на которой держится блокировка.
type lockSession interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Close рвёт сессию; сервер при этом снимает её блокировки.
	Close(ctx context.Context) error
	Release()
}

type pooledSession struct {
	*pgxpool.Conn
}

func (s pooledSession) Close(ctx context.Context) error {
	return s.Conn.Conn().Close(ctx)
}

// AdvisoryLock — сессионный pg_advisory_lock на выделенном соединении пула.
//
// Соединение удерживается до Unlock: блокировка живёт, пока жива сессия.
// Держатель проверяет сессию при каждом TryLock и после её потери
// захватывает блокировку заново.
type AdvisoryLock struct {
	acquire func(ctx context.Context) (lockSession, error)
	key     int64

	mu   sync.Mutex
	sess lockSession
}

// NewAdvisoryLock создаёт блокировку с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return newAdvisoryLock(func(ctx context.Context) (lockSession, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return pooledSession{conn}, nil
	}, key)
}

func newAdvisoryLock(acquire func(ctx context.Context) (lockSession, error), key int64) *AdvisoryLock {
	return &AdvisoryLock{acquire: acquire, key: key}
}

// TryLock пытается стать держателем блокировки.
// Держатель с живой сессией получает true без повторного захвата.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sess != nil {
		held, err := l.holds(ctx)
		if err == nil && held {
			return true, nil
		}
		// Сессия потеряна или блокировка снята: начинаем заново.
		l.drop(ctx)
	}

	sess, err := l.acquire(ctx)
	if err != nil {
		return false, wrapErr("acquire lock conn", err)
	}

	var ok bool
	if err := sess.QueryRow(ctx, tryLockQuery, l.key).Scan(&ok); err != nil {
		sess.Release()
		return false, wrapErr("try advisory lock", err)
	}
	if !ok {
		sess.Release()
		return false, nil
	}

	l.sess = sess
	return true, nil
}

// holds — под l.mu.
func (l *AdvisoryLock) holds(ctx context.Context) (bool, error) {
	var held bool
	if err := l.sess.QueryRow(ctx, heldLockQuery, l.key).Scan(&held); err != nil {
		return false, err
	}
	return held, nil
}

// drop закрывает сессию, не возвращая её в пул живой. Под l.mu.
func (l *AdvisoryLock) drop(ctx context.Context) {
	l.sess.Close(ctx)
	l.sess.Release()
	l.sess = nil
}

// Unlock снимает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sess == nil {
		return nil
	}

	if _, err := l.sess.Exec(ctx, unlockQuery, l.key); err != nil {
		l.drop(ctx)
		return fmt.Errorf("advisory unlock: %w", err)
	}

	l.sess.Release()
	l.sess = nil
	return nil
}
