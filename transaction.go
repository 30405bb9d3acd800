package janode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
	isync "github.com/meetecho/janode-go/internal/sync"
)

// txResult is what a settled transaction delivers to its waiter. Either
// err is set, or msg is the definitive reply (with event populated when a
// plugin adapter decoded it).
type txResult struct {
	msg   *Message
	event *PluginEvent
	err   error
}

type transaction struct {
	id      string
	owner   any
	request string
	done    chan txResult
}

// transactionManager tracks in-flight requests by transaction id. Every
// transaction has exactly one owner (Connection, Session or Handle) and
// settles exactly once: settling removes the entry before delivering the
// result, so a duplicate reply finds nothing to settle.
type transactionManager struct {
	logger *log.Logger
	txs    *isync.Map[string, *transaction]
}

func newTransactionManager(logger *log.Logger) *transactionManager {
	return &transactionManager{
		logger: logger.Module("transactions"),
		txs:    isync.NewMap[string, *transaction](),
	}
}

func (tm *transactionManager) create(id string, owner any, request string) (*transaction, error) {
	tx := &transaction{
		id:      id,
		owner:   owner,
		request: request,
		done:    make(chan txResult, 1),
	}

	var err error
	tm.txs.WithLock(func(view isync.View[string, *transaction]) {
		if _, exists := view.Get(id); exists {
			err = errors.Newf(ErrDuplicateTransaction, "transaction %s already pending", id)
			return
		}
		view.Set(id, tx)
	})
	if err != nil {
		return nil, err
	}
	transactionsActive.Add(context.Background(), 1)
	return tx, nil
}

func (tm *transactionManager) get(id string) (*transaction, bool) {
	return tm.txs.Load(id)
}

func (tm *transactionManager) has(id string) bool {
	_, ok := tm.txs.Load(id)
	return ok
}

// ownerOf returns the owner of a pending transaction, or nil.
func (tm *transactionManager) ownerOf(id string) any {
	tx, ok := tm.txs.Load(id)
	if !ok {
		return nil
	}
	return tx.owner
}

func (tm *transactionManager) closeSuccess(id string, owner any, res txResult) bool {
	return tm.settle(id, owner, res)
}

func (tm *transactionManager) closeError(id string, owner any, err error) bool {
	return tm.settle(id, owner, txResult{err: err})
}

func (tm *transactionManager) settle(id string, owner any, res txResult) bool {
	var tx *transaction
	tm.txs.WithLock(func(view isync.View[string, *transaction]) {
		cand, ok := view.Get(id)
		if !ok || cand.owner != owner {
			return
		}
		view.Delete(id)
		tx = cand
	})
	if tx == nil {
		tm.logger.Debug("no pending transaction to settle", log.String("transaction", id))
		return false
	}
	transactionsActive.Add(context.Background(), -1)
	tx.done <- res
	return true
}

// closeAll fails every pending transaction of owner, or every transaction
// when owner is nil.
func (tm *transactionManager) closeAll(owner any, err error) {
	var settled []*transaction
	tm.txs.WithLock(func(view isync.View[string, *transaction]) {
		view.Range(func(id string, tx *transaction) bool {
			if owner == nil || tx.owner == owner {
				settled = append(settled, tx)
			}
			return true
		})
		for _, tx := range settled {
			view.Delete(tx.id)
		}
	})
	for _, tx := range settled {
		transactionsActive.Add(context.Background(), -1)
		tx.done <- txResult{err: err}
	}
}

// discard removes a transaction without delivering a result. The caller
// stopped waiting; a late reply will be dropped as unroutable.
func (tm *transactionManager) discard(id string, owner any) {
	removed := false
	tm.txs.WithLock(func(view isync.View[string, *transaction]) {
		tx, ok := view.Get(id)
		if !ok || tx.owner != owner {
			return
		}
		view.Delete(id)
		removed = true
	})
	if removed {
		transactionsActive.Add(context.Background(), -1)
	}
}

func (tm *transactionManager) size() int {
	return tm.txs.Len()
}

// Transaction identifiers are decimal strings in [0, 2^53), kept within
// the integer range a JSON peer can represent exactly.
const maxTransactionID uint64 = 1<<53 - 1

type idGenerator struct {
	mu   sync.Mutex
	next uint64
}

func newIDGenerator() *idGenerator {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return &idGenerator{
		next: binary.BigEndian.Uint64(b[:]) & maxTransactionID,
	}
}

func (g *idGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	if g.next >= maxTransactionID {
		g.next = 0
	} else {
		g.next++
	}
	return strconv.FormatUint(id, 10)
}
