package pebbledb

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
)

var errWriterClosed = errors.New("batch writer is closed")

type BatchWriterConfig struct {
	MaxBatchSize      int // Commit after this many ops even if more writes are waiting (default: 1000)
	ChannelBufferSize int
}

func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		MaxBatchSize:      1000,
		ChannelBufferSize: 1024,
	}
}

type writeOp struct {
	key   []byte
	value []byte
}

type writeReq struct {
	ops  []writeOp
	done chan error
}

// BatchWriter groups concurrent writes into shared synced commits. Write
// returns only after the commit holding its ops is durable, so callers can
// read their own writes.
type BatchWriter struct {
	db     *pebble.DB
	config BatchWriterConfig
	reqCh  chan *writeReq
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.RWMutex
	stopped bool
}

func NewBatchWriter(db *pebble.DB, config BatchWriterConfig) *BatchWriter {
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 1000
	}
	if config.ChannelBufferSize == 0 {
		config.ChannelBufferSize = 1024
	}

	bw := &BatchWriter{
		db:     db,
		config: config,
		reqCh:  make(chan *writeReq, config.ChannelBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go bw.flusher()

	return bw
}

// Write queues ops as one atomic unit and waits for them to be committed.
func (bw *BatchWriter) Write(ctx context.Context, ops ...writeOp) error {
	req := &writeReq{ops: ops, done: make(chan error, 1)}

	// The read lock keeps Close from stopping the flusher while a send is in
	// flight, so every queued request is committed.
	bw.mu.RLock()
	if bw.stopped {
		bw.mu.RUnlock()
		return errWriterClosed
	}
	select {
	case bw.reqCh <- req:
		bw.mu.RUnlock()
	case <-ctx.Done():
		bw.mu.RUnlock()
		return ctx.Err()
	}

	// Once queued the ops will be committed, so wait for the result even if
	// ctx is cancelled.
	return <-req.done
}

func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.stopped {
		bw.mu.Unlock()
		return nil // Already stopped
	}
	bw.stopped = true
	close(bw.stopCh)
	bw.mu.Unlock()

	<-bw.doneCh // Wait for flusher to finish
	return nil
}

func (bw *BatchWriter) flusher() {
	defer close(bw.doneCh)

	for {
		select {
		case req := <-bw.reqCh:
			bw.commit(bw.collect(req))

		case <-bw.stopCh:
			// Drain writes that were queued before the stop
			for {
				select {
				case req := <-bw.reqCh:
					bw.commit(bw.collect(req))
				default:
					return
				}
			}
		}
	}
}

// collect gathers first plus any writes already waiting, up to MaxBatchSize ops.
func (bw *BatchWriter) collect(first *writeReq) []*writeReq {
	reqs := []*writeReq{first}
	opCount := len(first.ops)

	for opCount < bw.config.MaxBatchSize {
		select {
		case req := <-bw.reqCh:
			reqs = append(reqs, req)
			opCount += len(req.ops)
		default:
			return reqs
		}
	}
	return reqs
}

func (bw *BatchWriter) commit(reqs []*writeReq) {
	batch := bw.db.NewBatch()
	defer batch.Close()

	var err error
	for _, req := range reqs {
		for _, op := range req.ops {
			if err = batch.Set(op.key, op.value, nil); err != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	if err == nil {
		err = batch.Commit(pebble.Sync)
	}

	for _, req := range reqs {
		req.done <- err
	}
}
