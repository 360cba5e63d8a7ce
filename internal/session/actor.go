package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/govrag/govrag/internal/model"
)

// request is a single mutation or read posted to a session's actor.
type request struct {
	fn     func(*model.Session) (any, error)
	mutate bool
	reply  chan response
}

type response struct {
	value any
	err   error
}

// sessionActor is the single writer for one session_id: writes are queued
// and flushed asynchronously by one goroutine per session so partial writes
// never interleave. All reads and writes for a session
// funnel through its actor's mailbox so mutations never race, and every
// mutation is followed by an atomic-rename flush to disk.
type sessionActor struct {
	path    string
	mailbox chan request
	done    chan struct{}
}

func newSessionActor(path string) *sessionActor {
	a := &sessionActor{
		path:    path,
		mailbox: make(chan request),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *sessionActor) run() {
	sess := a.loadOrNew()
	for {
		select {
		case req, ok := <-a.mailbox:
			if !ok {
				return
			}
			val, err := req.fn(sess)
			if err == nil && req.mutate {
				if ferr := a.flush(sess); ferr != nil {
					err = ferr
				}
			}
			req.reply <- response{value: val, err: err}
		case <-a.done:
			return
		}
	}
}

// call posts a mutation (or read) to the actor and waits for its result.
func (a *sessionActor) call(ctx context.Context, fn func(*model.Session) (any, error), mutate bool) (any, error) {
	req := request{fn: fn, mutate: mutate, reply: make(chan response, 1)}
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, fmt.Errorf("session: actor stopped")
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *sessionActor) stop() {
	close(a.done)
}

func (a *sessionActor) loadOrNew() *model.Session {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return &model.Session{}
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return &model.Session{}
	}
	return &sess
}

// flush writes sess to disk via a cross-process-locked temp-file+rename
// cycle, so a crash leaves either the old or the new file intact, never a
// truncated one.
func (a *sessionActor) flush(sess *model.Session) error {
	lock := newFileLock(a.path)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	tmpPath := a.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("session: atomic rename: %w", err)
	}
	return nil
}
