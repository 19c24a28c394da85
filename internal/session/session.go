// Package session owns the authoritative state of files under concurrent
// editing. Each file gets its own actor goroutine that is the sole mutator
// of that file's content, version, and operation history; everything
// reaches it through a command channel, so the single-writer invariant is
// structural rather than convention.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/serroba/collab-core/internal/conflict"
	"github.com/serroba/collab-core/internal/ot"
	"github.com/serroba/collab-core/internal/storage"
)

// PermissionChecker is the capability collaborator consulted before any
// operation is accepted.
type PermissionChecker interface {
	CanEdit(userID, fileID string) (bool, error)
}

// Broadcaster pushes accepted operations to a file's other participants.
// Implementations must not block the caller.
type Broadcaster interface {
	OperationApplied(fileID string, op *ot.TextOperation, userID string, version int, excludeConnID string)
}

// AppliedOperation is a history entry: an accepted operation and the
// version it produced.
type AppliedOperation struct {
	Version   int
	Op        *ot.TextOperation
	UserID    string
	AppliedAt time.Time
}

// Config holds configuration for creating a session.
type Config struct {
	FileID      string
	Store       storage.FileStore
	Perms       PermissionChecker // Optional
	Resolver    *conflict.Resolver
	Broadcast   Broadcaster // Optional
	GracePeriod time.Duration
	HistorySize int
	Logger      *slog.Logger

	// OnExit is called once, from the actor goroutine, after the session
	// has flushed and stopped. The registry uses it to drop its reference.
	OnExit func()
}

// Session is the per-file actor handle. Public methods are safe for
// concurrent use; they forward commands to the actor goroutine.
type Session struct {
	fileID      string
	store       storage.FileStore
	perms       PermissionChecker
	resolver    *conflict.Resolver
	broadcast   Broadcaster
	gracePeriod time.Duration
	historySize int
	logger      *slog.Logger
	onExit      func()

	cmds chan any
	done chan struct{}

	// Actor-owned state. Only the run loop touches these.
	content      string
	version      int
	history      []AppliedOperation
	participants map[string]string // connID -> userID
}

// NewSession creates a session for a file. Call Load before Start.
func NewSession(cfg Config) *Session {
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 100
	}

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		fileID:       cfg.FileID,
		store:        cfg.Store,
		perms:        cfg.Perms,
		resolver:     cfg.Resolver,
		broadcast:    cfg.Broadcast,
		gracePeriod:  gracePeriod,
		historySize:  historySize,
		logger:       logger.With(slog.String("fileId", cfg.FileID)),
		onExit:       cfg.OnExit,
		cmds:         make(chan any),
		done:         make(chan struct{}),
		participants: make(map[string]string),
	}
}

// FileID returns the file this session owns.
func (s *Session) FileID() string {
	return s.fileID
}

// Done is closed when the session has flushed and stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Load fetches the file's current content and version from storage.
func (s *Session) Load() error {
	content, version, err := s.store.LoadFile(s.fileID)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrSessionUnavailable, s.fileID, err)
	}

	s.content = content
	s.version = version

	return nil
}

// Start launches the actor goroutine.
func (s *Session) Start() {
	go s.run()
}

// Commands. Reply channels are buffered so the actor never blocks on an
// abandoned caller.

type joinCmd struct {
	connID string
	userID string
	reply  chan joinReply
}

type joinReply struct {
	content string
	version int
	err     error
}

type leaveCmd struct {
	connID string
	reply  chan error
}

type submitCmd struct {
	connID      string
	userID      string
	op          *ot.TextOperation
	baseVersion int
	reply       chan submitReply
}

type submitReply struct {
	version int
	err     error
}

type stateCmd struct {
	reply chan stateReply
}

type stateReply struct {
	content      string
	version      int
	participants int
	err          error
}

type closeCmd struct {
	reply chan error
}

// Join registers a participant and returns the current content and version.
func (s *Session) Join(ctx context.Context, connID, userID string) (string, int, error) {
	cmd := joinCmd{connID: connID, userID: userID, reply: make(chan joinReply, 1)}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return "", 0, ErrSessionClosed
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}

	r := <-cmd.reply

	return r.content, r.version, r.err
}

// Leave removes a participant. When the last participant leaves, the
// session flushes and shuts down after the grace period.
func (s *Session) Leave(ctx context.Context, connID string) error {
	cmd := leaveCmd{connID: connID, reply: make(chan error, 1)}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return nil // Already gone; leave is idempotent.
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-cmd.reply
}

// Submit processes an operation against the claimed base version. On
// success it returns the new version the sender should acknowledge.
func (s *Session) Submit(ctx context.Context, connID, userID string, op *ot.TextOperation, baseVersion int) (int, error) {
	cmd := submitCmd{
		connID:      connID,
		userID:      userID,
		op:          op,
		baseVersion: baseVersion,
		reply:       make(chan submitReply, 1),
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return 0, ErrSessionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	r := <-cmd.reply

	return r.version, r.err
}

// State returns the current content, version, and participant count.
func (s *Session) State(ctx context.Context) (string, int, int, error) {
	cmd := stateCmd{reply: make(chan stateReply, 1)}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return "", 0, 0, ErrSessionClosed
	case <-ctx.Done():
		return "", 0, 0, ctx.Err()
	}

	r := <-cmd.reply

	return r.content, r.version, r.participants, r.err
}

// Close flushes content to storage and stops the actor.
func (s *Session) Close(ctx context.Context) error {
	cmd := closeCmd{reply: make(chan error, 1)}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-cmd.reply
}

// run is the actor loop: the only goroutine that mutates session state.
func (s *Session) run() {
	defer close(s.done)
	defer s.rejectPending()

	if s.onExit != nil {
		defer s.onExit()
	}

	// Arm the grace timer immediately so a session nobody joins does not
	// linger.
	graceC := time.After(s.gracePeriod)

	for {
		select {
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case joinCmd:
				s.participants[c.connID] = c.userID
				graceC = nil
				c.reply <- joinReply{content: s.content, version: s.version}
			case leaveCmd:
				delete(s.participants, c.connID)

				if len(s.participants) == 0 {
					graceC = time.After(s.gracePeriod)
				}

				c.reply <- nil
			case submitCmd:
				c.reply <- s.handleSubmit(c)
			case stateCmd:
				c.reply <- stateReply{
					content:      s.content,
					version:      s.version,
					participants: len(s.participants),
				}
			case closeCmd:
				c.reply <- s.flush()

				return
			}
		case <-graceC:
			if len(s.participants) > 0 {
				// A join raced the timer; stay up.
				graceC = nil

				continue
			}

			if err := s.flush(); err != nil {
				s.logger.Error("flush on idle shutdown failed", slog.Any("error", err))
			}

			return
		}
	}
}

// rejectPending answers commands that were queued while the actor was
// shutting down.
func (s *Session) rejectPending() {
	for {
		select {
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case joinCmd:
				c.reply <- joinReply{err: ErrSessionClosed}
			case leaveCmd:
				c.reply <- nil
			case submitCmd:
				c.reply <- submitReply{err: ErrSessionClosed}
			case stateCmd:
				c.reply <- stateReply{err: ErrSessionClosed}
			case closeCmd:
				c.reply <- nil
			}
		default:
			return
		}
	}
}

// handleSubmit transforms, applies, persists, and broadcasts one incoming
// operation. Any error leaves content and version exactly as they were.
func (s *Session) handleSubmit(c submitCmd) submitReply {
	if s.perms != nil {
		ok, err := s.perms.CanEdit(c.userID, s.fileID)
		if err != nil {
			return submitReply{err: fmt.Errorf("%w: permission check: %v", ErrSessionUnavailable, err)}
		}

		if !ok {
			return submitReply{err: ErrPermissionDenied}
		}
	}

	if c.baseVersion > s.version {
		return submitReply{err: ErrVersionAhead}
	}

	op := c.op

	if c.baseVersion < s.version {
		oldest := s.version + 1
		if len(s.history) > 0 {
			oldest = s.history[0].Version
		}

		// Operations that have fallen out of the in-memory history are
		// replayed from the storage op log.
		if c.baseVersion < oldest-1 {
			caughtUp, err := s.catchUp(op, c.baseVersion, oldest)
			if err != nil {
				return submitReply{err: err}
			}

			op = caughtUp
		}
	}

	// Replay-transform against everything applied since the client's base
	// version. The applied side takes tie-break priority, so server
	// history always wins against replayed client operations.
	for _, h := range s.history {
		if h.Version <= c.baseVersion {
			continue
		}

		transformed, _, err := ot.Transform(op, h.Op, ot.PriorityRight)
		if err != nil {
			op, err = s.resolveAgainst(op, h.Op)
			if err != nil {
				return submitReply{err: err}
			}

			continue
		}

		op = transformed
	}

	newContent, err := ot.Apply(s.content, op)
	if err != nil {
		return submitReply{err: err}
	}

	if err := s.persistOperation(op); err != nil {
		return submitReply{err: err}
	}

	s.version++
	s.content = newContent
	s.appendHistory(AppliedOperation{
		Version:   s.version,
		Op:        op,
		UserID:    c.userID,
		AppliedAt: time.Now(),
	})

	if s.broadcast != nil {
		s.broadcast.OperationApplied(s.fileID, op, c.userID, s.version, c.connID)
	}

	return submitReply{version: s.version}
}

// catchUp transforms an operation through the versions between the
// client's base and the oldest entry still in memory, reading them from
// the storage op log. Returns ErrVersionTooOld when the log no longer
// covers that range.
func (s *Session) catchUp(op *ot.TextOperation, baseVersion, oldest int) (*ot.TextOperation, error) {
	stored, err := s.store.Operations(s.fileID, baseVersion)
	if err != nil {
		return nil, ErrVersionTooOld
	}

	next := baseVersion + 1

	for i := range stored {
		entry := stored[i]
		if entry.Version >= oldest {
			break
		}

		if entry.Version != next {
			return nil, ErrVersionTooOld
		}

		next++

		transformed, _, err := ot.Transform(op, &entry.Op, ot.PriorityRight)
		if err != nil {
			op, err = s.resolveAgainst(op, &entry.Op)
			if err != nil {
				return nil, err
			}

			continue
		}

		op = transformed
	}

	if next != oldest {
		return nil, ErrVersionTooOld
	}

	return op, nil
}

// resolveAgainst consults the conflict resolver when a replay transform
// fails. Winner-style outcomes arbitrate between the two sides; a merged
// outcome cannot be replayed on top of already-applied history, so it
// escalates to manual like an exhausted chain.
func (s *Session) resolveAgainst(incoming, applied *ot.TextOperation) (*ot.TextOperation, error) {
	unresolved := &UnresolvedConflictError{Incoming: incoming, Applied: applied}

	if s.resolver == nil {
		return nil, unresolved
	}

	res := s.resolver.Resolve(conflict.Pair{Left: incoming, Right: applied})

	switch {
	case !res.Resolved:
		return nil, unresolved
	case res.Winner == incoming:
		return incoming, nil
	case res.Winner != nil:
		return nil, ErrOperationDiscarded
	default:
		return nil, unresolved
	}
}

func (s *Session) appendHistory(entry AppliedOperation) {
	s.history = append(s.history, entry)

	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
}

// persistOperation durably records an accepted operation before it is
// broadcast, retrying transient storage failures.
func (s *Session) persistOperation(op *ot.TextOperation) error {
	attempt := func() error {
		err := s.store.AppendOperation(s.fileID, s.version+1, *op)
		if errors.Is(err, storage.ErrFileNotFound) {
			return backoff.Permanent(err)
		}

		return err
	}

	if err := backoff.Retry(attempt, s.newBackOff()); err != nil {
		return fmt.Errorf("%w: persist operation: %v", ErrSessionUnavailable, err)
	}

	return nil
}

// flush durably saves the materialized content, retrying transient
// storage failures.
func (s *Session) flush() error {
	attempt := func() error {
		err := s.store.SaveFile(s.fileID, s.content, s.version)
		if errors.Is(err, storage.ErrFileNotFound) || errors.Is(err, storage.ErrVersionBehind) {
			return backoff.Permanent(err)
		}

		return err
	}

	if err := backoff.Retry(attempt, s.newBackOff()); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrSessionUnavailable, err)
	}

	return nil
}

func (s *Session) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	return backoff.WithMaxRetries(bo, 3)
}
