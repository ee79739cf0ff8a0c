// Package engine drives the incremental synchronization of one account: it
// walks the account's folders, discovers candidate UIDs above the stored
// watermark, identifies each message from a partial read of its headers, and
// archives the ones the index has not seen.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/salvadorAnt/imapfetch/internal/archive"
	"github.com/salvadorAnt/imapfetch/internal/mailserver"
)

// Mailserver is the protocol session surface the engine needs. All calls are
// made strictly sequentially; implementations are not required to be safe
// for concurrent use.
type Mailserver interface {
	ListFolders() ([]string, error)
	SelectFolder(name string) error
	SearchUIDsSince(low uint32) ([]uint32, error)
	mailserver.PartialFetcher
}

// Index is the persistence surface the engine needs. Any failure here leaves
// the run in doubt and is fatal for the account.
type Index interface {
	Has(digest []byte) (bool, error)
	Put(digest []byte, location string) error
	Watermark(folder string) (uint32, error)
	SetWatermark(folder string, uid uint32) error
}

// MalformedMessageError reports a message whose accumulated bytes never
// contained a header terminator. The message is skipped and retried on the
// next run, since the watermark does not advance for it.
type MalformedMessageError struct {
	Folder string
	UID    uint32
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("message %d in %q is malformed: %v", e.UID, e.Folder, e.Err)
	}
	return fmt.Sprintf("message %d in %q has no header terminator", e.UID, e.Folder)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Engine synchronizes one account against one session, index and archive.
type Engine struct {
	account     string
	session     Mailserver
	idx         Index
	store       archive.Store
	logger      *slog.Logger
	incremental bool
	firstChunk  uint32
	nextChunk   uint32
}

type Option func(*Engine)

func WithAccountName(name string) Option {
	return func(e *Engine) {
		e.account = name
	}
}

func WithMailserver(s Mailserver) Option {
	return func(e *Engine) {
		e.session = s
	}
}

func WithIndex(idx Index) Option {
	return func(e *Engine) {
		e.idx = idx
	}
}

func WithArchive(store archive.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithIncremental controls whether folders resume from their stored
// watermark (true) or are re-scanned from UID 1. A full re-scan still never
// stores duplicates; the index catches them by digest.
func WithIncremental(incremental bool) Option {
	return func(e *Engine) {
		e.incremental = incremental
	}
}

// WithChunkSizes overrides the partial fetch sizing.
func WithChunkSizes(first, next uint32) Option {
	return func(e *Engine) {
		e.firstChunk = first
		e.nextChunk = next
	}
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		incremental: true,
		firstChunk:  mailserver.FirstChunkSize,
		nextChunk:   mailserver.NextChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.account == "" {
		return nil, errors.New("requires account name")
	}
	if e.session == nil {
		return nil, errors.New("requires mailserver session")
	}
	if e.idx == nil {
		return nil, errors.New("requires index")
	}
	if e.store == nil {
		return nil, errors.New("requires archive store")
	}
	if e.logger == nil {
		return nil, errors.New("requires slogger")
	}

	return e, nil
}

// SyncAccount walks every folder of the account. A bad server response or an
// unrecoverable archive write aborts only the affected folder; transport and
// index faults abort the account.
func (e *Engine) SyncAccount(ctx context.Context) error {
	folders, err := e.session.ListFolders()
	if err != nil {
		return err
	}

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.logger.Info("processing folder", slog.String("account", e.account), slog.String("folder", folder))
		if err := e.SyncFolder(ctx, folder); err != nil {
			var perr *mailserver.ProtocolError
			var werr *archive.WriteError
			if errors.As(err, &perr) || errors.As(err, &werr) {
				e.logger.ErrorContext(ctx, "folder aborted",
					slog.String("account", e.account),
					slog.String("folder", folder),
					slog.Any("error", err))
				continue
			}
			return err
		}
	}
	return nil
}

// SyncFolder synchronizes a single folder. The watermark is persisted after
// every processed UID, so an interrupted run loses at most the message in
// flight.
func (e *Engine) SyncFolder(ctx context.Context, folder string) error {
	log := e.logger.With(slog.String("account", e.account), slog.String("folder", folder))

	if err := e.session.SelectFolder(folder); err != nil {
		return err
	}

	mark, err := e.idx.Watermark(folder)
	if err != nil {
		return errors.Wrap(err, "read watermark")
	}

	low := mark
	if !e.incremental {
		low = 0
	}

	uids, err := e.session.SearchUIDsSince(low)
	if err != nil {
		return err
	}
	log.Info("candidate messages",
		slog.Uint64("watermark", uint64(mark)),
		slog.Int("count", len(uids)))

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.processUID(ctx, log, folder, uid); err != nil {
			var merr *MalformedMessageError
			if errors.As(err, &merr) {
				log.ErrorContext(ctx, "skipping malformed message",
					slog.Uint64("uid", uint64(uid)), slog.Any("error", err))
				continue
			}
			var werr *archive.WriteError
			if errors.As(err, &werr) && werr.Recoverable {
				log.ErrorContext(ctx, "archive write failed, message retried next run",
					slog.Uint64("uid", uint64(uid)), slog.Any("error", err))
				continue
			}
			return err
		}

		// The watermark tracks the highest successfully processed UID and
		// never regresses. Skipped UIDs above it stay below the next run's
		// scan start only until a later UID in this run succeeds.
		if uid > mark {
			if err := e.idx.SetWatermark(folder, uid); err != nil {
				return errors.Wrap(err, "persist watermark")
			}
			mark = uid
		}
	}
	return nil
}

// processUID handles a single candidate: read enough chunks to see the full
// header block, derive the identity digest, and either recognize the message
// as archived or download the rest and archive it. The digest is recorded
// only after the archive write is acknowledged; a crash between the two
// writes costs at worst a duplicate archive entry, never a lost message.
func (e *Engine) processUID(ctx context.Context, log *slog.Logger, folder string, uid uint32) error {
	r := mailserver.NewReaderSizes(e.session, uid, e.firstChunk, e.nextChunk)

	var message []byte
	for !hasHeaderTerminator(message) {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return &MalformedMessageError{Folder: folder, UID: uid}
		}
		if err != nil {
			return err
		}
		message = append(message, chunk...)
	}

	digest, err := headerDigest(message)
	if err != nil {
		return &MalformedMessageError{Folder: folder, UID: uid, Err: err}
	}

	seen, err := e.idx.Has(digest)
	if err != nil {
		return errors.Wrap(err, "index lookup")
	}
	if seen {
		// No need to drain the rest of the message.
		log.Debug("message exists already", slog.Uint64("uid", uint64(uid)))
		return nil
	}

	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		message = append(message, chunk...)
	}

	namespace := e.account + "." + folder
	key, err := e.store.Store(ctx, message, namespace)
	if err != nil {
		return err
	}

	location := namespace + "/" + key
	if err := e.idx.Put(digest, location); err != nil {
		return errors.Wrap(err, "record digest")
	}

	log.Info("archived message",
		slog.Uint64("uid", uint64(uid)),
		slog.Int("size", len(message)),
		slog.String("location", location))
	return nil
}

func hasHeaderTerminator(b []byte) bool {
	return bytes.Contains(b, []byte("\r\n\r\n")) || bytes.Contains(b, []byte("\n\n"))
}
