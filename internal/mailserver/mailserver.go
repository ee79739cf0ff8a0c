// Package mailserver wraps one live IMAP connection for incremental archival.
//
// Almost every IMAP operation acts on the currently selected folder, which is
// connection-wide state. A Session therefore moves through an explicit
// Disconnected -> Connected -> FolderSelected state machine and is NOT safe
// for concurrent use; callers must serialize all calls against it.
package mailserver

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("mailserver: not connected")
	// ErrNoFolderSelected is returned when a search or fetch is attempted
	// before SelectFolder.
	ErrNoFolderSelected = errors.New("mailserver: no folder selected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("mailserver: already connected")
)

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnected
	stateFolderSelected
)

func (st sessionState) String() string {
	switch st {
	case stateConnected:
		return "connected"
	case stateFolderSelected:
		return "folder selected"
	default:
		return "disconnected"
	}
}

// Session is a stateful wrapper around a single IMAP connection to one
// account. Search and fetch operations are scoped to the folder selected by
// the most recent SelectFolder call.
type Session struct {
	addr      string
	username  string
	password  string
	tlsConfig *tls.Config
	timeout   time.Duration
	logger    *slog.Logger

	client *imapclient.Client
	state  sessionState
	folder string
}

type Option func(*Session)

func WithAddr(addr string) Option {
	return func(s *Session) {
		s.addr = addr
	}
}

func WithCreds(username, password string) Option {
	return func(s *Session) {
		s.username = username
		s.password = password
	}
}

func WithTLSConfig(config *tls.Config) Option {
	return func(s *Session) {
		s.tlsConfig = config
	}
}

// WithTimeout bounds each blocking protocol call. An expired deadline
// surfaces as a ConnectionError.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(opts ...Option) (*Session, error) {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}

	if s.addr == "" {
		return nil, errors.New("requires server address")
	}
	if s.username == "" || s.password == "" {
		return nil, errors.New("requires credentials")
	}
	if s.logger == nil {
		return nil, errors.New("requires slogger")
	}

	return s, nil
}

// Connect dials the server over TLS and logs in.
func (s *Session) Connect() error {
	if s.state != stateDisconnected {
		return ErrAlreadyConnected
	}

	s.logger.Info("connecting to mailserver", slog.String("addr", s.addr), slog.String("user", s.username))

	c, err := imapclient.DialTLS(s.addr, s.tlsConfig)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	c.Timeout = s.timeout

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return &ConnectionError{Op: "login", Err: err}
	}

	s.client = c
	s.state = stateConnected
	return nil
}

// Close logs out and releases the connection. Safe to call on any state.
func (s *Session) Close() error {
	if s.state == stateDisconnected {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	s.folder = ""
	s.state = stateDisconnected
	return err
}

// ListFolders returns the folder names the server advertises, in server
// order. The transport strips each raw listing line's parenthesized flag
// list and hierarchy delimiter down to the bare name.
func (s *Session) ListFolders() ([]string, error) {
	if s.state == stateDisconnected {
		return nil, ErrNotConnected
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return nil, s.classify("list", err)
	}
	return names, nil
}

// SelectFolder selects the named folder read-only. Subsequent searches and
// fetches are scoped to it until the next SelectFolder.
func (s *Session) SelectFolder(name string) error {
	if s.state == stateDisconnected {
		return ErrNotConnected
	}

	if _, err := s.client.Select(name, true); err != nil {
		s.state = stateConnected
		s.folder = ""
		return s.classify("select", err)
	}

	s.state = stateFolderSelected
	s.folder = name
	return nil
}

// SearchUIDsSince runs a UID range search anchored at low against the
// selected folder and returns the matches strictly greater than low, in
// ascending order. The range query's lower bound is inclusive, so the server
// may echo low itself back; it is filtered out here.
func (s *Session) SearchUIDsSince(low uint32) ([]uint32, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}

	from := low
	if from < 1 {
		from = 1
	}
	set := new(imap.SeqSet)
	set.AddRange(from, 0) // 0 is the server-side "*"

	criteria := imap.NewSearchCriteria()
	criteria.Uid = set

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, s.classify("search", err)
	}

	fresh := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > low {
			fresh = append(fresh, uid)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	return fresh, nil
}

// FetchPartial retrieves up to length bytes of the message body at the given
// offset. It returns the byte count the server reported for the chunk; a
// count smaller than length means the message has no further bytes. There is
// no other end-of-message marker.
func (s *Session) FetchPartial(uid uint32, offset, length uint32) (int, []byte, error) {
	if err := s.requireSelected(); err != nil {
		return 0, nil, err
	}

	s.logger.Debug("partial fetch",
		slog.Uint64("uid", uint64(uid)),
		slog.Uint64("offset", uint64(offset)),
		slog.Uint64("size", uint64(length)))

	section := &imap.BodySectionName{Peek: true, Partial: []int{int(offset), int(length)}}
	set := new(imap.SeqSet)
	set.AddNum(uid)

	ch := make(chan *imap.Message, 1)
	if err := s.client.UidFetch(set, []imap.FetchItem{section.FetchItem()}, ch); err != nil {
		return 0, nil, s.classify("fetch", err)
	}

	msg := <-ch
	if msg == nil {
		return 0, nil, &ProtocolError{Op: "fetch", Err: errors.Errorf("no fetch response for uid %d", uid)}
	}

	literal := msg.GetBody(section)
	if literal == nil {
		// Some servers key the response section without the requested
		// length; fall back to the only body section present.
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return 0, nil, &ProtocolError{Op: "fetch", Err: errors.Errorf("uid %d response carries no body section", uid)}
	}

	n := literal.Len()
	chunk, err := io.ReadAll(literal)
	if err != nil {
		return 0, nil, &ProtocolError{Op: "fetch", Err: err}
	}
	return n, chunk, nil
}

// SelectedFolder reports the folder scoped by the last SelectFolder, or "".
func (s *Session) SelectedFolder() string {
	return s.folder
}

func (s *Session) requireSelected() error {
	switch s.state {
	case stateFolderSelected:
		return nil
	case stateDisconnected:
		return ErrNotConnected
	default:
		return ErrNoFolderSelected
	}
}

// classify splits folder-scoped failures into transport faults, which doom
// the whole account, and bad server responses, which doom only the folder.
func (s *Session) classify(op string, err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return &ConnectionError{Op: op, Err: err}
	}
	return &ProtocolError{Op: op, Err: err}
}
