package mailserver

import "io"

const (
	// FirstChunkSize is small but large enough to capture full headers and
	// small bodies in a single round trip.
	FirstChunkSize = 64 * 1024
	// NextChunkSize is used for every request after the first, tuned for
	// bulk body transfer.
	NextChunkSize = 1024 * 1024
)

// PartialFetcher is the subset of Session the Reader needs.
type PartialFetcher interface {
	FetchPartial(uid uint32, offset, length uint32) (int, []byte, error)
}

// Reader produces one message as a finite sequence of byte chunks in
// ascending offset order, with no gaps or overlaps. A short read from the
// server terminates the sequence; abandoning a Reader early is fine, but a
// fresh Reader always starts over at offset zero.
type Reader struct {
	fetcher PartialFetcher
	uid     uint32

	offset uint32
	size   uint32
	later  uint32
	done   bool
}

// NewReader returns a Reader with the default chunk sizing.
func NewReader(f PartialFetcher, uid uint32) *Reader {
	return NewReaderSizes(f, uid, FirstChunkSize, NextChunkSize)
}

// NewReaderSizes returns a Reader requesting first bytes on the initial
// fetch and next bytes on every subsequent one.
func NewReaderSizes(f PartialFetcher, uid uint32, first, next uint32) *Reader {
	return &Reader{fetcher: f, uid: uid, size: first, later: next}
}

// Next returns the next chunk of the message, or io.EOF once the final chunk
// has already been returned.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	requested := r.size
	n, chunk, err := r.fetcher.FetchPartial(r.uid, r.offset, requested)
	if err != nil {
		r.done = true
		return nil, err
	}

	// A chunk smaller than requested is the last one.
	if uint32(n) < requested {
		r.done = true
	}
	r.offset += requested
	r.size = r.later
	return chunk, nil
}
