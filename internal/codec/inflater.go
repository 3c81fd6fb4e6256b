package codec

import (
	"compress/zlib"
	"io"
	"sync"
)

// streamInflater is a zlib inflate stream that lives for a whole RFB
// session. ZRLE rectangles each carry a slice of one continuous zlib
// stream, so the stream must never be finalised between rectangles and
// a rectangle boundary may fall anywhere — including mid-block, where
// the standard library's reader would otherwise see an unexpected EOF
// and refuse to resume.
//
// The inflater therefore feeds compressed bytes through a pipe into a
// zlib.Reader owned by a pump goroutine. The pump blocks on the pipe
// when it runs out of input instead of erroring, and appends whatever
// it inflates to an output buffer. feed hands a rectangle's compressed
// bytes to the pump; drain waits until the pump has consumed all fed
// input and gone back to waiting, then returns everything inflated so
// far.
type streamInflater struct {
	mu   sync.Mutex
	cond *sync.Cond

	out     []byte
	fed     int64 // compressed bytes handed to the pipe
	taken   int64 // compressed bytes the pump has pulled off the pipe
	waiting bool  // pump is parked waiting for more input
	err     error // terminal inflate error

	pw *io.PipeWriter
}

func newStreamInflater() *streamInflater {
	pr, pw := io.Pipe()
	inf := &streamInflater{pw: pw}
	inf.cond = sync.NewCond(&inf.mu)

	go inf.pump(pr)

	return inf
}

// feed hands compressed bytes to the pump. It returns once the pump
// has accepted all of them, or with the pump's terminal error.
func (inf *streamInflater) feed(p []byte) error {
	inf.mu.Lock()
	if inf.err != nil {
		err := inf.err
		inf.mu.Unlock()
		return err
	}
	// Account before writing so drain cannot observe taken == fed while
	// part of this chunk is still in flight.
	inf.fed += int64(len(p))
	inf.mu.Unlock()

	if _, err := inf.pw.Write(p); err != nil {
		return err
	}

	return nil
}

// drain blocks until the pump has inflated everything the fed input
// allows and returns it. Bytes the stream cannot emit yet — a run of
// symbols cut mid-block — stay inside the inflater for the next feed.
func (inf *streamInflater) drain() ([]byte, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	for inf.err == nil && !(inf.waiting && inf.taken == inf.fed) {
		inf.cond.Wait()
	}

	if inf.err != nil {
		return nil, inf.err
	}

	out := inf.out
	inf.out = nil

	return out, nil
}

// close tears the stream down and releases the pump goroutine. The
// inflater is unusable afterwards.
func (inf *streamInflater) close() {
	inf.mu.Lock()
	if inf.err == nil {
		inf.err = ErrInflaterClosed
	}
	inf.cond.Broadcast()
	inf.mu.Unlock()

	inf.pw.CloseWithError(ErrInflaterClosed)
}

func (inf *streamInflater) pump(pr *io.PipeReader) {
	src := &inflaterSource{inf: inf, pr: pr}

	zr, err := zlib.NewReader(src)
	if err != nil {
		inf.fail(pr, err)
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			inf.mu.Lock()
			inf.out = append(inf.out, buf[:n]...)
			inf.mu.Unlock()
		}
		if err != nil {
			inf.fail(pr, err)
			return
		}
	}
}

// fail records the pump's terminal error and unblocks both sides:
// waiters in drain, and any feed parked on the pipe.
func (inf *streamInflater) fail(pr *io.PipeReader, err error) {
	pr.CloseWithError(err)

	inf.mu.Lock()
	if inf.err == nil {
		inf.err = err
	}
	inf.cond.Broadcast()
	inf.mu.Unlock()
}

// inflaterSource is the pump's view of the pipe. It flags when the
// inflate side is parked waiting for input and counts what it takes,
// which is what lets drain decide the stream has emitted all it can.
type inflaterSource struct {
	inf *streamInflater
	pr  *io.PipeReader
}

func (s *inflaterSource) Read(p []byte) (int, error) {
	s.inf.mu.Lock()
	s.inf.waiting = true
	s.inf.cond.Broadcast()
	s.inf.mu.Unlock()

	n, err := s.pr.Read(p)

	s.inf.mu.Lock()
	s.inf.waiting = false
	s.inf.taken += int64(n)
	s.inf.mu.Unlock()

	return n, err
}
