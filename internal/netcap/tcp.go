package netcap

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
)

// TCPTransport is a bare length-prefixed-frame FrameTransport over a
// plain net.Conn: a concrete peer socket, not the abstract seam itself.
// It carries no encryption or handshake — spec.md §1 puts an
// authenticated transport's cryptography out of this repository's
// scope — so it is suitable for same-trust-domain or already-tunneled
// deployments, with real RLPx-style security left to whatever wraps
// the net.Conn before it reaches here.
type TCPTransport struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

// NewTCPTransport wraps an already-dialed or already-accepted
// connection.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn, r: bufio.NewReaderSize(conn, 32*1024)}
}

// Send writes one frame as a 4-byte big-endian header-length prefix,
// the header, a 4-byte body-length prefix, then the body.
func (t *TCPTransport) Send(f Frame) error {
	header, err := f.EncodeHeader()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(header)))
	if _, err := t.conn.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "netcap: write header length")
	}
	if _, err := t.conn.Write(header); err != nil {
		return errors.Wrap(err, "netcap: write header")
	}
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(f.Body)))
	if _, err := t.conn.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "netcap: write body length")
	}
	if len(f.Body) > 0 {
		if _, err := t.conn.Write(f.Body); err != nil {
			return errors.Wrap(err, "netcap: write body")
		}
	}
	return nil
}

// Recv blocks for the next frame on the connection.
func (t *TCPTransport) Recv() (Frame, error) {
	headerLen, err := t.readUint32()
	if err != nil {
		return Frame{}, err
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(t.r, headerBytes); err != nil {
		return Frame{}, errors.Wrap(err, "netcap: read header")
	}
	f, _, err := DecodeHeader(headerBytes)
	if err != nil {
		return Frame{}, err
	}

	bodyLen, err := t.readUint32()
	if err != nil {
		return Frame{}, err
	}
	if bodyLen > 0 {
		f.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(t.r, f.Body); err != nil {
			return Frame{}, errors.Wrap(err, "netcap: read body")
		}
	}
	return f, nil
}

func (t *TCPTransport) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(t.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Close closes the underlying connection.
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
