package wire

import (
	"encoding/binary"
	"io"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// SendBulk writes size bytes from r as an unframed bulk payload: an 8-byte
// little-endian length prefix followed by the raw bytes, with no per-chunk
// framing. This is spec.md's distinct bulk-file-transfer wire form, used for
// manifest and *.bin transfers during replication.
func (c *Conn) SendBulk(r io.Reader, size int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(size))
	if _, err := c.w.Write(header[:]); err != nil {
		return loaditerr.Wrap(loaditerr.KindProtocol, "write bulk header", err)
	}
	if _, err := io.CopyN(c.w, r, size); err != nil {
		return loaditerr.Wrap(loaditerr.KindProtocol, "write bulk payload", err)
	}
	return c.w.Flush()
}

// RecvBulk reads a bulk payload's length prefix and returns a reader limited
// to exactly that many bytes. The caller must fully drain the reader (or
// discard it via io.Copy(io.Discard, r)) before issuing any other read on c,
// since the underlying buffered reader has no other way to skip unread
// bytes.
func (c *Conn) RecvBulk() (size int64, r io.Reader, err error) {
	var header [8]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return 0, nil, loaditerr.Wrap(loaditerr.KindProtocol, "read bulk header", err)
	}
	size = int64(binary.LittleEndian.Uint64(header[:]))
	return size, io.LimitReader(c.r, size), nil
}

// SendAck sends the peer-confirmation token a receiver uses to tell a sender
// it may push the next bulk payload ("wait/awake" flow control).
func (c *Conn) SendAck() error {
	return c.WriteFrame(TagBytes, []byte(ackToken))
}

// WaitAck blocks for the peer's acknowledgement frame before sending another
// bulk payload that requires one.
func (c *Conn) WaitAck() error {
	f, err := c.ReadFrame()
	if err != nil {
		return err
	}
	if f.Tag != TagBytes || string(f.Payload) != ackToken {
		return loaditerr.Newf(loaditerr.KindProtocol, "expected ack, got tag %q payload %q", byte(f.Tag), f.Payload)
	}
	return nil
}

// SendBulkWithAck sends a bulk payload and then blocks until the peer
// acknowledges it, preventing unbounded buffering when a sender pushes many
// large frames back-to-back.
func (c *Conn) SendBulkWithAck(r io.Reader, size int64) error {
	if err := c.SendBulk(r, size); err != nil {
		return err
	}
	return c.WaitAck()
}

// RecvBulkWithAck reads a bulk payload into w and acknowledges it once fully
// consumed.
func (c *Conn) RecvBulkWithAck(w io.Writer) (int64, error) {
	size, r, err := c.RecvBulk()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, loaditerr.Wrap(loaditerr.KindProtocol, "copy bulk payload", err)
	}
	if err := c.SendAck(); err != nil {
		return n, err
	}
	return n, nil
}
