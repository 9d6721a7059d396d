package transport

import "io"

// FrameConn sends and receives whole length-prefixed messages, optionally
// encrypting/authenticating them (spec §6: "Each message is either
// plaintext (before key agreement) or encrypted frame (after)").
type FrameConn struct {
	rw     io.ReadWriter
	cipher *Cipher // nil until key agreement completes
}

func NewFrameConn(rw io.ReadWriter) *FrameConn {
	return &FrameConn{rw: rw}
}

// Upgrade installs a Cipher once ECDH key agreement has produced session
// keys; all subsequent Send/Recv calls are encrypted.
func (c *FrameConn) Upgrade(cipher *Cipher) {
	c.cipher = cipher
}

func (c *FrameConn) Send(payload []byte) error {
	if c.cipher != nil {
		sealed, err := c.cipher.Seal(payload)
		if err != nil {
			return err
		}
		return writeFrame(c.rw, sealed)
	}
	return writeFrame(c.rw, payload)
}

func (c *FrameConn) Recv() ([]byte, error) {
	frame, err := readFrame(c.rw)
	if err != nil {
		return nil, err
	}
	if c.cipher != nil {
		return c.cipher.Open(frame)
	}
	return frame, nil
}
