package encryption

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"simjur/internal/simjur"
)

const (
	plainMagic    = "SJPLAIN1"
	plainFrameMax = 64 << 10
)

// PlainEncryptor frames payloads with a magic header and a CRC per chunk
// but keeps the bytes readable. It needs no key files, so tests and local
// setups use it in place of age. Corruption and truncation are still
// reported on Decrypt.
type PlainEncryptor struct {
	passphrase string
}

var _ simjur.Encryptor = (*PlainEncryptor)(nil)

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

// Setup remembers passphrase; Unlock then rejects any other.
func (e *PlainEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *PlainEncryptor) IsConfigured() bool { return true }

func (e *PlainEncryptor) Unlock(passphrase string) (simjur.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, errors.New("unlocking plain encryptor: wrong passphrase")
	}
	return plainOpener{}, nil
}

// Encrypt writes the header, then frames of <len><data><crc32>, then a
// zero-length frame.
func (e *PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(plainMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	buf := make([]byte, plainFrameMax)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := writeFrame(bw, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading plaintext: %w", err)
		}
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(0)); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}
	return bw.Flush()
}

func writeFrame(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, crc32.ChecksumIEEE(data)); err != nil {
		return fmt.Errorf("writing frame checksum: %w", err)
	}
	return nil
}

type plainOpener struct{}

func (plainOpener) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(plainMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(magic, []byte(plainMagic)) {
		return errors.New("not a plain-sealed payload")
	}

	buf := make([]byte, plainFrameMax)
	for frame := 1; ; frame++ {
		var size uint32
		if err := binary.Read(br, binary.BigEndian, &size); err != nil {
			return fmt.Errorf("frame %d: truncated payload: %w", frame, err)
		}
		if size == 0 {
			return nil
		}
		if size > plainFrameMax {
			return fmt.Errorf("frame %d: length %d exceeds %d", frame, size, plainFrameMax)
		}

		data := buf[:size]
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("frame %d: truncated payload: %w", frame, err)
		}
		var sum uint32
		if err := binary.Read(br, binary.BigEndian, &sum); err != nil {
			return fmt.Errorf("frame %d: truncated payload: %w", frame, err)
		}
		if sum != crc32.ChecksumIEEE(data) {
			return fmt.Errorf("frame %d: checksum mismatch", frame)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing plaintext: %w", err)
		}
	}
}
