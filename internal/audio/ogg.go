package audio

import (
	"errors"
	"fmt"
	"io"
)

const oggHeaderSize = 27

var errBadCapturePattern = errors.New("invalid ogg capture pattern")

// oggReader extracts logical packets from an ogg page stream. Packets
// spanning page boundaries (255-byte lacing continuations) are
// reassembled transparently.
type oggReader struct {
	r       io.Reader
	packets [][]byte
	partial []byte
}

func newOggReader(r io.Reader) *oggReader {
	return &oggReader{r: r}
}

// NextPacket returns the next complete packet, reading further pages as
// needed.
func (o *oggReader) NextPacket() ([]byte, error) {
	for {
		if len(o.packets) > 0 {
			packet := o.packets[0]
			o.packets = o.packets[1:]
			return packet, nil
		}
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
}

func (o *oggReader) readPage() error {
	var header [oggHeaderSize]byte
	if _, err := io.ReadFull(o.r, header[:]); err != nil {
		return err
	}
	if string(header[0:4]) != "OggS" {
		return errBadCapturePattern
	}

	segments := int(header[26])
	lacing := make([]byte, segments)
	if _, err := io.ReadFull(o.r, lacing); err != nil {
		return fmt.Errorf("read lacing table: %w", err)
	}

	total := 0
	for _, l := range lacing {
		total += int(l)
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(o.r, payload); err != nil {
		return fmt.Errorf("read page payload: %w", err)
	}

	offset := 0
	for _, l := range lacing {
		o.partial = append(o.partial, payload[offset:offset+int(l)]...)
		offset += int(l)
		if l < 255 {
			o.packets = append(o.packets, o.partial)
			o.partial = nil
		}
	}
	return nil
}
