// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// woz.go is the Profile Contract implementation for WOZ, Applesauce's
// bit-accurate flux/bitstream container for Apple II disks. Decode is
// adapted from the original chunked-reader decoder: an eight-byte magic
// and a four-byte CRC32, then a stream of four-character-id/length/body
// chunks (INFO, TMAP, TRKS, META, or unknown) accumulated into a Woz
// value and checksummed against the declared CRC32.
package formats

import (
	"bytes"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"github.com/zellyn/uft/errors"
)

const wozHeader1 = "WOZ1\xFF\n\r\n"
const wozTrackLength = 6656

// Woz holds the decoded contents of a .woz flux/bitstream image.
type Woz struct {
	Info     WozInfo
	Unknowns []WozUnknownChunk
	TMap     [160]uint8
	TRKS     []WozTrack
	Metadata WozMetadata
}

// WozUnknownChunk preserves a chunk this decoder doesn't understand,
// so a round-trip re-encoder (out of scope here) could still emit it.
type WozUnknownChunk struct {
	ID   string
	Data []byte
}

// WozDiskType distinguishes 5.25" from 3.5" media.
type WozDiskType uint8

const (
	WozDiskType525 WozDiskType = 1
	WozDiskType35  WozDiskType = 2
)

// WozInfo is the INFO chunk's fixed fields.
type WozInfo struct {
	Version        uint8
	DiskType       WozDiskType
	WriteProtected bool
	Synchronized   bool
	Cleaned        bool
	Creator        string
}

// WozTrack is one TRKS entry: a bit-accurate nibblized track plus the
// metadata describing how many of its bits are meaningful.
type WozTrack struct {
	BitStream      [6646]uint8
	BytesUsed      uint16
	BitCount       uint16
	SplicePoint    uint16
	SpliceNibble   uint8
	SpliceBitCount uint8
	Reserved       uint16
}

// WozMetadata is the optional META chunk: freeform tab-separated
// key/value rows, order-preserved.
type WozMetadata struct {
	Keys      []string
	RawValues map[string]string
}

type wozDecoder struct {
	r      io.Reader
	woz    *Woz
	crc    hash.Hash32
	tmp    [3 * 256]byte
	crcVal uint32
}

func (d *wozDecoder) checkHeader() error {
	if _, err := io.ReadFull(d.r, d.tmp[:len(wozHeader1)]); err != nil {
		return err
	}
	if string(d.tmp[:len(wozHeader1)]) != wozHeader1 {
		return errors.BadTypef("woz: not a woz file")
	}
	return binary.Read(d.r, binary.LittleEndian, &d.crcVal)
}

func (d *wozDecoder) parseChunk() (done bool, err error) {
	n, err := io.ReadFull(d.r, d.tmp[:8])
	if err != nil {
		if n == 0 && err == io.EOF {
			return true, nil
		}
		return false, err
	}
	length := binary.LittleEndian.Uint32(d.tmp[4:8])
	d.crc.Write(d.tmp[:8])
	switch string(d.tmp[:4]) {
	case "INFO":
		return false, d.parseINFO(length)
	case "TMAP":
		return false, d.parseTMAP(length)
	case "TRKS":
		return false, d.parseTRKS(length)
	case "META":
		return false, d.parseMETA(length)
	default:
		return false, d.parseUnknown(string(d.tmp[:4]), length)
	}
}

func (d *wozDecoder) parseINFO(length uint32) error {
	if length != 60 {
		return errors.BadTypef("woz: expected INFO chunk length of 60; got %d", length)
	}
	if _, err := io.ReadFull(d.r, d.tmp[:length]); err != nil {
		return err
	}
	d.crc.Write(d.tmp[:length])
	d.woz.Info.Version = d.tmp[0]
	d.woz.Info.DiskType = WozDiskType(d.tmp[1])
	d.woz.Info.WriteProtected = d.tmp[2] == 1
	d.woz.Info.Synchronized = d.tmp[3] == 1
	d.woz.Info.Cleaned = d.tmp[4] == 1
	d.woz.Info.Creator = strings.TrimRight(string(d.tmp[5:37]), " ")
	return nil
}

func (d *wozDecoder) parseTMAP(length uint32) error {
	if length != 160 {
		return errors.BadTypef("woz: expected TMAP chunk length of 160; got %d", length)
	}
	if _, err := io.ReadFull(d.r, d.woz.TMap[:]); err != nil {
		return err
	}
	d.crc.Write(d.woz.TMap[:])
	return nil
}

func (d *wozDecoder) parseTRKS(length uint32) error {
	if length%wozTrackLength != 0 {
		return errors.BadTypef("woz: TRKS chunk length %d is not a multiple of %d", length, wozTrackLength)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	for offset := 0; offset < int(length); offset += wozTrackLength {
		b := buf[offset : offset+wozTrackLength]
		t := WozTrack{
			BytesUsed:      binary.LittleEndian.Uint16(b[6646:6648]),
			BitCount:       binary.LittleEndian.Uint16(b[6648:6650]),
			SplicePoint:    binary.LittleEndian.Uint16(b[6650:6652]),
			SpliceNibble:   b[6652],
			SpliceBitCount: b[6653],
			Reserved:       binary.LittleEndian.Uint16(b[6654:6656]),
		}
		copy(t.BitStream[:], b)
		d.woz.TRKS = append(d.woz.TRKS, t)
	}
	return nil
}

func (d *wozDecoder) parseMETA(length uint32) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	rows := strings.Split(string(buf), "\n")
	m := &d.woz.Metadata
	m.RawValues = make(map[string]string, len(rows))
	for _, row := range rows {
		if row == "" {
			continue
		}
		parts := strings.SplitN(row, "\t", 2)
		if len(parts) != 2 {
			return errors.BadTypef("woz: malformed metadata row %q", row)
		}
		m.Keys = append(m.Keys, parts[0])
		m.RawValues[parts[0]] = parts[1]
	}
	return nil
}

func (d *wozDecoder) parseUnknown(id string, length uint32) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.woz.Unknowns = append(d.woz.Unknowns, WozUnknownChunk{ID: id, Data: buf})
	return nil
}

// DecodeWoz reads a .woz image from r, validating the CRC32 declared in
// its header against the chunk bytes actually read.
func DecodeWoz(r io.Reader) (*Woz, error) {
	d := &wozDecoder{r: r, crc: crc32.NewIEEE(), woz: &Woz{}}
	if err := d.checkHeader(); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	for {
		done, err := d.parseChunk()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	if d.crcVal != d.crc.Sum32() {
		return d.woz, errors.IOf("woz: checksum mismatch: declared=%d computed=%d", d.crcVal, d.crc.Sum32())
	}
	return d.woz, nil
}

// wozProfile implements the Profile Contract for WOZ.
type wozProfile struct{}

func (wozProfile) Descriptor() Descriptor {
	return Descriptor{
		Tag: WOZ, ShortName: "WOZ", Description: "Applesauce bit-accurate Apple II flux image",
		Extensions: []string{".woz"}, Category: CategoryBitstream, Platform: "apple2",
		SupportsWrite: true, SupportsConvert: true, MinFileSize: len(wozHeader1) + 4,
	}
}

func (wozProfile) ValidateSignature(data []byte) bool {
	return len(data) >= len(wozHeader1) && string(data[:len(wozHeader1)]) == wozHeader1
}

func (p wozProfile) Probe(data []byte) int {
	if !p.ValidateSignature(data) {
		return 0
	}
	if _, err := DecodeWoz(bytes.NewReader(data)); err != nil {
		return 55
	}
	return 100
}

func (wozProfile) Parse(data []byte) (interface{}, error) {
	return DecodeWoz(bytes.NewReader(data))
}

func init() {
	register(wozProfile{})
}
