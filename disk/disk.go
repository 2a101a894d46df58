// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

// Package disk contains the interleave-aware sector and block I/O layer
// shared by the dos3 and prodos engines. An Image owns (or borrows) a flat
// byte buffer and knows how to translate logical track/sector and block
// addresses into physical byte offsets according to one of four sector
// orderings.
package disk

import (
	"github.com/zellyn/uft/errors"
)

// SectorSize is the fixed size of an Apple II sector.
const SectorSize = 256

// BlockSize is the fixed size of a ProDOS block: two consecutive sectors.
const BlockSize = 512

// Various Apple II floppy disk characteristics.
const (
	FloppyTracks  = 35
	FloppySectors = 16 // sectors per track, 16-sector images

	FloppySectors13 = 13 // sectors per track, 13-sector (DOS 3.2) images

	// FloppyDiskBytes is the number of bytes on a 16-sector DOS 3.3/ProDOS disk.
	FloppyDiskBytes = FloppyTracks * FloppySectors * SectorSize // 143,360

	// FloppyDiskBytes13Sector is the number of bytes on a 13-sector DOS 3.2 disk.
	FloppyDiskBytes13Sector = FloppyTracks * FloppySectors13 * SectorSize // 116,480

	FloppyTrackBytes = SectorSize * FloppySectors // bytes per track, 16-sector images
)

// Order names one of the four sector interleave permutations a raw image
// may be stored in.
type Order string

const (
	OrderDOS      Order = "dos"
	OrderProDOS   Order = "prodos"
	OrderPhysical Order = "physical"
	OrderDOS32    Order = "dos32"
)

// dos33Map is the logical-to-physical permutation for 16-sector DOS 3.3
// order. See [UtA2 9-42 - Read Routines].
var dos33Map = []int{
	0x00, 0x0D, 0x0B, 0x09, 0x07, 0x05, 0x03, 0x01,
	0x0E, 0x0C, 0x0A, 0x08, 0x06, 0x04, 0x02, 0x0F,
}

// prodosMap is the logical-to-physical permutation for 16-sector ProDOS
// order. See [UtA2e 9-43 - Sectors vs. Blocks].
var prodosMap = []int{
	0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, 0x0C, 0x0E,
	0x01, 0x03, 0x05, 0x07, 0x09, 0x0B, 0x0D, 0x0F,
}

// physicalMap is the identity permutation.
var physicalMap = []int{
	0x0, 0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7,
	0x8, 0x9, 0xA, 0xB, 0xC, 0xD, 0xE, 0xF,
}

// dos32Map is the 13-entry permutation used by 13-sector DOS 3.2 images.
var dos32Map = []int{
	0x00, 0x0A, 0x07, 0x04, 0x01, 0x0B, 0x08, 0x05, 0x02, 0x0C, 0x09, 0x06, 0x03,
}

// OrderMap returns the logical-to-physical sector permutation for the
// given order and sectors-per-track. DOS32 is only valid with 13 sectors;
// DOS and ProDOS are only valid with 16; Physical accepts 13 or 16.
func OrderMap(order Order, sectorsPerTrack int) ([]int, error) {
	switch order {
	case OrderDOS:
		if sectorsPerTrack != FloppySectors {
			return nil, errors.InvalidArgumentf("DOS order requires %d sectors/track; got %d", FloppySectors, sectorsPerTrack)
		}
		return dos33Map, nil
	case OrderProDOS:
		if sectorsPerTrack != FloppySectors {
			return nil, errors.InvalidArgumentf("ProDOS order requires %d sectors/track; got %d", FloppySectors, sectorsPerTrack)
		}
		return prodosMap, nil
	case OrderPhysical:
		if sectorsPerTrack == FloppySectors13 {
			return physicalMap[:FloppySectors13], nil
		}
		if sectorsPerTrack != FloppySectors {
			return nil, errors.InvalidArgumentf("physical order requires 13 or %d sectors/track; got %d", FloppySectors, sectorsPerTrack)
		}
		return physicalMap, nil
	case OrderDOS32:
		if sectorsPerTrack != FloppySectors13 {
			return nil, errors.InvalidArgumentf("DOS32 order requires %d sectors/track; got %d", FloppySectors13, sectorsPerTrack)
		}
		return dos32Map, nil
	default:
		return nil, errors.InvalidArgumentf("unknown sector order %q", order)
	}
}

// TrackSector is a pair of track/sector bytes, used as data pointers
// inside track/sector list entries.
type TrackSector struct {
	Track  byte
	Sector byte
}

// IsZero reports whether both Track and Sector are zero, the DOS 3.3
// convention for "end of chain" or "sparse hole" in a T/S list.
func (ts TrackSector) IsZero() bool { return ts.Track == 0 && ts.Sector == 0 }

// Block is a single 512-byte ProDOS block.
type Block [BlockSize]byte

// Image is a flat byte buffer interpreted as tracks of interleaved
// sectors. It is the Sector I/O component: every read/write a DOS 3.3 or
// ProDOS structure does passes through an Image.
type Image struct {
	data            []byte
	owned           bool
	modified        bool
	tracks          int
	sectorsPerTrack int
	order           Order
	orderMap        []int
}

// NewImage wraps data as an Image with the given geometry and sector
// order. If owned is true, the Image is considered to own the backing
// slice; if false, the caller retains ownership and must outlive the
// Image.
func NewImage(data []byte, tracks, sectorsPerTrack int, order Order, owned bool) (*Image, error) {
	orderMap, err := OrderMap(order, sectorsPerTrack)
	if err != nil {
		return nil, err
	}
	want := tracks * sectorsPerTrack * SectorSize
	if len(data) != want {
		return nil, errors.InvalidArgumentf("image of %d tracks x %d sectors/track wants %d bytes; got %d", tracks, sectorsPerTrack, want, len(data))
	}
	return &Image{
		data:            data,
		owned:           owned,
		tracks:          tracks,
		sectorsPerTrack: sectorsPerTrack,
		order:           order,
		orderMap:        orderMap,
	}, nil
}

// NewBlankImage allocates a fresh, owned, zero-filled Image.
func NewBlankImage(tracks, sectorsPerTrack int, order Order) (*Image, error) {
	data := make([]byte, tracks*sectorsPerTrack*SectorSize)
	return NewImage(data, tracks, sectorsPerTrack, order, true)
}

// Tracks returns the number of tracks in the image.
func (img *Image) Tracks() int { return img.tracks }

// SectorsPerTrack returns the number of sectors per track.
func (img *Image) SectorsPerTrack() int { return img.sectorsPerTrack }

// Order returns the sector order the image's bytes are physically stored in.
func (img *Image) Order() Order { return img.order }

// Owned reports whether the Image owns its backing buffer.
func (img *Image) Owned() bool { return img.owned }

// Modified reports whether any write has happened since the Image was
// created (or since the last ClearModified).
func (img *Image) Modified() bool { return img.modified }

// ClearModified resets the modified flag, e.g. immediately after a save.
func (img *Image) ClearModified() { img.modified = false }

// Bytes returns the raw backing buffer, physically laid out in the
// image's sector order.
func (img *Image) Bytes() []byte { return img.data }

func (img *Image) physicalOffset(track, sector byte) (int, error) {
	if int(track) >= img.tracks {
		return 0, errors.OutOfRangef("track %d out of range [0,%d)", track, img.tracks)
	}
	if int(sector) >= img.sectorsPerTrack {
		return 0, errors.OutOfRangef("sector %d out of range [0,%d)", sector, img.sectorsPerTrack)
	}
	physicalSector := img.orderMap[sector]
	return (int(track)*img.sectorsPerTrack + physicalSector) * SectorSize, nil
}

// ReadSector reads 256 bytes from the given logical track/sector.
func (img *Image) ReadSector(track, sector byte) ([]byte, error) {
	start, err := img.physicalOffset(track, sector)
	if err != nil {
		return nil, err
	}
	end := start + SectorSize
	if len(img.data) < end {
		return nil, errors.IOf("cannot read track %d sector %d (bytes %d-%d) from image of length %d", track, sector, start, end, len(img.data))
	}
	out := make([]byte, SectorSize)
	copy(out, img.data[start:end])
	return out, nil
}

// WriteSector writes exactly 256 bytes to the given logical track/sector
// and marks the image modified.
func (img *Image) WriteSector(track, sector byte, data []byte) error {
	if len(data) != SectorSize {
		return errors.InvalidArgumentf("WriteSector requires exactly %d bytes; got %d", SectorSize, len(data))
	}
	start, err := img.physicalOffset(track, sector)
	if err != nil {
		return err
	}
	end := start + SectorSize
	if len(img.data) < end {
		return errors.IOf("cannot write track %d sector %d (bytes %d-%d) to image of length %d", track, sector, start, end, len(img.data))
	}
	copy(img.data[start:end], data)
	img.modified = true
	return nil
}

// blockTrackSector returns the (track, sector) pair holding the first of
// the two sectors backing the given block number: track = block*2/spt,
// sector = block*2 mod spt; the second sector wraps onto the next track
// when needed.
func (img *Image) blockTrackSector(block uint16) (track, sector byte) {
	sectorIndex := int(block) * 2
	spt := img.sectorsPerTrack
	return byte(sectorIndex / spt), byte(sectorIndex % spt)
}

// ReadBlock reads 512 bytes (two consecutive logical sectors) for the
// given 16-bit block number.
func (img *Image) ReadBlock(block uint16) ([]byte, error) {
	track, sector := img.blockTrackSector(block)
	first, err := img.ReadSector(track, sector)
	if err != nil {
		return nil, errors.Wrap(err, "reading first half of block")
	}
	nextTrack, nextSector := track, sector+1
	if int(nextSector) >= img.sectorsPerTrack {
		nextTrack, nextSector = track+1, 0
	}
	second, err := img.ReadSector(nextTrack, nextSector)
	if err != nil {
		return nil, errors.Wrap(err, "reading second half of block")
	}
	out := make([]byte, BlockSize)
	copy(out[:SectorSize], first)
	copy(out[SectorSize:], second)
	return out, nil
}

// WriteBlock writes 512 bytes (two consecutive logical sectors) for the
// given 16-bit block number.
func (img *Image) WriteBlock(block uint16, data []byte) error {
	if len(data) != BlockSize {
		return errors.InvalidArgumentf("WriteBlock requires exactly %d bytes; got %d", BlockSize, len(data))
	}
	track, sector := img.blockTrackSector(block)
	if err := img.WriteSector(track, sector, data[:SectorSize]); err != nil {
		return errors.Wrap(err, "writing first half of block")
	}
	nextTrack, nextSector := track, sector+1
	if int(nextSector) >= img.sectorsPerTrack {
		nextTrack, nextSector = track+1, 0
	}
	if err := img.WriteSector(nextTrack, nextSector, data[SectorSize:]); err != nil {
		return errors.Wrap(err, "writing second half of block")
	}
	return nil
}

// ConvertOrder returns a new, independent Image holding the same logical
// sector contents but physically laid out in the target order. Sectors
// whose physical slot is the same under both orders (0 and 15, for the
// DOS/ProDOS pair) end up unmoved.
func (img *Image) ConvertOrder(to Order) (*Image, error) {
	toMap, err := OrderMap(to, img.sectorsPerTrack)
	if err != nil {
		return nil, err
	}
	out := &Image{
		data:            make([]byte, len(img.data)),
		owned:           true,
		tracks:          img.tracks,
		sectorsPerTrack: img.sectorsPerTrack,
		order:           to,
		orderMap:        toMap,
	}
	for track := 0; track < img.tracks; track++ {
		for logical := 0; logical < img.sectorsPerTrack; logical++ {
			data, err := img.ReadSector(byte(track), byte(logical))
			if err != nil {
				return nil, err
			}
			if err := out.WriteSector(byte(track), byte(logical), data); err != nil {
				return nil, err
			}
		}
	}
	out.modified = false
	return out, nil
}
