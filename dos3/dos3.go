// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

// Package dos3 contains routines for working with the on-disk
// structures of Apple DOS 3.3: the VTOC free-sector bitmap, the catalog
// sector chain, track/sector lists, and a types.Operator implementation
// that can read, write, delete, rename and lock/unlock files.
package dos3

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/errors"
	"github.com/zellyn/uft/internal/xlog"
	"github.com/zellyn/uft/types"
)

const (
	// VTOCTrack is the track on a DOS 3.3 disk that holds the VTOC.
	VTOCTrack = 17
	// VTOCSector is the sector on a DOS 3.3 disk that holds the VTOC.
	VTOCSector = 0

	fileDescsPerCatalogSector = 7
	trackSectorsPerTSLSector  = 122
)

// DiskSector represents a track and sector a marshaled struct was
// loaded from or should be written to.
type DiskSector struct {
	Track  byte
	Sector byte
}

// GetTrack returns the track that a DiskSector was loaded from.
func (ds *DiskSector) GetTrack() byte { return ds.Track }

// SetTrack sets the track that a DiskSector was loaded from.
func (ds *DiskSector) SetTrack(track byte) { ds.Track = track }

// GetSector returns the sector that a DiskSector was loaded from.
func (ds *DiskSector) GetSector() byte { return ds.Sector }

// SetSector sets the sector that a DiskSector was loaded from.
func (ds *DiskSector) SetSector(sector byte) { ds.Sector = sector }

// TrackFreeSectors maps the free sectors in a single track. Byte 0 holds
// bits for sectors 8-15, byte 1 holds bits for sectors 0-7 (bit=1 means
// free); bytes 2-3 are unused and must read as zero.
type TrackFreeSectors [4]byte

// IsFree returns true if the given sector on a track is free. Sectors
// above 15 have no bit in the map and always report false.
func (t TrackFreeSectors) IsFree(sector byte) bool {
	if sector >= 16 {
		return false
	}
	bits := byte(1) << (sector % 8)
	if sector < 8 {
		return t[1]&bits > 0
	}
	return t[0]&bits > 0
}

// setFree sets or clears the free bit for the given sector.
func (t *TrackFreeSectors) setFree(sector byte, free bool) {
	bits := byte(1) << (sector % 8)
	idx := 0
	if sector < 8 {
		idx = 1
	}
	if free {
		t[idx] |= bits
	} else {
		t[idx] &^= bits
	}
}

// count returns the number of free sectors marked in this track.
func (t TrackFreeSectors) count() int {
	n := 0
	for s := byte(0); s < 16; s++ {
		if t.IsFree(s) {
			n++
		}
	}
	return n
}

// UnusedClear returns true if the unused bytes of the free sector map
// for a track are zeroes (as they're supposed to be).
func (t TrackFreeSectors) UnusedClear() bool {
	return t[2] == 0 && t[3] == 0
}

// DiskFreeSectors maps the free sectors on a disk, one entry per track.
type DiskFreeSectors [50]TrackFreeSectors

// VTOC is the struct used to hold the DOS 3.3 VTOC structure.
// See page 4-2 of Beneath Apple DOS.
type VTOC struct {
	DiskSector
	Unused1       byte
	CatalogTrack  byte
	CatalogSector byte
	DOSRelease    byte
	Unused2       [2]byte
	Volume        byte
	Unused3       [32]byte
	// TrackSectorListMaxSize is the maximum number of track/sector pairs
	// which will fit in one file track/sector list sector (122 for
	// 256-byte sectors).
	TrackSectorListMaxSize byte
	Unused4                [8]byte
	LastTrack              byte  // Last track where sectors were allocated
	TrackDirection         int8  // Direction of track allocation (+1 or -1)
	Unused5                [2]byte
	NumTracks              byte
	NumSectors             byte
	BytesPerSector         uint16
	FreeSectors            DiskFreeSectors
}

// Validate checks a VTOC sector to make sure it looks normal.
func (v *VTOC) Validate() error {
	if v.Volume == 255 {
		return errors.BadTypef("expected volume to be 0-254, but got 255")
	}
	if v.DOSRelease != 3 {
		return errors.BadTypef("expected DOS release number to be 3; got %d", v.DOSRelease)
	}
	if v.TrackDirection != 1 && v.TrackDirection != -1 {
		return errors.BadTypef("expected track direction to be 1 or -1; got %d", v.TrackDirection)
	}
	if v.NumTracks != 35 {
		return errors.BadTypef("expected number of tracks to be 35; got %d", v.NumTracks)
	}
	if v.NumSectors != 13 && v.NumSectors != 16 {
		return errors.BadTypef("expected number of sectors per track to be 13 or 16; got %d", v.NumSectors)
	}
	if v.BytesPerSector != 256 {
		return errors.BadTypef("expected 256 bytes per sector; got %d", v.BytesPerSector)
	}
	if v.TrackSectorListMaxSize != trackSectorsPerTSLSector {
		return errors.BadTypef("expected %d track/sector pairs per track/sector list sector; got %d", trackSectorsPerTSLSector, v.TrackSectorListMaxSize)
	}
	for i, tf := range v.FreeSectors {
		if !tf.UnusedClear() {
			return errors.BadTypef("unused bytes of free-sector list for track %d are not zeroes", i)
		}
	}
	return nil
}

// ToSector marshals the VTOC sector to bytes.
func (v VTOC) ToSector() ([]byte, error) {
	buf := make([]byte, disk.SectorSize)
	buf[0x00] = v.Unused1
	buf[0x01] = v.CatalogTrack
	buf[0x02] = v.CatalogSector
	buf[0x03] = v.DOSRelease
	copyBytes(buf[0x04:0x06], v.Unused2[:])
	buf[0x06] = v.Volume
	copyBytes(buf[0x07:0x27], v.Unused3[:])
	buf[0x27] = v.TrackSectorListMaxSize
	copyBytes(buf[0x28:0x30], v.Unused4[:])
	buf[0x30] = v.LastTrack
	buf[0x31] = byte(v.TrackDirection)
	copyBytes(buf[0x32:0x34], v.Unused5[:])
	buf[0x34] = v.NumTracks
	buf[0x35] = v.NumSectors
	binary.LittleEndian.PutUint16(buf[0x36:0x38], v.BytesPerSector)
	for i, m := range v.FreeSectors {
		copyBytes(buf[0x38+4*i:0x38+4*i+4], m[:])
	}
	return buf, nil
}

// copyBytes is just like the builtin copy, but for byte slices only, and
// it panics if dst and src have differing lengths.
func copyBytes(dst, src []byte) int {
	if len(dst) != len(src) {
		panic(errors.InvalidArgumentf("copyBytes called with differing lengths %d and %d", len(dst), len(src)))
	}
	return copy(dst, src)
}

// FromSector unmarshals the VTOC sector from bytes. Input is expected to
// be exactly 256 bytes.
func (v *VTOC) FromSector(data []byte) error {
	if len(data) != disk.SectorSize {
		return errors.BufferTooSmallf("VTOC.FromSector expects exactly %d bytes; got %d", disk.SectorSize, len(data))
	}

	v.Unused1 = data[0x00]
	v.CatalogTrack = data[0x01]
	v.CatalogSector = data[0x02]
	v.DOSRelease = data[0x03]
	copyBytes(v.Unused2[:], data[0x04:0x06])
	v.Volume = data[0x06]
	copyBytes(v.Unused3[:], data[0x07:0x27])
	v.TrackSectorListMaxSize = data[0x27]
	copyBytes(v.Unused4[:], data[0x28:0x30])
	v.LastTrack = data[0x30]
	v.TrackDirection = int8(data[0x31])
	copyBytes(v.Unused5[:], data[0x32:0x34])
	v.NumTracks = data[0x34]
	v.NumSectors = data[0x35]
	v.BytesPerSector = binary.LittleEndian.Uint16(data[0x36:0x38])
	for i := range v.FreeSectors {
		copyBytes(v.FreeSectors[i][:], data[0x38+4*i:0x38+4*i+4])
	}
	return nil
}

// DefaultVTOC returns a new, empty VTOC with values set to their
// defaults. Track 17 (the VTOC/catalog track) and track 0 (boot track)
// are marked fully used, matching a freshly-INITed disk.
func DefaultVTOC() VTOC {
	v := VTOC{
		CatalogTrack:           0x11,
		CatalogSector:          0x0f,
		DOSRelease:             0x03,
		Volume:                 0x01,
		TrackSectorListMaxSize: trackSectorsPerTSLSector,
		LastTrack:              0x11,
		TrackDirection:         1,
		NumTracks:              0x23,
		NumSectors:             0x10,
		BytesPerSector:         0x100,
	}
	for i := range v.FreeSectors {
		if i < disk.FloppyTracks {
			v.FreeSectors[i] = TrackFreeSectors{0xff, 0xff, 0x00, 0x00}
		}
	}
	v.FreeSectors[0] = TrackFreeSectors{0x00, 0x00, 0x00, 0x00}
	v.FreeSectors[VTOCTrack] = TrackFreeSectors{0x00, 0x00, 0x00, 0x00}
	return v
}

// FreeSectorCount returns the total number of sectors marked free across
// the whole disk.
func (v *VTOC) FreeSectorCount() int {
	n := 0
	for i := 0; i < int(v.NumTracks) && i < len(v.FreeSectors); i++ {
		n += v.FreeSectors[i].count()
	}
	return n
}

// IsSectorFree reports whether the given track/sector is marked free.
func (v *VTOC) IsSectorFree(track, sector byte) bool {
	if int(track) >= len(v.FreeSectors) {
		return false
	}
	return v.FreeSectors[track].IsFree(sector)
}

// MarkSectorUsed clears the free bit for a track/sector.
func (v *VTOC) MarkSectorUsed(track, sector byte) {
	v.FreeSectors[track].setFree(sector, false)
}

// MarkSectorFree sets the free bit for a track/sector.
func (v *VTOC) MarkSectorFree(track, sector byte) {
	v.FreeSectors[track].setFree(sector, true)
}

// AllocateSector finds and claims the next free sector, walking tracks
// outward from LastTrack in TrackDirection and, within a track, sectors
// from high to low (DOS 3.3's traditional allocation order). It skips
// the VTOC/catalog track. Returns errors.DiskFull if no sector is free.
func (v *VTOC) AllocateSector() (track, sector byte, err error) {
	dir := int(v.TrackDirection)
	t := int(v.LastTrack)
	for tries := 0; tries < 2*int(v.NumTracks); tries++ {
		if t < 0 || t >= int(v.NumTracks) {
			dir = -dir
			t = int(v.LastTrack)
			continue
		}
		if t != VTOCTrack {
			for s := int(v.NumSectors) - 1; s >= 0; s-- {
				if v.FreeSectors[t].IsFree(byte(s)) {
					v.MarkSectorUsed(byte(t), byte(s))
					v.LastTrack = byte(t)
					return byte(t), byte(s), nil
				}
			}
		}
		t += dir
	}
	return 0, 0, errors.DiskFullf("no free sectors remain")
}

// CatalogSector is the struct used to hold the DOS 3.3 Catalog sector.
type CatalogSector struct {
	DiskSector
	Unused1    byte
	NextTrack  byte
	NextSector byte
	Unused2    [8]byte
	FileDescs  [fileDescsPerCatalogSector]FileDesc
}

// ToSector marshals the CatalogSector to bytes.
func (cs CatalogSector) ToSector() ([]byte, error) {
	buf := make([]byte, disk.SectorSize)
	buf[0x00] = cs.Unused1
	buf[0x01] = cs.NextTrack
	buf[0x02] = cs.NextSector
	copyBytes(buf[0x03:0x0b], cs.Unused2[:])
	for i, fd := range cs.FileDescs {
		copyBytes(buf[0x0b+35*i:0x0b+35*(i+1)], fd.ToBytes())
	}
	return buf, nil
}

// FromSector unmarshals the CatalogSector from bytes. Input is expected
// to be exactly 256 bytes.
func (cs *CatalogSector) FromSector(data []byte) error {
	if len(data) != disk.SectorSize {
		return errors.BufferTooSmallf("CatalogSector.FromSector expects exactly %d bytes; got %d", disk.SectorSize, len(data))
	}
	cs.Unused1 = data[0x00]
	cs.NextTrack = data[0x01]
	cs.NextSector = data[0x02]
	copyBytes(cs.Unused2[:], data[0x03:0x0b])
	for i := range cs.FileDescs {
		cs.FileDescs[i].FromBytes(data[0x0b+35*i : 0x0b+35*(i+1)])
	}
	return nil
}

// Filetype is the type for the DOS 3.3 filetype+locked status byte.
type Filetype byte

// The DOS 3.3 filetypes. FiletypeLocked is an independent bit, OR'd in.
const (
	FiletypeLocked Filetype = 0x80

	FiletypeText        Filetype = 0x00
	FiletypeInteger     Filetype = 0x01
	FiletypeApplesoft   Filetype = 0x02
	FiletypeBinary      Filetype = 0x04
	FiletypeS           Filetype = 0x08
	FiletypeRelocatable Filetype = 0x10
	FiletypeA           Filetype = 0x20
	FiletypeB           Filetype = 0x40
)

// FileDescStatus is the type used to mark file descriptor status.
type FileDescStatus int

const (
	FileDescStatusNormal FileDescStatus = iota
	FileDescStatusDeleted
	FileDescStatusUnused
)

// FileDesc is the struct used to represent the DOS 3.3 File Descriptive
// entry.
type FileDesc struct {
	// TrackSectorListTrack is the track of the first track/sector list
	// sector. 0x00 means the entry has never been used; 0xff means the
	// file has been deleted, and the original track number has been
	// copied to the last byte of Filename.
	TrackSectorListTrack  byte
	TrackSectorListSector byte
	Filetype              Filetype
	Filename              [30]byte
	SectorCount           uint16
}

// ToBytes marshals the FileDesc to bytes.
func (fd FileDesc) ToBytes() []byte {
	buf := make([]byte, 35)
	buf[0x00] = fd.TrackSectorListTrack
	buf[0x01] = fd.TrackSectorListSector
	buf[0x02] = byte(fd.Filetype)
	copyBytes(buf[0x03:0x21], fd.Filename[:])
	binary.LittleEndian.PutUint16(buf[0x21:0x23], fd.SectorCount)
	return buf
}

// FromBytes unmarshals the FileDesc from bytes. Input is expected to be
// exactly 35 bytes.
func (fd *FileDesc) FromBytes(data []byte) {
	if len(data) != 35 {
		panic(errors.BufferTooSmallf("FileDesc.FromBytes expects exactly 35 bytes; got %d", len(data)))
	}
	fd.TrackSectorListTrack = data[0x00]
	fd.TrackSectorListSector = data[0x01]
	fd.Filetype = Filetype(data[0x02])
	copyBytes(fd.Filename[:], data[0x03:0x21])
	fd.SectorCount = binary.LittleEndian.Uint16(data[0x21:0x23])
}

// Status returns whether the FileDesc describes a deleted file, a
// normal file, or has never been used.
func (fd *FileDesc) Status() FileDescStatus {
	switch fd.TrackSectorListTrack {
	case 0:
		return FileDescStatusUnused
	case 0xff:
		return FileDescStatusDeleted
	default:
		return FileDescStatusNormal
	}
}

// setFilenameString stores name into Filename, high-bit-set and
// space-padded to 30 characters, per DOS 3.3 convention. The high bit is
// an engine-internal storage detail: it is never exposed to callers of
// FilenameString.
func setFilenameString(name string) [30]byte {
	var out [30]byte
	padded := name
	if len(padded) > 30 {
		padded = padded[:30]
	}
	for len(padded) < 30 {
		padded += " "
	}
	for i := 0; i < 30; i++ {
		out[i] = padded[i] | 0x80
	}
	return out
}

// FilenameString returns the filename of a FileDesc as a normal string,
// with the high bit stripped and trailing spaces trimmed.
func (fd *FileDesc) FilenameString() string {
	var slice []byte
	if fd.Status() == FileDescStatusDeleted {
		slice = append(slice, fd.Filename[0:len(fd.Filename)-1]...)
	} else {
		slice = append(slice, fd.Filename[:]...)
	}
	for i := range slice {
		slice[i] &^= 0x80
	}
	return strings.TrimRight(string(slice), " ")
}

// descriptor returns a types.Descriptor for a FileDesc, but with the
// length set to -1, since we can't know it without reading the file
// contents.
func (fd FileDesc) descriptor() types.Descriptor {
	desc := types.Descriptor{
		Name:    fd.FilenameString(),
		Sectors: int(fd.SectorCount),
		Length:  -1,
		Locked:  (fd.Filetype & FiletypeLocked) > 0,
	}
	switch fd.Filetype & 0x7f {
	case FiletypeText:
		desc.Type = types.FiletypeASCIIText
	case FiletypeInteger:
		desc.Type = types.FiletypeIntegerBASIC
	case FiletypeApplesoft:
		desc.Type = types.FiletypeApplesoftBASIC
	case FiletypeBinary:
		desc.Type = types.FiletypeBinary
	case FiletypeS:
		desc.Type = types.FiletypeS
	case FiletypeRelocatable:
		desc.Type = types.FiletypeRelocatable
	case FiletypeA:
		desc.Type = types.FiletypeNewA
	case FiletypeB:
		desc.Type = types.FiletypeNewB
	}
	return desc
}

// Contents returns the on-disk contents of a file represented by a
// FileDesc, walking its track/sector list chain. maxTSLSectors bounds
// how many T/S list sectors will be followed before the chain is
// declared bad (spec safety cap).
func (fd *FileDesc) Contents(img *disk.Image, maxTSLSectors int) ([]byte, error) {
	tsls := []TrackSectorList{}
	nextTrack := fd.TrackSectorListTrack
	nextSector := fd.TrackSectorListSector
	seen := map[disk.TrackSector]bool{}
	for nextTrack != 0 || nextSector != 0 {
		if len(tsls) >= maxTSLSectors {
			return nil, errors.BadChainf("file %q: track/sector list exceeds safety cap of %d sectors", fd.FilenameString(), maxTSLSectors)
		}
		ts := disk.TrackSector{Track: nextTrack, Sector: nextSector}
		if seen[ts] {
			return nil, errors.BadChainf("file %q tries to read track/sector %d/%d twice", fd.FilenameString(), nextTrack, nextSector)
		}
		seen[ts] = true
		tsl := TrackSectorList{}
		if err := disk.UnmarshalLogicalSector(img, &tsl, nextTrack, nextSector); err != nil {
			return nil, err
		}
		tsls = append(tsls, tsl)
		nextTrack = tsl.NextTrack
		nextSector = tsl.NextSector
	}
	data := make([]byte, 0, disk.SectorSize*trackSectorsPerTSLSector*len(tsls))
	for i, tsl := range tsls {
		end := trackSectorsPerTSLSector - 1
		if i == len(tsls)-1 {
			end = -1
			for j, ts := range tsl.TrackSectors {
				if !ts.IsZero() {
					end = j
				}
			}
		}
		for j := 0; j <= end; j++ {
			ts := tsl.TrackSectors[j]
			if ts.IsZero() {
				data = append(data, make([]byte, disk.SectorSize)...)
				continue
			}
			contents, err := img.ReadSector(ts.Track, ts.Sector)
			if err != nil {
				return nil, err
			}
			data = append(data, contents...)
		}
	}
	return data, nil
}

// TrackSectorList is the struct used to represent DOS 3.3 Track/Sector
// List sectors.
type TrackSectorList struct {
	DiskSector
	Unused1      byte
	NextTrack    byte
	NextSector   byte
	Unused2      [2]byte
	SectorOffset uint16
	Unused3      [5]byte
	TrackSectors [trackSectorsPerTSLSector]disk.TrackSector
}

// ToSector marshals the TrackSectorList to bytes.
func (tsl TrackSectorList) ToSector() ([]byte, error) {
	buf := make([]byte, disk.SectorSize)
	buf[0x00] = tsl.Unused1
	buf[0x01] = tsl.NextTrack
	buf[0x02] = tsl.NextSector
	copyBytes(buf[0x03:0x05], tsl.Unused2[:])
	binary.LittleEndian.PutUint16(buf[0x05:0x07], tsl.SectorOffset)
	copyBytes(buf[0x07:0x0C], tsl.Unused3[:])
	for i, ts := range tsl.TrackSectors {
		buf[0x0C+i*2] = ts.Track
		buf[0x0D+i*2] = ts.Sector
	}
	return buf, nil
}

// FromSector unmarshals the TrackSectorList from bytes. Input is
// expected to be exactly 256 bytes.
func (tsl *TrackSectorList) FromSector(data []byte) error {
	if len(data) != disk.SectorSize {
		return errors.BufferTooSmallf("TrackSectorList.FromSector expects exactly %d bytes; got %d", disk.SectorSize, len(data))
	}
	tsl.Unused1 = data[0x00]
	tsl.NextTrack = data[0x01]
	tsl.NextSector = data[0x02]
	copyBytes(tsl.Unused2[:], data[0x03:0x05])
	tsl.SectorOffset = binary.LittleEndian.Uint16(data[0x05:0x07])
	copyBytes(tsl.Unused3[:], data[0x07:0x0C])
	for i := range tsl.TrackSectors {
		tsl.TrackSectors[i].Track = data[0x0C+i*2]
		tsl.TrackSectors[i].Sector = data[0x0D+i*2]
	}
	return nil
}

// readVTOC reads and validates the VTOC sector.
func readVTOC(img *disk.Image) (*VTOC, error) {
	v := &VTOC{}
	if err := disk.UnmarshalLogicalSector(img, v, VTOCTrack, VTOCSector); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid VTOC sector")
	}
	return v, nil
}

// readCatalogSectors reads the raw CatalogSector structs from a DOS 3.3
// disk, stopping at maxSectors (spec safety cap) rather than looping
// forever on a cyclic chain.
func readCatalogSectors(img *disk.Image, v *VTOC, maxSectors int) ([]CatalogSector, error) {
	nextTrack := v.CatalogTrack
	nextSector := v.CatalogSector
	var css []CatalogSector
	seen := map[disk.TrackSector]bool{}
	for nextTrack != 0 || nextSector != 0 {
		if len(css) >= maxSectors {
			return nil, errors.BadChainf("catalog chain exceeds safety cap of %d sectors", maxSectors)
		}
		ts := disk.TrackSector{Track: nextTrack, Sector: nextSector}
		if seen[ts] {
			return nil, errors.BadChainf("catalog tries to read track/sector %d/%d twice", nextTrack, nextSector)
		}
		if nextTrack >= v.NumTracks {
			return nil, errors.BadChainf("catalog sectors can't be in track %d: disk only has %d tracks", nextTrack, v.NumTracks)
		}
		if nextSector >= v.NumSectors {
			return nil, errors.BadChainf("catalog sectors can't be in sector %d: disk only has %d sectors", nextSector, v.NumSectors)
		}
		seen[ts] = true
		cs := CatalogSector{}
		if err := disk.UnmarshalLogicalSector(img, &cs, nextTrack, nextSector); err != nil {
			return nil, err
		}
		css = append(css, cs)
		nextTrack = cs.NextTrack
		nextSector = cs.NextSector
	}
	return css, nil
}

// ReadCatalog reads the catalog of a DOS 3.3 disk.
func ReadCatalog(img *disk.Image, caps types.SafetyCaps) (files, deleted []FileDesc, err error) {
	v, err := readVTOC(img)
	if err != nil {
		return nil, nil, err
	}
	css, err := readCatalogSectors(img, v, caps.MaxCatalogSectors)
	if err != nil {
		return nil, nil, err
	}
	for _, cs := range css {
		for _, fd := range cs.FileDescs {
			switch fd.Status() {
			case FileDescStatusUnused:
			case FileDescStatusDeleted:
				deleted = append(deleted, fd)
			case FileDescStatusNormal:
				files = append(files, fd)
			}
		}
	}
	return files, deleted, nil
}

// operator is a types.Operator: an interface for performing high-level
// operations on files and directories of a DOS 3.3 volume.
type operator struct {
	img   *disk.Image
	debug int
	caps  types.SafetyCaps
}

var _ types.Operator = operator{}

// operatorName is the keyword name for the operator that understands
// DOS 3.3 disks.
const operatorName = "dos3"

// Name returns the name of the operator.
func (o operator) Name() string { return operatorName }

// DiskOrder returns the Physical-to-Logical mapping order.
func (o operator) DiskOrder() types.DiskOrder { return types.DiskOrderDO }

// HasSubdirs returns true if the underlying operating system on the
// disk allows subdirectories.
func (o operator) HasSubdirs() bool { return false }

// Catalog returns a catalog of disk entries. subdir is ignored: DOS 3.3
// has no subdirectories.
func (o operator) Catalog(subdir string) ([]types.Descriptor, error) {
	fds, _, err := ReadCatalog(o.img, o.caps)
	if err != nil {
		return nil, err
	}
	descs := make([]types.Descriptor, 0, len(fds))
	for _, fd := range fds {
		descs = append(descs, fd.descriptor())
	}
	return descs, nil
}

// fileForFilename returns the FileDesc, its location (track/sector of
// the catalog sector holding it and its index within), or an error.
func (o operator) fileForFilename(filename string) (fd FileDesc, catTrack, catSector byte, index int, err error) {
	v, err := readVTOC(o.img)
	if err != nil {
		return FileDesc{}, 0, 0, 0, err
	}
	css, err := readCatalogSectors(o.img, v, o.caps.MaxCatalogSectors)
	if err != nil {
		return FileDesc{}, 0, 0, 0, err
	}
	for _, cs := range css {
		for i, candidate := range cs.FileDescs {
			if candidate.Status() == FileDescStatusNormal && candidate.FilenameString() == filename {
				return candidate, cs.GetTrack(), cs.GetSector(), i, nil
			}
		}
	}
	return FileDesc{}, 0, 0, 0, errors.NotFoundf("filename %q not found", filename)
}

// GetFile retrieves a file by name.
func (o operator) GetFile(filename string) (types.FileInfo, error) {
	fd, _, _, _, err := o.fileForFilename(filename)
	if err != nil {
		return types.FileInfo{}, err
	}
	desc := fd.descriptor()
	data, err := fd.Contents(o.img, o.caps.MaxTrackSectorListSectors)
	if err != nil {
		return types.FileInfo{}, err
	}

	fi := types.FileInfo{Descriptor: desc, Data: data}

	switch fd.Filetype & 0x7f {
	case FiletypeText:
		for len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
		fi.Descriptor.Length = len(data)
		fi.Data = data
		return fi, nil

	case FiletypeInteger, FiletypeApplesoft, FiletypeBinary:
		if len(data) < 2 {
			return types.FileInfo{}, errors.NoDataf("file %q too short for its type's header", filename)
		}
		if fd.Filetype&0x7f == FiletypeBinary {
			if len(data) < 4 {
				return types.FileInfo{}, errors.NoDataf("binary file %q too short for its address+length header", filename)
			}
			fi.StartAddress = uint16(data[0]) + uint16(data[1])<<8
			data = data[2:]
		}
		length := int(data[0]) + int(data[1])*256
		if length+2 > len(data) {
			return types.FileInfo{}, errors.NoDataf("file %q declares length %d but only has %d bytes", filename, length, len(data)-2)
		}
		data = data[2 : length+2]
		fi.Descriptor.Length = length
		fi.Data = data
		return fi, nil

	default:
		// A, B, S, REL and any unrecognized type: return raw content, all
		// we can say for sure.
		fi.Descriptor.Length = len(data)
		return fi, nil
	}
}

// dataSectorsForContent computes how many 256-byte data sectors and how
// many T/S-list sectors are needed to store content.
func dataSectorsForContent(content []byte) (dataSectors, tslSectors int) {
	dataSectors = (len(content) + disk.SectorSize - 1) / disk.SectorSize
	if dataSectors == 0 {
		dataSectors = 1 // DOS 3.3 allocates at least one sector, even for empty files.
	}
	tslSectors = (dataSectors + trackSectorsPerTSLSector - 1) / trackSectorsPerTSLSector
	if tslSectors == 0 {
		tslSectors = 1
	}
	return dataSectors, tslSectors
}

// encodeContent prepends the type-specific header bytes (a 2-byte
// length, plus a 2-byte load address for binary files) that DOS 3.3
// stores inline with tokenized/binary file contents. Text files and the
// rarely-used types (S, REL, A, B) are stored as-is.
func encodeContent(ftype Filetype, data []byte, startAddress uint16) []byte {
	switch ftype & 0x7f {
	case FiletypeBinary:
		out := make([]byte, 4+len(data))
		out[0] = byte(startAddress)
		out[1] = byte(startAddress >> 8)
		out[2] = byte(len(data))
		out[3] = byte(len(data) >> 8)
		copy(out[4:], data)
		return out
	case FiletypeInteger, FiletypeApplesoft:
		out := make([]byte, 2+len(data))
		out[0] = byte(len(data))
		out[1] = byte(len(data) >> 8)
		copy(out[2:], data)
		return out
	default:
		return data
	}
}

// PutFile writes a file by name. If the file exists and overwrite is
// false, it returns errors.Exists. Allocation failures midway through
// the write roll back every sector allocated by this call.
func (o operator) PutFile(fileInfo types.FileInfo, overwrite bool) (existed bool, err error) {
	filename := fileInfo.Descriptor.Name
	if _, _, _, _, err := o.fileForFilename(filename); err == nil {
		if !overwrite {
			return false, errors.Existsf("file %q already exists", filename)
		}
		existed = true
		if _, derr := o.Delete(filename); derr != nil {
			return false, derr
		}
	}

	v, err := readVTOC(o.img)
	if err != nil {
		return existed, err
	}

	ftype := filetypeFor(fileInfo.Descriptor.Type)
	if fileInfo.Descriptor.Locked {
		ftype |= FiletypeLocked
	}
	content := encodeContent(ftype, fileInfo.Data, fileInfo.StartAddress)
	dataSectorsWanted, tslSectorsWanted := dataSectorsForContent(content)
	if tslSectorsWanted > o.caps.MaxTrackSectorListSectors {
		return existed, errors.BadChainf("file %q would need %d T/S list sectors, exceeding safety cap %d", filename, tslSectorsWanted, o.caps.MaxTrackSectorListSectors)
	}

	var allocated []disk.TrackSector
	rollback := func() {
		for _, ts := range allocated {
			v.MarkSectorFree(ts.Track, ts.Sector)
		}
	}

	dataTS := make([]disk.TrackSector, 0, dataSectorsWanted)
	for i := 0; i < dataSectorsWanted; i++ {
		t, s, err := v.AllocateSector()
		if err != nil {
			rollback()
			return existed, err
		}
		allocated = append(allocated, disk.TrackSector{Track: t, Sector: s})
		dataTS = append(dataTS, disk.TrackSector{Track: t, Sector: s})
	}

	tslTS := make([]disk.TrackSector, 0, tslSectorsWanted)
	for i := 0; i < tslSectorsWanted; i++ {
		t, s, err := v.AllocateSector()
		if err != nil {
			rollback()
			return existed, err
		}
		allocated = append(allocated, disk.TrackSector{Track: t, Sector: s})
		tslTS = append(tslTS, disk.TrackSector{Track: t, Sector: s})
	}

	css, err := readCatalogSectors(o.img, v, o.caps.MaxCatalogSectors)
	if err != nil {
		rollback()
		return existed, err
	}
	slotCS := -1
	slotIndex := -1
	for i, cs := range css {
		for j, fd := range cs.FileDescs {
			if fd.Status() != FileDescStatusNormal {
				slotCS, slotIndex = i, j
				break
			}
		}
		if slotCS >= 0 {
			break
		}
	}
	if slotCS < 0 {
		rollback()
		return existed, errors.DiskFullf("no free catalog entry for file %q", filename)
	}

	// Write data sectors.
	for i, ts := range dataTS {
		start := i * disk.SectorSize
		end := start + disk.SectorSize
		var sector [disk.SectorSize]byte
		if start < len(content) {
			n := copy(sector[:], content[start:min(end, len(content))])
			_ = n
		}
		if err := o.img.WriteSector(ts.Track, ts.Sector, sector[:]); err != nil {
			rollback()
			return existed, err
		}
	}

	// Write T/S list sectors, chained, each describing up to 122 data sectors.
	for i, ts := range tslTS {
		tsl := TrackSectorList{SectorOffset: uint16(i * trackSectorsPerTSLSector)}
		if i+1 < len(tslTS) {
			tsl.NextTrack = tslTS[i+1].Track
			tsl.NextSector = tslTS[i+1].Sector
		}
		lo := i * trackSectorsPerTSLSector
		hi := lo + trackSectorsPerTSLSector
		if hi > len(dataTS) {
			hi = len(dataTS)
		}
		for j := lo; j < hi; j++ {
			tsl.TrackSectors[j-lo] = dataTS[j]
		}
		tsl.SetTrack(ts.Track)
		tsl.SetSector(ts.Sector)
		if err := disk.MarshalLogicalSector(o.img, &tsl); err != nil {
			rollback()
			return existed, err
		}
	}

	css[slotCS].FileDescs[slotIndex] = FileDesc{
		TrackSectorListTrack:  tslTS[0].Track,
		TrackSectorListSector: tslTS[0].Sector,
		Filetype:              ftype,
		Filename:              setFilenameString(filename),
		SectorCount:           uint16(dataSectorsWanted + tslSectorsWanted),
	}
	if err := disk.MarshalLogicalSector(o.img, &css[slotCS]); err != nil {
		rollback()
		return existed, err
	}
	if err := disk.MarshalLogicalSector(o.img, v); err != nil {
		rollback()
		return existed, err
	}
	xlog.WithFields(map[string]interface{}{"file": filename, "sectors": dataSectorsWanted + tslSectorsWanted}).Debug("dos3: wrote file")
	return existed, nil
}

// filetypeFor maps a types.Filetype onto the nearest DOS 3.3 Filetype.
func filetypeFor(t types.Filetype) Filetype {
	switch t {
	case types.FiletypeIntegerBASIC:
		return FiletypeInteger
	case types.FiletypeApplesoftBASIC:
		return FiletypeApplesoft
	case types.FiletypeBinary:
		return FiletypeBinary
	case types.FiletypeS:
		return FiletypeS
	case types.FiletypeRelocatable:
		return FiletypeRelocatable
	case types.FiletypeNewA:
		return FiletypeA
	case types.FiletypeNewB:
		return FiletypeB
	default:
		return FiletypeText
	}
}

// Delete deletes a file by name. It returns true if the file was
// deleted, false if it didn't exist. Locked files return
// errors.ReadOnly, never errors.NotFound.
func (o operator) Delete(filename string) (bool, error) {
	fd, catTrack, catSector, index, err := o.fileForFilename(filename)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if fd.Filetype&FiletypeLocked != 0 {
		return false, errors.ReadOnlyf("file %q is locked", filename)
	}

	v, err := readVTOC(o.img)
	if err != nil {
		return false, err
	}

	nextTrack, nextSector := fd.TrackSectorListTrack, fd.TrackSectorListSector
	seen := map[disk.TrackSector]bool{}
	for n := 0; (nextTrack != 0 || nextSector != 0) && n < o.caps.MaxTrackSectorListSectors; n++ {
		ts := disk.TrackSector{Track: nextTrack, Sector: nextSector}
		if seen[ts] {
			break
		}
		seen[ts] = true
		tsl := TrackSectorList{}
		if err := disk.UnmarshalLogicalSector(o.img, &tsl, nextTrack, nextSector); err != nil {
			return false, err
		}
		for _, dts := range tsl.TrackSectors {
			if !dts.IsZero() {
				v.MarkSectorFree(dts.Track, dts.Sector)
			}
		}
		v.MarkSectorFree(ts.Track, ts.Sector)
		nextTrack, nextSector = tsl.NextTrack, tsl.NextSector
	}

	cs := CatalogSector{}
	if err := disk.UnmarshalLogicalSector(o.img, &cs, catTrack, catSector); err != nil {
		return false, err
	}
	originalTrack := cs.FileDescs[index].TrackSectorListTrack
	cs.FileDescs[index].TrackSectorListTrack = 0xff
	cs.FileDescs[index].Filename[29] = originalTrack
	if err := disk.MarshalLogicalSector(o.img, &cs); err != nil {
		return false, err
	}
	if err := disk.MarshalLogicalSector(o.img, v); err != nil {
		return false, err
	}
	return true, nil
}

// Rename renames a file, failing with errors.Exists if the new name is
// already in use, or errors.NotFound if the old name doesn't exist.
func (o operator) Rename(oldFilename, newFilename string) error {
	if _, _, _, _, err := o.fileForFilename(newFilename); err == nil {
		return errors.Existsf("file %q already exists", newFilename)
	}
	_, catTrack, catSector, index, err := o.fileForFilename(oldFilename)
	if err != nil {
		return err
	}
	cs := CatalogSector{}
	if err := disk.UnmarshalLogicalSector(o.img, &cs, catTrack, catSector); err != nil {
		return err
	}
	cs.FileDescs[index].Filename = setFilenameString(newFilename)
	return disk.MarshalLogicalSector(o.img, &cs)
}

// Lock marks a file locked (undeletable/unwritable from the native OS's
// point of view): the high bit of the filetype byte.
func (o operator) Lock(filename string) error {
	return o.setLocked(filename, true)
}

// Unlock reverses Lock.
func (o operator) Unlock(filename string) error {
	return o.setLocked(filename, false)
}

func (o operator) setLocked(filename string, locked bool) error {
	_, catTrack, catSector, index, err := o.fileForFilename(filename)
	if err != nil {
		return err
	}
	cs := CatalogSector{}
	if err := disk.UnmarshalLogicalSector(o.img, &cs, catTrack, catSector); err != nil {
		return err
	}
	if locked {
		cs.FileDescs[index].Filetype |= FiletypeLocked
	} else {
		cs.FileDescs[index].Filetype &^= FiletypeLocked
	}
	return disk.MarshalLogicalSector(o.img, &cs)
}

// GetBytes returns the disk image bytes, in logical order.
func (o operator) GetBytes() []byte { return o.img.Bytes() }

// GetFree returns the number of free sectors on the volume.
func (o operator) GetFree() (int, error) {
	v, err := readVTOC(o.img)
	if err != nil {
		return 0, err
	}
	return v.FreeSectorCount(), nil
}

// VolumeName returns the DOS 3.3 volume number as a string, since DOS
// 3.3 has no free-text volume label.
func (o operator) VolumeName() string {
	v, err := readVTOC(o.img)
	if err != nil {
		return ""
	}
	return "VOLUME " + strconv.Itoa(int(v.Volume))
}

// OperatorFactory is a types.OperatorFactory for DOS 3.3 disks.
type OperatorFactory struct{}

// Name returns the name of the operator.
func (of OperatorFactory) Name() string { return operatorName }

// DiskOrder returns the Physical-to-Logical mapping order.
func (of OperatorFactory) DiskOrder() types.DiskOrder { return types.DiskOrderDO }

// SeemsToMatch returns true if the []byte disk image seems to match a
// DOS 3.3 volume.
func (of OperatorFactory) SeemsToMatch(diskbytes []byte, debug int) bool {
	sectors := disk.FloppySectors
	if len(diskbytes) == disk.FloppyDiskBytes13Sector {
		sectors = disk.FloppySectors13
	}
	img, err := disk.NewImage(diskbytes, disk.FloppyTracks, sectors, disk.OrderPhysical, false)
	if err != nil {
		return false
	}
	_, _, err = ReadCatalog(img, types.DefaultSafetyCaps())
	return err == nil
}

// Operator returns an Operator for the []byte disk image.
func (of OperatorFactory) Operator(diskbytes []byte, debug int) (types.Operator, error) {
	sectors := disk.FloppySectors
	if len(diskbytes) == disk.FloppyDiskBytes13Sector {
		sectors = disk.FloppySectors13
	}
	img, err := disk.NewImage(diskbytes, disk.FloppyTracks, sectors, disk.OrderPhysical, true)
	if err != nil {
		return nil, err
	}
	return operator{img: img, debug: debug, caps: types.DefaultSafetyCaps()}, nil
}
