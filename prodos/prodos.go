// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// Package prodos contains routines for working with the on-device
// structures of Apple ProDOS: the volume bitmap, the volume/subdirectory
// block chains, and a types.Operator implementation that can read,
// write, delete, rename, lock/unlock and create subdirectories.
package prodos

import (
	"encoding/binary"
	"strings"

	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/errors"
	"github.com/zellyn/uft/internal/xlog"
	"github.com/zellyn/uft/types"
)

// Storage types, the top nibble of a FileDescriptor's TypeAndNameLength.
const (
	TypeDeleted               = 0
	TypeSeedling              = 0x1
	TypeSapling               = 0x2
	TypeTree                  = 0x3
	TypePascalArea            = 0x4
	TypeSubdirectory          = 0xD
	TypeSubdirectoryHeader    = 0xE
	TypeVolumeDirectoryHeader = 0xF
)

const (
	volumeDirectoryKeyBlock = 2
	entriesPerKeyBlock      = 12
	entriesPerNonKeyBlock   = 13
	entryLength             = 0x27
	seedlingMaxBytes        = disk.BlockSize
	saplingMaxBytes         = 256 * disk.BlockSize
)

// blockBase represents the block index a marshaled block-sized struct
// was loaded from or should be written to.
type blockBase struct {
	block uint16
}

// GetBlock gets the block index from a blockBase.
func (bb *blockBase) GetBlock() uint16 { return bb.block }

// SetBlock sets the block index of a blockBase.
func (bb *blockBase) SetBlock(block uint16) { bb.block = block }

// A bitmapPart is a single block of a VolumeBitMap.
type bitmapPart struct {
	blockBase
	data disk.Block
}

var _ disk.BlockSource = (*bitmapPart)(nil)
var _ disk.BlockSink = (*bitmapPart)(nil)

// FromBlock unmarshals a bitmapPart from a Block.
func (bp *bitmapPart) FromBlock(block disk.Block) error {
	bp.data = block
	return nil
}

// ToBlock marshals a bitmapPart struct to a block.
func (bp bitmapPart) ToBlock() (disk.Block, error) {
	return bp.data, nil
}

// VolumeBitMap is the in-memory form of a ProDOS volume bitmap: one bit
// per block, bit=1 meaning free.
type VolumeBitMap []bitmapPart

// NewVolumeBitMap allocates a VolumeBitMap of the right size for blocks
// total blocks, starting at startBlock, with every block initially free.
func NewVolumeBitMap(startBlock uint16, blocks uint16) VolumeBitMap {
	vbm := VolumeBitMap(make([]bitmapPart, (blocks+(512*8)-1)/(512*8)))
	for i := range vbm {
		vbm[i].SetBlock(startBlock + uint16(i))
	}
	for b := 0; b < int(blocks); b++ {
		vbm.MarkUnused(uint16(b))
	}
	return vbm
}

// MarkUsed clears the free bit for block.
func (vbm VolumeBitMap) MarkUsed(block uint16) { vbm.mark(block, false) }

// MarkUnused sets the free bit for block.
func (vbm VolumeBitMap) MarkUnused(block uint16) { vbm.mark(block, true) }

func (vbm VolumeBitMap) mark(block uint16, set bool) {
	byteIndex := block >> 3
	blockIndex := byteIndex / 512
	blockByteIndex := byteIndex % 512
	bit := byte(1 << (7 - (block & 7)))
	if set {
		vbm[blockIndex].data[blockByteIndex] |= bit
	} else {
		vbm[blockIndex].data[blockByteIndex] &^= bit
	}
}

// IsFree returns true if the given block on the device is free,
// according to the VolumeBitMap.
func (vbm VolumeBitMap) IsFree(block uint16) bool {
	byteIndex := block >> 3
	blockIndex := byteIndex / 512
	blockByteIndex := byteIndex % 512
	bit := byte(1 << (7 - (block & 7)))
	return vbm[blockIndex].data[blockByteIndex]&bit > 0
}

// Allocate finds and claims the first free block at or after
// searchStart, wrapping around once. Returns errors.DiskFull if no
// block is free.
func (vbm VolumeBitMap) Allocate(totalBlocks uint16, searchStart uint16) (uint16, error) {
	for i := uint16(0); i < totalBlocks; i++ {
		block := (searchStart + i) % totalBlocks
		if vbm.IsFree(block) {
			vbm.MarkUsed(block)
			return block, nil
		}
	}
	return 0, errors.DiskFullf("no free blocks remain")
}

// FreeBlockCount returns the number of blocks marked free, out of
// totalBlocks.
func (vbm VolumeBitMap) FreeBlockCount(totalBlocks uint16) int {
	n := 0
	for b := uint16(0); b < totalBlocks; b++ {
		if vbm.IsFree(b) {
			n++
		}
	}
	return n
}

// readVolumeBitMap reads the entire volume bitmap from a device image.
func readVolumeBitMap(img *disk.Image, startBlock uint16, totalBlocks uint16) (VolumeBitMap, error) {
	vbm := NewVolumeBitMap(startBlock, totalBlocks)
	for i := 0; i < len(vbm); i++ {
		if err := disk.UnmarshalBlock(img, &vbm[i], vbm[i].GetBlock()); err != nil {
			return nil, errors.Wrap(err, "reading volume bit map")
		}
	}
	return vbm, nil
}

// Write writes the Volume Bit Map back to the device image.
func (vbm VolumeBitMap) Write(img *disk.Image) error {
	for i := range vbm {
		if err := disk.MarshalBlock(img, &vbm[i]); err != nil {
			return errors.Wrap(err, "writing volume bit map")
		}
	}
	return nil
}

// DateTime represents the 4-byte ProDOS y/m/d h/m timestamp.
type DateTime struct {
	YMD [2]byte
	HM  [2]byte
}

func (dt DateTime) toBytes() []byte {
	return []byte{dt.YMD[0], dt.YMD[1], dt.HM[0], dt.HM[1]}
}

func (dt *DateTime) fromBytes(b []byte) {
	if len(b) != 4 {
		panic(errors.BufferTooSmallf("DateTime expects 4 bytes; got %d", len(b)))
	}
	dt.YMD[0], dt.YMD[1], dt.HM[0], dt.HM[1] = b[0], b[1], b[2], b[3]
}

// Validate checks a DateTime for problems.
func (dt DateTime) Validate(fieldDescription string) (errs []error) {
	if dt.HM[0] >= 24 {
		errs = append(errs, errors.BadTypef("%s expects hour<24; got %d", fieldDescription, dt.HM[0]))
	}
	if dt.HM[1] >= 60 {
		errs = append(errs, errors.BadTypef("%s expects minute<60; got %x", fieldDescription, dt.HM[1]))
	}
	return errs
}

// VolumeDirectoryKeyBlock is the struct used to hold the ProDOS Volume
// Directory Key Block structure. See page 4-4 of Beneath Apple ProDOS.
type VolumeDirectoryKeyBlock struct {
	blockBase
	Prev        uint16
	Next        uint16
	Header      VolumeDirectoryHeader
	Descriptors [entriesPerKeyBlock]FileDescriptor
	Extra       byte
}

var _ disk.BlockSource = (*VolumeDirectoryKeyBlock)(nil)
var _ disk.BlockSink = (*VolumeDirectoryKeyBlock)(nil)

// ToBlock marshals the VolumeDirectoryKeyBlock to a Block of bytes.
func (vdkb VolumeDirectoryKeyBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], vdkb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], vdkb.Next)
	copyBytes(block[0x04:0x2b], vdkb.Header.toBytes())
	for i, desc := range vdkb.Descriptors {
		copyBytes(block[0x2b+i*entryLength:0x2b+(i+1)*entryLength], desc.toBytes())
	}
	block[511] = vdkb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a VolumeDirectoryKeyBlock.
func (vdkb *VolumeDirectoryKeyBlock) FromBlock(block disk.Block) error {
	vdkb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	vdkb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	vdkb.Header.fromBytes(block[0x04:0x2b])
	for i := range vdkb.Descriptors {
		vdkb.Descriptors[i].fromBytes(block[0x2b+i*entryLength : 0x2b+(i+1)*entryLength])
	}
	vdkb.Extra = block[511]
	return nil
}

// Validate validates a VolumeDirectoryKeyBlock for valid values.
func (vdkb VolumeDirectoryKeyBlock) Validate() (errs []error) {
	if vdkb.Prev != 0 {
		errs = append(errs, errors.BadTypef("volume directory key block should have a previous block of 0, got $%04x", vdkb.Prev))
	}
	errs = append(errs, vdkb.Header.Validate()...)
	for _, desc := range vdkb.Descriptors {
		errs = append(errs, desc.Validate()...)
	}
	if vdkb.Extra != 0 {
		errs = append(errs, errors.BadTypef("expected last byte of volume directory key block == 0x0; got 0x%02x", vdkb.Extra))
	}
	return errs
}

// VolumeDirectoryBlock is a normal (non-key) segment in the Volume
// Directory.
type VolumeDirectoryBlock struct {
	blockBase
	Prev        uint16
	Next        uint16
	Descriptors [entriesPerNonKeyBlock]FileDescriptor
	Extra       byte
}

var _ disk.BlockSource = (*VolumeDirectoryBlock)(nil)
var _ disk.BlockSink = (*VolumeDirectoryBlock)(nil)

// ToBlock marshals a VolumeDirectoryBlock to a Block of bytes.
func (vdb VolumeDirectoryBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], vdb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], vdb.Next)
	for i, desc := range vdb.Descriptors {
		copyBytes(block[0x04+i*entryLength:0x04+(i+1)*entryLength], desc.toBytes())
	}
	block[511] = vdb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a VolumeDirectoryBlock.
func (vdb *VolumeDirectoryBlock) FromBlock(block disk.Block) error {
	vdb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	vdb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	for i := range vdb.Descriptors {
		vdb.Descriptors[i].fromBytes(block[0x4+i*entryLength : 0x4+(i+1)*entryLength])
	}
	vdb.Extra = block[511]
	return nil
}

// Validate validates a VolumeDirectoryBlock for valid values.
func (vdb VolumeDirectoryBlock) Validate() (errs []error) {
	for _, desc := range vdb.Descriptors {
		errs = append(errs, desc.Validate()...)
	}
	if vdb.Extra != 0 {
		errs = append(errs, errors.BadTypef("expected last byte of volume directory block == 0x0; got 0x%02x", vdb.Extra))
	}
	return errs
}

// VolumeDirectoryHeader is the fixed-layout header at the start of the
// volume directory key block.
type VolumeDirectoryHeader struct {
	TypeAndNameLength byte
	VolumeName        [15]byte
	Unused1           [8]byte
	Creation          DateTime
	Version           byte
	MinVersion        byte
	Access            Access
	EntryLength       byte
	EntriesPerBlock   byte
	FileCount         uint16
	BitMapPointer     uint16
	TotalBlocks       uint16
}

// Name returns the string volume name.
func (vdh VolumeDirectoryHeader) Name() string {
	return string(vdh.VolumeName[0 : vdh.TypeAndNameLength&0xf])
}

func (vdh VolumeDirectoryHeader) toBytes() []byte {
	buf := make([]byte, entryLength)
	buf[0] = vdh.TypeAndNameLength
	copyBytes(buf[1:0x10], vdh.VolumeName[:])
	copyBytes(buf[0x10:0x18], vdh.Unused1[:])
	copyBytes(buf[0x18:0x1c], vdh.Creation.toBytes())
	buf[0x1c] = vdh.Version
	buf[0x1d] = vdh.MinVersion
	buf[0x1e] = byte(vdh.Access)
	buf[0x1f] = vdh.EntryLength
	buf[0x20] = vdh.EntriesPerBlock
	binary.LittleEndian.PutUint16(buf[0x21:0x23], vdh.FileCount)
	binary.LittleEndian.PutUint16(buf[0x23:0x25], vdh.BitMapPointer)
	binary.LittleEndian.PutUint16(buf[0x25:0x27], vdh.TotalBlocks)
	return buf
}

func (vdh *VolumeDirectoryHeader) fromBytes(buf []byte) {
	if len(buf) != entryLength {
		panic(errors.BufferTooSmallf("VolumeDirectoryHeader should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	vdh.TypeAndNameLength = buf[0]
	copyBytes(vdh.VolumeName[:], buf[1:0x10])
	copyBytes(vdh.Unused1[:], buf[0x10:0x18])
	vdh.Creation.fromBytes(buf[0x18:0x1c])
	vdh.Version = buf[0x1c]
	vdh.MinVersion = buf[0x1d]
	vdh.Access = Access(buf[0x1e])
	vdh.EntryLength = buf[0x1f]
	vdh.EntriesPerBlock = buf[0x20]
	vdh.FileCount = binary.LittleEndian.Uint16(buf[0x21:0x23])
	vdh.BitMapPointer = binary.LittleEndian.Uint16(buf[0x23:0x25])
	vdh.TotalBlocks = binary.LittleEndian.Uint16(buf[0x25:0x27])
}

// Validate validates a VolumeDirectoryHeader for valid values.
func (vdh VolumeDirectoryHeader) Validate() (errs []error) {
	return vdh.Creation.Validate("creation date/time of VolumeDirectoryHeader")
}

// Access is the ProDOS file access-permission byte.
type Access byte

const (
	AccessReadable           Access = 0x01
	AccessWritable           Access = 0x02
	AccessChangedSinceBackup Access = 0x20
	AccessRenamable          Access = 0x40
	AccessDestroyable        Access = 0x80

	// AccessDefault is set on newly created files: readable, writable,
	// renamable and destroyable, but not yet backed up.
	AccessDefault = AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable
)

// FileDescriptor is the entry in a directory for a file or subdirectory.
type FileDescriptor struct {
	TypeAndNameLength byte
	FileName          [15]byte
	FileType          byte
	KeyPointer        uint16
	BlocksUsed        uint16
	EOF               [3]byte
	Creation          DateTime
	Version           byte
	MinVersion        byte
	Access            Access
	AuxType           uint16
	LastMod           DateTime
	HeaderPointer     uint16
}

// descriptor returns a types.Descriptor for a FileDescriptor.
func (fd FileDescriptor) descriptor() types.Descriptor {
	return types.Descriptor{
		Name:   fd.Name(),
		Blocks: int(fd.BlocksUsed),
		Length: int(fd.EOF[0]) + int(fd.EOF[1])<<8 + int(fd.EOF[2])<<16,
		Locked: fd.Access&AccessWritable == 0,
		Type:   types.Filetype(fd.FileType),
	}
}

// Name returns the string filename of a file descriptor.
func (fd FileDescriptor) Name() string {
	return string(fd.FileName[0 : fd.TypeAndNameLength&0xf])
}

// Type returns the storage type nibble of a file descriptor.
func (fd FileDescriptor) Type() byte { return fd.TypeAndNameLength >> 4 }

// setNameAndType packs a name (<=15 chars) and storage type into
// TypeAndNameLength and FileName.
func (fd *FileDescriptor) setNameAndType(storageType byte, name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	fd.TypeAndNameLength = storageType<<4 | byte(len(name))
	var nameBytes [15]byte
	copy(nameBytes[:], name)
	fd.FileName = nameBytes
}

func (fd FileDescriptor) toBytes() []byte {
	buf := make([]byte, entryLength)
	buf[0] = fd.TypeAndNameLength
	copyBytes(buf[1:0x10], fd.FileName[:])
	buf[0x10] = fd.FileType
	binary.LittleEndian.PutUint16(buf[0x11:0x13], fd.KeyPointer)
	binary.LittleEndian.PutUint16(buf[0x13:0x15], fd.BlocksUsed)
	copyBytes(buf[0x15:0x18], fd.EOF[:])
	copyBytes(buf[0x18:0x1c], fd.Creation.toBytes())
	buf[0x1c] = fd.Version
	buf[0x1d] = fd.MinVersion
	buf[0x1e] = byte(fd.Access)
	binary.LittleEndian.PutUint16(buf[0x1f:0x21], fd.AuxType)
	copyBytes(buf[0x21:0x25], fd.LastMod.toBytes())
	binary.LittleEndian.PutUint16(buf[0x25:0x27], fd.HeaderPointer)
	return buf
}

func (fd *FileDescriptor) fromBytes(buf []byte) {
	if len(buf) != entryLength {
		panic(errors.BufferTooSmallf("FileDescriptor should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	fd.TypeAndNameLength = buf[0]
	copyBytes(fd.FileName[:], buf[1:0x10])
	fd.FileType = buf[0x10]
	fd.KeyPointer = binary.LittleEndian.Uint16(buf[0x11:0x13])
	fd.BlocksUsed = binary.LittleEndian.Uint16(buf[0x13:0x15])
	copyBytes(fd.EOF[:], buf[0x15:0x18])
	fd.Creation.fromBytes(buf[0x18:0x1c])
	fd.Version = buf[0x1c]
	fd.MinVersion = buf[0x1d]
	fd.Access = Access(buf[0x1e])
	fd.AuxType = binary.LittleEndian.Uint16(buf[0x1f:0x21])
	fd.LastMod.fromBytes(buf[0x21:0x25])
	fd.HeaderPointer = binary.LittleEndian.Uint16(buf[0x25:0x27])
}

// Validate validates a FileDescriptor for valid values.
func (fd FileDescriptor) Validate() (errs []error) {
	errs = append(errs, fd.Creation.Validate("creation date/time of FileDescriptor "+fd.Name())...)
	errs = append(errs, fd.LastMod.Validate("last modification date/time of FileDescriptor "+fd.Name())...)
	return errs
}

// IndexBlock contains 256 16-bit block numbers, pointing to other
// blocks. The LSBs are stored in the first half, MSBs in the second.
type IndexBlock disk.Block

// Get returns the blockNum'th block number from an index block.
func (i IndexBlock) Get(blockNum byte) uint16 {
	return uint16(i[blockNum]) + uint16(i[256+int(blockNum)])<<8
}

// Set sets the blockNum'th block number in an index block.
func (i *IndexBlock) Set(blockNum byte, block uint16) {
	i[blockNum] = byte(block)
	i[256+int(blockNum)] = byte(block >> 8)
}

// SubdirectoryKeyBlock is the struct used to hold the first block of a
// subdirectory.
type SubdirectoryKeyBlock struct {
	blockBase
	Prev        uint16
	Next        uint16
	Header      SubdirectoryHeader
	Descriptors [entriesPerKeyBlock]FileDescriptor
	Extra       byte
}

var _ disk.BlockSource = (*SubdirectoryKeyBlock)(nil)
var _ disk.BlockSink = (*SubdirectoryKeyBlock)(nil)

// ToBlock marshals the SubdirectoryKeyBlock to a Block of bytes.
func (skb SubdirectoryKeyBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], skb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], skb.Next)
	copyBytes(block[0x04:0x2b], skb.Header.toBytes())
	for i, desc := range skb.Descriptors {
		copyBytes(block[0x2b+i*entryLength:0x2b+(i+1)*entryLength], desc.toBytes())
	}
	block[511] = skb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a SubdirectoryKeyBlock.
func (skb *SubdirectoryKeyBlock) FromBlock(block disk.Block) error {
	skb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	skb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	skb.Header.fromBytes(block[0x04:0x2b])
	for i := range skb.Descriptors {
		skb.Descriptors[i].fromBytes(block[0x2b+i*entryLength : 0x2b+(i+1)*entryLength])
	}
	skb.Extra = block[511]
	return nil
}

// Validate validates a SubdirectoryKeyBlock for valid values.
func (skb SubdirectoryKeyBlock) Validate() (errs []error) {
	if skb.Prev != 0 {
		errs = append(errs, errors.BadTypef("subdirectory key block should have a previous block of 0, got $%04x", skb.Prev))
	}
	errs = append(errs, skb.Header.Validate()...)
	for _, desc := range skb.Descriptors {
		errs = append(errs, desc.Validate()...)
	}
	if skb.Extra != 0 {
		errs = append(errs, errors.BadTypef("expected last byte of subdirectory key block == 0x0; got 0x%02x", skb.Extra))
	}
	return errs
}

// SubdirectoryBlock is a normal (non-key) segment in a subdirectory.
type SubdirectoryBlock struct {
	blockBase
	Prev        uint16
	Next        uint16
	Descriptors [entriesPerNonKeyBlock]FileDescriptor
	Extra       byte
}

var _ disk.BlockSource = (*SubdirectoryBlock)(nil)
var _ disk.BlockSink = (*SubdirectoryBlock)(nil)

// ToBlock marshals a SubdirectoryBlock to a Block of bytes.
func (sb SubdirectoryBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], sb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], sb.Next)
	for i, desc := range sb.Descriptors {
		copyBytes(block[0x04+i*entryLength:0x04+(i+1)*entryLength], desc.toBytes())
	}
	block[511] = sb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a SubdirectoryBlock.
func (sb *SubdirectoryBlock) FromBlock(block disk.Block) error {
	sb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	sb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	for i := range sb.Descriptors {
		sb.Descriptors[i].fromBytes(block[0x4+i*entryLength : 0x4+(i+1)*entryLength])
	}
	sb.Extra = block[511]
	return nil
}

// Validate validates a SubdirectoryBlock for valid values.
func (sb SubdirectoryBlock) Validate() (errs []error) {
	for _, desc := range sb.Descriptors {
		errs = append(errs, desc.Validate()...)
	}
	if sb.Extra != 0 {
		errs = append(errs, errors.BadTypef("expected last byte of subdirectory block == 0x0; got 0x%02x", sb.Extra))
	}
	return errs
}

// SubdirectoryHeader is the fixed-layout header at the start of a
// subdirectory key block.
type SubdirectoryHeader struct {
	TypeAndNameLength byte
	SubdirectoryName  [15]byte
	SeventyFive       byte // Must contain $75
	Unused1           [7]byte
	Creation          DateTime
	Version           byte
	MinVersion        byte
	Access            Access
	EntryLength       byte
	EntriesPerBlock   byte
	FileCount         uint16
	ParentPointer     uint16
	ParentEntry       byte
	ParentEntryLength byte
}

func (sh SubdirectoryHeader) toBytes() []byte {
	buf := make([]byte, entryLength)
	buf[0] = sh.TypeAndNameLength
	copyBytes(buf[1:0x10], sh.SubdirectoryName[:])
	buf[0x10] = sh.SeventyFive
	copyBytes(buf[0x11:0x18], sh.Unused1[:])
	copyBytes(buf[0x18:0x1c], sh.Creation.toBytes())
	buf[0x1c] = sh.Version
	buf[0x1d] = sh.MinVersion
	buf[0x1e] = byte(sh.Access)
	buf[0x1f] = sh.EntryLength
	buf[0x20] = sh.EntriesPerBlock
	binary.LittleEndian.PutUint16(buf[0x21:0x23], sh.FileCount)
	binary.LittleEndian.PutUint16(buf[0x23:0x25], sh.ParentPointer)
	buf[0x25] = sh.ParentEntry
	buf[0x26] = sh.ParentEntryLength
	return buf
}

func (sh *SubdirectoryHeader) fromBytes(buf []byte) {
	if len(buf) != entryLength {
		panic(errors.BufferTooSmallf("SubdirectoryHeader should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	sh.TypeAndNameLength = buf[0]
	copyBytes(sh.SubdirectoryName[:], buf[1:0x10])
	sh.SeventyFive = buf[0x10]
	copyBytes(sh.Unused1[:], buf[0x11:0x18])
	sh.Creation.fromBytes(buf[0x18:0x1c])
	sh.Version = buf[0x1c]
	sh.MinVersion = buf[0x1d]
	sh.Access = Access(buf[0x1e])
	sh.EntryLength = buf[0x1f]
	sh.EntriesPerBlock = buf[0x20]
	sh.FileCount = binary.LittleEndian.Uint16(buf[0x21:0x23])
	sh.ParentPointer = binary.LittleEndian.Uint16(buf[0x23:0x25])
	sh.ParentEntry = buf[0x25]
	sh.ParentEntryLength = buf[0x26]
}

// Validate validates a SubdirectoryHeader for valid values.
func (sh SubdirectoryHeader) Validate() (errs []error) {
	if sh.SeventyFive != 0x75 {
		errs = append(errs, errors.BadTypef("byte after subdirectory name %q should be 0x75; got 0x%02x", sh.Name(), sh.SeventyFive))
	}
	errs = append(errs, sh.Creation.Validate("subdirectory "+sh.Name()+" header creation date/time")...)
	return errs
}

// Name returns the string filename of a subdirectory header.
func (sh SubdirectoryHeader) Name() string {
	return string(sh.SubdirectoryName[0 : sh.TypeAndNameLength&0xf])
}

// Volume is the in-memory representation of a device's volume
// directory.
type Volume struct {
	keyBlock          *VolumeDirectoryKeyBlock
	blocks            []*VolumeDirectoryBlock
	bitmap            VolumeBitMap
	subdirsByBlock    map[uint16]*Subdirectory
	subdirsByName     map[string]*Subdirectory
	firstSubdirBlocks map[uint16]uint16
}

// Name returns the volume's name.
func (v Volume) Name() string { return v.keyBlock.Header.Name() }

// Subdirectory is the in-memory representation of a single
// subdirectory's directory block chain.
type Subdirectory struct {
	keyBlock *SubdirectoryKeyBlock
	blocks   []*SubdirectoryBlock
}

// descriptors returns a slice of all top-level file descriptors in a
// volume, deleted or not.
func (v Volume) descriptors() []FileDescriptor {
	var descs []FileDescriptor
	descs = append(descs, v.keyBlock.Descriptors[:]...)
	for _, block := range v.blocks {
		descs = append(descs, block.Descriptors[:]...)
	}
	return descs
}

func (v Volume) subdirDescriptors() []FileDescriptor {
	var descs []FileDescriptor
	for _, desc := range v.descriptors() {
		if desc.Type() == TypeSubdirectory {
			descs = append(descs, desc)
		}
	}
	return descs
}

// readVolume reads the entire volume directory and subdirectories from
// an image into memory. maxBlocks bounds the directory chain length
// (spec safety cap).
func readVolume(img *disk.Image, maxBlocks int) (Volume, error) {
	v := Volume{
		keyBlock:          &VolumeDirectoryKeyBlock{},
		subdirsByBlock:    make(map[uint16]*Subdirectory),
		subdirsByName:     make(map[string]*Subdirectory),
		firstSubdirBlocks: make(map[uint16]uint16),
	}

	if err := disk.UnmarshalBlock(img, v.keyBlock, volumeDirectoryKeyBlock); err != nil {
		return v, errors.Wrap(err, "reading volume directory key block")
	}

	v.bitmap = make([]bitmapPart, 0)
	vbm, err := readVolumeBitMap(img, v.keyBlock.Header.BitMapPointer, v.keyBlock.Header.TotalBlocks)
	if err != nil {
		return v, err
	}
	v.bitmap = vbm

	seen := map[uint16]bool{volumeDirectoryKeyBlock: true}
	for block := v.keyBlock.Next; block != 0; {
		if len(v.blocks) >= maxBlocks {
			return v, errors.BadChainf("volume directory chain exceeds safety cap of %d blocks", maxBlocks)
		}
		if seen[block] {
			return v, errors.BadChainf("volume directory chain revisits block %d", block)
		}
		seen[block] = true
		vdb := VolumeDirectoryBlock{}
		if err := disk.UnmarshalBlock(img, &vdb, block); err != nil {
			return v, err
		}
		v.blocks = append(v.blocks, &vdb)
		v.firstSubdirBlocks[block] = volumeDirectoryKeyBlock
		block = vdb.Next
	}

	sdds := v.subdirDescriptors()
	for i := 0; i < len(sdds); i++ {
		sdd := sdds[i]
		sub, err := readSubdirectory(img, sdd, maxBlocks)
		if err != nil {
			return v, err
		}
		v.subdirsByBlock[sdd.KeyPointer] = &sub
		sdds = append(sdds, sub.subdirDescriptors()...)
		for _, block := range sub.blocks {
			v.firstSubdirBlocks[block.block] = sdd.KeyPointer
		}
	}

	for _, sd := range v.subdirsByBlock {
		name := sd.keyBlock.Header.Name()
		parentName, err := parentDirName(sd.keyBlock.Header.ParentPointer, volumeDirectoryKeyBlock, v.subdirsByBlock, v.firstSubdirBlocks)
		if err != nil {
			return v, err
		}
		if parentName != "" {
			name = parentName + "/" + name
		}
		v.subdirsByName[name] = sd
	}
	return v, nil
}

func (s Subdirectory) descriptors() []FileDescriptor {
	var descs []FileDescriptor
	descs = append(descs, s.keyBlock.Descriptors[:]...)
	for _, block := range s.blocks {
		descs = append(descs, block.Descriptors[:]...)
	}
	return descs
}

func (s Subdirectory) subdirDescriptors() []FileDescriptor {
	var descs []FileDescriptor
	for _, desc := range s.descriptors() {
		if desc.Type() == TypeSubdirectory {
			descs = append(descs, desc)
		}
	}
	return descs
}

// parentDirName returns the full recursive directory name of the given
// parent directory.
func parentDirName(parentDirectoryBlock uint16, keyBlock uint16, subdirMap map[uint16]*Subdirectory, firstSubdirBlockMap map[uint16]uint16) (string, error) {
	if parentDirectoryBlock == keyBlock || firstSubdirBlockMap[parentDirectoryBlock] == keyBlock {
		return "", nil
	}
	sd := subdirMap[parentDirectoryBlock]
	if sd == nil {
		if parentFirstBlock, ok := firstSubdirBlockMap[parentDirectoryBlock]; ok {
			sd = subdirMap[parentFirstBlock]
		}
	}
	if sd == nil {
		return "", errors.BadChainf("unable to find subdirectory for block %d", parentDirectoryBlock)
	}
	parentName, err := parentDirName(sd.keyBlock.Header.ParentPointer, keyBlock, subdirMap, firstSubdirBlockMap)
	if err != nil {
		return "", err
	}
	if parentName == "" {
		return sd.keyBlock.Header.Name(), nil
	}
	return parentName + "/" + sd.keyBlock.Header.Name(), nil
}

// readSubdirectory reads a single subdirectory from a device into
// memory.
func readSubdirectory(img *disk.Image, fd FileDescriptor, maxBlocks int) (Subdirectory, error) {
	s := Subdirectory{keyBlock: &SubdirectoryKeyBlock{}}
	if err := disk.UnmarshalBlock(img, s.keyBlock, fd.KeyPointer); err != nil {
		return s, errors.Wrap(err, "reading subdirectory "+fd.Name()+" key block")
	}
	seen := map[uint16]bool{fd.KeyPointer: true}
	for block := s.keyBlock.Next; block != 0; {
		if len(s.blocks) >= maxBlocks {
			return s, errors.BadChainf("subdirectory %q chain exceeds safety cap of %d blocks", fd.Name(), maxBlocks)
		}
		if seen[block] {
			return s, errors.BadChainf("subdirectory %q chain revisits block %d", fd.Name(), block)
		}
		seen[block] = true
		sdb := SubdirectoryBlock{}
		if err := disk.UnmarshalBlock(img, &sdb, block); err != nil {
			return s, err
		}
		s.blocks = append(s.blocks, &sdb)
		block = sdb.Next
	}
	return s, nil
}

// copyBytes is just like the builtin copy, but for byte slices only, and
// it panics if dst and src have differing lengths.
func copyBytes(dst, src []byte) int {
	if len(dst) != len(src) {
		panic(errors.InvalidArgumentf("copyBytes called with differing lengths %d and %d", len(dst), len(src)))
	}
	return copy(dst, src)
}

// directoryEntryLocation identifies a single file descriptor's position
// among a directory's blocks, and which directory it belongs to: the
// volume root (subdir == nil) or a subdirectory.
type directoryEntryLocation struct {
	subdir      *Subdirectory
	keyBlock    bool
	blockNumber uint16 // block holding the entry (ignored if keyBlock)
	index       int
}

// splitDirName divides a "/"-joined path into its directory portion
// (empty for the volume root) and final filename component, matching
// the keys of Volume.subdirsByName.
func splitDirName(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// operator is a types.Operator: an interface for performing high-level
// operations on files and directories of a ProDOS volume.
type operator struct {
	img   *disk.Image
	debug int
	caps  types.SafetyCaps
}

var _ types.Operator = operator{}
var _ types.DirectoryMaker = operator{}

// operatorName is the keyword name for the operator that understands
// ProDOS disks/devices.
const operatorName = "prodos"

// Name returns the name of the operator.
func (o operator) Name() string { return operatorName }

// DiskOrder returns the Physical-to-Logical mapping order.
func (o operator) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

// HasSubdirs returns true if the underlying operating system on the
// disk allows subdirectories.
func (o operator) HasSubdirs() bool { return true }

// Catalog returns a catalog of disk entries. subdir should be empty for
// the root directory, or a "/"-joined path for a subdirectory.
func (o operator) Catalog(subdir string) ([]types.Descriptor, error) {
	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "reading volume")
	}

	var result []types.Descriptor
	descs := vol.descriptors()
	if subdir != "" {
		sd, ok := vol.subdirsByName[subdir]
		if !ok {
			return nil, errors.NotFoundf("subdirectory %q not found", subdir)
		}
		descs = sd.descriptors()
	}
	for _, desc := range descs {
		if desc.Type() != TypeDeleted {
			result = append(result, desc.descriptor())
		}
	}
	return result, nil
}

// fileForFilename finds a file descriptor by path along with its
// storage location, so callers can rewrite it in place. path's
// directory portion, if any, is resolved through the subdirectory
// chain the same way Catalog resolves its subdir argument.
func (o operator) fileForFilename(path string) (FileDescriptor, Volume, directoryEntryLocation, error) {
	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return FileDescriptor{}, vol, directoryEntryLocation{}, err
	}
	dir, filename := splitDirName(path)
	if dir == "" {
		for i, fd := range vol.keyBlock.Descriptors {
			if fd.Type() != TypeDeleted && fd.Name() == filename {
				return fd, vol, directoryEntryLocation{keyBlock: true, index: i}, nil
			}
		}
		for _, block := range vol.blocks {
			for i, fd := range block.Descriptors {
				if fd.Type() != TypeDeleted && fd.Name() == filename {
					return fd, vol, directoryEntryLocation{blockNumber: block.block, index: i}, nil
				}
			}
		}
		return FileDescriptor{}, vol, directoryEntryLocation{}, errors.NotFoundf("filename %q not found", path)
	}

	sd, ok := vol.subdirsByName[dir]
	if !ok {
		return FileDescriptor{}, vol, directoryEntryLocation{}, errors.NotFoundf("subdirectory %q not found", dir)
	}
	for i, fd := range sd.keyBlock.Descriptors {
		if fd.Type() != TypeDeleted && fd.Name() == filename {
			return fd, vol, directoryEntryLocation{subdir: sd, keyBlock: true, index: i}, nil
		}
	}
	for _, block := range sd.blocks {
		for i, fd := range block.Descriptors {
			if fd.Type() != TypeDeleted && fd.Name() == filename {
				return fd, vol, directoryEntryLocation{subdir: sd, blockNumber: block.block, index: i}, nil
			}
		}
	}
	return FileDescriptor{}, vol, directoryEntryLocation{}, errors.NotFoundf("filename %q not found", path)
}

func (o operator) writeDescriptorAt(loc directoryEntryLocation, fd FileDescriptor, vol Volume) error {
	if loc.subdir != nil {
		sd := loc.subdir
		if loc.keyBlock {
			sd.keyBlock.Descriptors[loc.index] = fd
			return disk.MarshalBlock(o.img, sd.keyBlock)
		}
		for _, block := range sd.blocks {
			if block.block == loc.blockNumber {
				block.Descriptors[loc.index] = fd
				return disk.MarshalBlock(o.img, block)
			}
		}
		return errors.NotFoundf("subdirectory block %d not found while rewriting entry", loc.blockNumber)
	}
	if loc.keyBlock {
		vol.keyBlock.Descriptors[loc.index] = fd
		return disk.MarshalBlock(o.img, vol.keyBlock)
	}
	for _, block := range vol.blocks {
		if block.block == loc.blockNumber {
			block.Descriptors[loc.index] = fd
			return disk.MarshalBlock(o.img, block)
		}
	}
	return errors.NotFoundf("directory block %d not found while rewriting entry", loc.blockNumber)
}

// bumpFileCount adjusts the FileCount header field of whichever
// directory (volume root or subdirectory) loc addresses, persisting the
// updated header block.
func (o operator) bumpFileCount(loc directoryEntryLocation, vol Volume, delta int) error {
	if loc.subdir != nil {
		sd := loc.subdir
		if delta > 0 {
			sd.keyBlock.Header.FileCount++
		} else if sd.keyBlock.Header.FileCount > 0 {
			sd.keyBlock.Header.FileCount--
		}
		return disk.MarshalBlock(o.img, sd.keyBlock)
	}
	if delta > 0 {
		vol.keyBlock.Header.FileCount++
	} else if vol.keyBlock.Header.FileCount > 0 {
		vol.keyBlock.Header.FileCount--
	}
	return disk.MarshalBlock(o.img, vol.keyBlock)
}

// GetFile retrieves a file by name.
func (o operator) GetFile(filename string) (types.FileInfo, error) {
	fd, _, _, err := o.fileForFilename(filename)
	if err != nil {
		return types.FileInfo{}, err
	}
	data, err := o.readFileContents(fd)
	if err != nil {
		return types.FileInfo{}, err
	}
	desc := fd.descriptor()
	return types.FileInfo{Descriptor: desc, Data: data, StartAddress: fd.AuxType}, nil
}

func (o operator) readFileContents(fd FileDescriptor) ([]byte, error) {
	length := int(fd.EOF[0]) + int(fd.EOF[1])<<8 + int(fd.EOF[2])<<16
	switch fd.Type() {
	case TypeSeedling:
		block, err := o.img.ReadBlock(fd.KeyPointer)
		if err != nil {
			return nil, err
		}
		if length > len(block) {
			length = len(block)
		}
		return block[:length], nil
	case TypeSapling:
		raw, err := o.img.ReadBlock(fd.KeyPointer)
		if err != nil {
			return nil, err
		}
		idx := IndexBlock{}
		copy(idx[:], raw)
		data := make([]byte, 0, length)
		dataBlocks := (length + disk.BlockSize - 1) / disk.BlockSize
		for i := 0; i < dataBlocks; i++ {
			bn := idx.Get(byte(i))
			if bn == 0 {
				data = append(data, make([]byte, disk.BlockSize)...)
				continue
			}
			block, err := o.img.ReadBlock(bn)
			if err != nil {
				return nil, err
			}
			data = append(data, block...)
		}
		if length > len(data) {
			length = len(data)
		}
		return data[:length], nil
	case TypeTree:
		raw, err := o.img.ReadBlock(fd.KeyPointer)
		if err != nil {
			return nil, err
		}
		master := IndexBlock{}
		copy(master[:], raw)
		data := make([]byte, 0, length)
		totalDataBlocks := (length + disk.BlockSize - 1) / disk.BlockSize
		for m := 0; m < 256 && len(data) < length; m++ {
			groupBlocks := totalDataBlocks - m*256
			if groupBlocks > 256 {
				groupBlocks = 256
			}
			ib := master.Get(byte(m))
			if ib == 0 {
				data = append(data, make([]byte, groupBlocks*disk.BlockSize)...)
				continue
			}
			raw, err := o.img.ReadBlock(ib)
			if err != nil {
				return nil, err
			}
			idx := IndexBlock{}
			copy(idx[:], raw)
			for i := 0; i < groupBlocks; i++ {
				bn := idx.Get(byte(i))
				if bn == 0 {
					data = append(data, make([]byte, disk.BlockSize)...)
					continue
				}
				block, err := o.img.ReadBlock(bn)
				if err != nil {
					return nil, err
				}
				data = append(data, block...)
			}
		}
		if length > len(data) {
			length = len(data)
		}
		return data[:length], nil
	default:
		return nil, errors.BadTypef("file %q: not a regular file (storage type %d)", fd.Name(), fd.Type())
	}
}

// PutFile writes a file by path. It supports seedling (<=512 bytes),
// sapling (<=128KiB), and tree (>128KiB, two-level index) storage.
// Allocation failures midway through the write roll back every block
// allocated by this call. path's directory portion, if any, must name
// an existing subdirectory.
func (o operator) PutFile(fileInfo types.FileInfo, overwrite bool) (existed bool, err error) {
	path := fileInfo.Descriptor.Name
	if _, _, _, err := o.fileForFilename(path); err == nil {
		if !overwrite {
			return false, errors.Existsf("file %q already exists", path)
		}
		existed = true
		if _, derr := o.Delete(path); derr != nil {
			return false, derr
		}
	}

	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return existed, err
	}

	dir, filename := splitDirName(path)
	var sd *Subdirectory
	if dir != "" {
		found, ok := vol.subdirsByName[dir]
		if !ok {
			return existed, errors.NotFoundf("subdirectory %q not found", dir)
		}
		sd = found
	}

	data := fileInfo.Data
	var allocated []uint16
	rollback := func() {
		for _, b := range allocated {
			vol.bitmap.MarkUnused(b)
		}
	}
	allocate := func() (uint16, error) {
		b, err := vol.bitmap.Allocate(vol.keyBlock.Header.TotalBlocks, vol.keyBlock.Header.BitMapPointer)
		if err != nil {
			return 0, err
		}
		allocated = append(allocated, b)
		return b, nil
	}

	var storageType byte
	var keyBlock uint16
	var blocksUsed int

	switch {
	case len(data) <= seedlingMaxBytes:
		storageType = TypeSeedling
		block, err := allocate()
		if err != nil {
			return existed, err
		}
		keyBlock = block
		var buf [disk.BlockSize]byte
		copy(buf[:], data)
		if err := o.img.WriteBlock(block, buf[:]); err != nil {
			rollback()
			return existed, err
		}
		blocksUsed = 1

	case len(data) <= saplingMaxBytes:
		storageType = TypeSapling
		indexBlockNum, err := allocate()
		if err != nil {
			return existed, err
		}
		keyBlock = indexBlockNum
		var idx IndexBlock
		dataBlocks := (len(data) + disk.BlockSize - 1) / disk.BlockSize
		for i := 0; i < dataBlocks; i++ {
			b, err := allocate()
			if err != nil {
				rollback()
				return existed, err
			}
			idx.Set(byte(i), b)
			var buf [disk.BlockSize]byte
			start := i * disk.BlockSize
			end := start + disk.BlockSize
			if end > len(data) {
				end = len(data)
			}
			copy(buf[:], data[start:end])
			if err := o.img.WriteBlock(b, buf[:]); err != nil {
				rollback()
				return existed, err
			}
		}
		if err := o.img.WriteBlock(indexBlockNum, idx[:]); err != nil {
			rollback()
			return existed, err
		}
		blocksUsed = 1 + dataBlocks

	default:
		// Tree: a master index block of up to 256 pointers to secondary
		// index blocks, each itself pointing at up to 256 data blocks.
		storageType = TypeTree
		masterBlockNum, err := allocate()
		if err != nil {
			return existed, err
		}
		keyBlock = masterBlockNum
		var master IndexBlock
		totalDataBlocks := (len(data) + disk.BlockSize - 1) / disk.BlockSize
		groups := (totalDataBlocks + 255) / 256
		for m := 0; m < groups; m++ {
			indexBlockNum, err := allocate()
			if err != nil {
				rollback()
				return existed, err
			}
			master.Set(byte(m), indexBlockNum)
			var idx IndexBlock
			groupBlocks := totalDataBlocks - m*256
			if groupBlocks > 256 {
				groupBlocks = 256
			}
			for i := 0; i < groupBlocks; i++ {
				b, err := allocate()
				if err != nil {
					rollback()
					return existed, err
				}
				idx.Set(byte(i), b)
				var buf [disk.BlockSize]byte
				start := (m*256 + i) * disk.BlockSize
				end := start + disk.BlockSize
				if end > len(data) {
					end = len(data)
				}
				copy(buf[:], data[start:end])
				if err := o.img.WriteBlock(b, buf[:]); err != nil {
					rollback()
					return existed, err
				}
			}
			if err := o.img.WriteBlock(indexBlockNum, idx[:]); err != nil {
				rollback()
				return existed, err
			}
		}
		if err := o.img.WriteBlock(masterBlockNum, master[:]); err != nil {
			rollback()
			return existed, err
		}
		blocksUsed = 1 + groups + totalDataBlocks
	}

	// Find a free directory slot in the target directory (subdirectory
	// sd, or the volume root if sd is nil).
	loc, ok := directoryEntryLocation{}, false
	if sd != nil {
		for i, fd := range sd.keyBlock.Descriptors {
			if fd.Type() == TypeDeleted {
				loc, ok = directoryEntryLocation{subdir: sd, keyBlock: true, index: i}, true
				break
			}
		}
		if !ok {
			for _, block := range sd.blocks {
				for i, fd := range block.Descriptors {
					if fd.Type() == TypeDeleted {
						loc, ok = directoryEntryLocation{subdir: sd, blockNumber: block.block, index: i}, true
						break
					}
				}
				if ok {
					break
				}
			}
		}
	} else {
		for i, fd := range vol.keyBlock.Descriptors {
			if fd.Type() == TypeDeleted {
				loc, ok = directoryEntryLocation{keyBlock: true, index: i}, true
				break
			}
		}
		if !ok {
			for _, block := range vol.blocks {
				for i, fd := range block.Descriptors {
					if fd.Type() == TypeDeleted {
						loc, ok = directoryEntryLocation{blockNumber: block.block, index: i}, true
						break
					}
				}
				if ok {
					break
				}
			}
		}
	}
	if !ok {
		rollback()
		return existed, errors.DiskFullf("no free directory entry for file %q", path)
	}

	headerPointer := uint16(volumeDirectoryKeyBlock)
	if sd != nil {
		headerPointer = sd.keyBlock.GetBlock()
	}
	ftype := filetypeFor(fileInfo.Descriptor.Type)
	fd := FileDescriptor{
		FileType:      ftype,
		KeyPointer:    keyBlock,
		BlocksUsed:    uint16(blocksUsed),
		AuxType:       fileInfo.StartAddress,
		Access:        AccessDefault,
		HeaderPointer: headerPointer,
	}
	if fileInfo.Descriptor.Locked {
		fd.Access &^= AccessWritable | AccessRenamable | AccessDestroyable
	}
	fd.setNameAndType(storageType, filename)
	fd.EOF[0] = byte(len(data))
	fd.EOF[1] = byte(len(data) >> 8)
	fd.EOF[2] = byte(len(data) >> 16)

	if err := o.writeDescriptorAt(loc, fd, vol); err != nil {
		rollback()
		return existed, err
	}
	if err := o.bumpFileCount(loc, vol, 1); err != nil {
		rollback()
		return existed, err
	}
	if err := vol.bitmap.Write(o.img); err != nil {
		rollback()
		return existed, err
	}
	xlog.WithFields(map[string]interface{}{"file": path, "blocks": blocksUsed}).Debug("prodos: wrote file")
	return existed, nil
}

// filetypeFor maps a types.Filetype onto its ProDOS byte value.
func filetypeFor(t types.Filetype) byte {
	return byte(t)
}

// Delete deletes a file by path. It returns true if the file was
// deleted, false if it didn't exist. Files without the Destroyable
// access bit return errors.ReadOnly, never errors.NotFound.
func (o operator) Delete(path string) (bool, error) {
	fd, vol, loc, err := o.fileForFilename(path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if fd.Access&AccessDestroyable == 0 {
		return false, errors.ReadOnlyf("file %q is not destroyable", path)
	}

	switch fd.Type() {
	case TypeSeedling:
		vol.bitmap.MarkUnused(fd.KeyPointer)
	case TypeSapling:
		raw, err := o.img.ReadBlock(fd.KeyPointer)
		if err == nil {
			idx := IndexBlock{}
			copy(idx[:], raw)
			dataBlocks := (int(fd.BlocksUsed) - 1)
			for i := 0; i < dataBlocks; i++ {
				if b := idx.Get(byte(i)); b != 0 {
					vol.bitmap.MarkUnused(b)
				}
			}
		}
		vol.bitmap.MarkUnused(fd.KeyPointer)
	case TypeTree:
		raw, err := o.img.ReadBlock(fd.KeyPointer)
		if err == nil {
			master := IndexBlock{}
			copy(master[:], raw)
			length := int(fd.EOF[0]) + int(fd.EOF[1])<<8 + int(fd.EOF[2])<<16
			totalDataBlocks := (length + disk.BlockSize - 1) / disk.BlockSize
			groups := (totalDataBlocks + 255) / 256
			for m := 0; m < groups; m++ {
				ib := master.Get(byte(m))
				if ib == 0 {
					continue
				}
				idxRaw, err := o.img.ReadBlock(ib)
				if err == nil {
					idx := IndexBlock{}
					copy(idx[:], idxRaw)
					groupBlocks := totalDataBlocks - m*256
					if groupBlocks > 256 {
						groupBlocks = 256
					}
					for i := 0; i < groupBlocks; i++ {
						if b := idx.Get(byte(i)); b != 0 {
							vol.bitmap.MarkUnused(b)
						}
					}
				}
				vol.bitmap.MarkUnused(ib)
			}
		}
		vol.bitmap.MarkUnused(fd.KeyPointer)
	}

	fd.TypeAndNameLength = 0
	fd.KeyPointer = 0
	fd.BlocksUsed = 0
	fd.EOF = [3]byte{}
	if err := o.writeDescriptorAt(loc, fd, vol); err != nil {
		return false, err
	}
	if err := o.bumpFileCount(loc, vol, -1); err != nil {
		return false, err
	}
	if err := vol.bitmap.Write(o.img); err != nil {
		return false, err
	}
	return true, nil
}

// Rename renames a file, failing with errors.Exists if the new name is
// already in use. Non-renamable files return errors.ReadOnly.
func (o operator) Rename(oldPath, newPath string) error {
	if _, _, _, err := o.fileForFilename(newPath); err == nil {
		return errors.Existsf("file %q already exists", newPath)
	}
	fd, vol, loc, err := o.fileForFilename(oldPath)
	if err != nil {
		return err
	}
	if fd.Access&AccessRenamable == 0 {
		return errors.ReadOnlyf("file %q is not renamable", oldPath)
	}
	_, newName := splitDirName(newPath)
	storageType := fd.Type()
	fd.setNameAndType(storageType, newName)
	return o.writeDescriptorAt(loc, fd, vol)
}

// Lock clears the Writable, Renamable and Destroyable access bits.
func (o operator) Lock(filename string) error {
	return o.setLocked(filename, true)
}

// Unlock restores the Writable, Renamable and Destroyable access bits.
func (o operator) Unlock(filename string) error {
	return o.setLocked(filename, false)
}

func (o operator) setLocked(filename string, locked bool) error {
	fd, vol, loc, err := o.fileForFilename(filename)
	if err != nil {
		return err
	}
	if locked {
		fd.Access &^= AccessWritable | AccessRenamable | AccessDestroyable
	} else {
		fd.Access |= AccessWritable | AccessRenamable | AccessDestroyable
	}
	return o.writeDescriptorAt(loc, fd, vol)
}

// Mkdir creates a new, empty subdirectory. path's directory portion, if
// any, must name an already-existing parent subdirectory; an empty
// directory portion creates it in the volume root.
func (o operator) Mkdir(path string) error {
	if _, _, _, err := o.fileForFilename(path); err == nil {
		return errors.Existsf("file %q already exists", path)
	}
	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return err
	}

	dir, name := splitDirName(path)
	var parent *Subdirectory
	parentKeyBlock := uint16(volumeDirectoryKeyBlock)
	if dir != "" {
		found, ok := vol.subdirsByName[dir]
		if !ok {
			return errors.NotFoundf("parent subdirectory %q not found", dir)
		}
		parent = found
		parentKeyBlock = parent.keyBlock.GetBlock()
	}

	block, err := vol.bitmap.Allocate(vol.keyBlock.Header.TotalBlocks, vol.keyBlock.Header.BitMapPointer)
	if err != nil {
		return err
	}
	rollback := func() { vol.bitmap.MarkUnused(block) }

	var ok bool
	loc := directoryEntryLocation{}
	if parent != nil {
		for i, fd := range parent.keyBlock.Descriptors {
			if fd.Type() == TypeDeleted {
				loc, ok = directoryEntryLocation{subdir: parent, keyBlock: true, index: i}, true
				break
			}
		}
		if !ok {
			for _, pblock := range parent.blocks {
				for i, fd := range pblock.Descriptors {
					if fd.Type() == TypeDeleted {
						loc, ok = directoryEntryLocation{subdir: parent, blockNumber: pblock.block, index: i}, true
						break
					}
				}
				if ok {
					break
				}
			}
		}
	} else {
		for i, fd := range vol.keyBlock.Descriptors {
			if fd.Type() == TypeDeleted {
				loc, ok = directoryEntryLocation{keyBlock: true, index: i}, true
				break
			}
		}
	}
	if !ok {
		rollback()
		return errors.DiskFullf("no free directory entry for subdirectory %q", path)
	}

	skb := SubdirectoryKeyBlock{}
	skb.SetBlock(block)
	skb.Header.setNameAndType77(name)
	skb.Header.SeventyFive = 0x75
	skb.Header.EntryLength = entryLength
	skb.Header.EntriesPerBlock = entriesPerNonKeyBlock
	skb.Header.ParentPointer = parentKeyBlock
	skb.Header.ParentEntry = byte(loc.index + 1)
	skb.Header.ParentEntryLength = entryLength
	if err := disk.MarshalBlock(o.img, &skb); err != nil {
		rollback()
		return err
	}

	fd := FileDescriptor{
		FileType:      0x0f,
		KeyPointer:    block,
		BlocksUsed:    1,
		Access:        AccessDefault,
		HeaderPointer: parentKeyBlock,
	}
	fd.setNameAndType(TypeSubdirectory, name)
	if err := o.writeDescriptorAt(loc, fd, vol); err != nil {
		rollback()
		return err
	}
	if err := o.bumpFileCount(loc, vol, 1); err != nil {
		rollback()
		return err
	}
	return vol.bitmap.Write(o.img)
}

// setNameAndType77 packs a subdirectory name into a SubdirectoryHeader
// with storage type 0xE (subdirectory header), mirroring
// FileDescriptor.setNameAndType.
func (sh *SubdirectoryHeader) setNameAndType77(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	sh.TypeAndNameLength = TypeSubdirectoryHeader<<4 | byte(len(name))
	var nameBytes [15]byte
	copy(nameBytes[:], name)
	sh.SubdirectoryName = nameBytes
}

// GetBytes returns the disk image bytes, in logical order.
func (o operator) GetBytes() []byte { return o.img.Bytes() }

// GetFree returns the number of free blocks on the volume.
func (o operator) GetFree() (int, error) {
	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return 0, err
	}
	return vol.bitmap.FreeBlockCount(vol.keyBlock.Header.TotalBlocks), nil
}

// VolumeName returns the ProDOS volume directory's free-text name.
func (o operator) VolumeName() string {
	vol, err := readVolume(o.img, o.caps.MaxDirectoryBlocks)
	if err != nil {
		return ""
	}
	return vol.Name()
}

// OperatorFactory is a types.OperatorFactory for ProDOS disks.
type OperatorFactory struct{}

// Name returns the name of the operator.
func (of OperatorFactory) Name() string { return operatorName }

// DiskOrder returns the Physical-to-Logical mapping order.
func (of OperatorFactory) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

func imageFor(devicebytes []byte, owned bool) (*disk.Image, error) {
	blocks := len(devicebytes) / disk.BlockSize
	tracks := blocks * 2 / disk.FloppySectors
	return disk.NewImage(devicebytes, tracks, disk.FloppySectors, disk.OrderPhysical, owned)
}

// SeemsToMatch returns true if the []byte disk image seems to match a
// ProDOS volume.
func (of OperatorFactory) SeemsToMatch(devicebytes []byte, debug int) bool {
	img, err := imageFor(devicebytes, false)
	if err != nil {
		return false
	}
	vol, err := readVolume(img, types.DefaultSafetyCaps().MaxDirectoryBlocks)
	if err != nil {
		return false
	}
	h := vol.keyBlock.Header
	if h.TypeAndNameLength>>4 != TypeVolumeDirectoryHeader {
		return false
	}
	if h.EntryLength != entryLength || h.EntriesPerBlock != entriesPerNonKeyBlock {
		return false
	}
	if h.TotalBlocks == 0 || h.BitMapPointer == 0 {
		return false
	}
	return true
}

// Operator returns an Operator for the []byte disk image.
func (of OperatorFactory) Operator(devicebytes []byte, debug int) (types.Operator, error) {
	img, err := imageFor(devicebytes, true)
	if err != nil {
		return nil, err
	}
	return operator{img: img, debug: debug, caps: types.DefaultSafetyCaps()}, nil
}
