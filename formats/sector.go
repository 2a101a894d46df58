// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// sector.go holds the Format Registry profiles for the Apple II raw
// sector and nibble container formats: .dsk (DOS-order 16- or
// 13-sector images), .po (ProDOS-order images), and .nib (nibblized
// raw track captures). DSK/PO scoring reuses the same structural
// checks the dos3 and prodos engines use to recognize their own
// volumes, so a DSK/PO candidate that scores high here is one the
// Filesystem Facade would actually be able to mount.
package formats

import (
	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/dos3"
	"github.com/zellyn/uft/prodos"
)

// nibTrackLength is the size of one nibblized track in a .nib image:
// 6656 raw bytes, the same self-sync encoding WOZ's TRKS chunks use.
const nibTrackLength = 6656

func init() {
	register(structuralProfile{
		descriptor: Descriptor{
			Tag: DSK, ShortName: "DSK", Description: "Apple II raw sector image (.dsk DOS-order or .po ProDOS-order)",
			Extensions: []string{".dsk", ".do", ".po"}, Category: CategorySector, Platform: "apple2",
			SupportsWrite: true, SupportsConvert: true,
			MinFileSize: disk.FloppyDiskBytes13Sector, MaxFileSize: 800 * 1024,
		},
		score: func(data []byte) int {
			s, p := dskScore(data), poScore(data)
			if p > s {
				return p
			}
			return s
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{
			Tag: NIB, ShortName: "NIB", Description: "Apple II nibblized raw track capture",
			Extensions: []string{".nib"}, Category: CategoryBitstream, Platform: "apple2",
			MinFileSize: disk.FloppyTracks * nibTrackLength, MaxFileSize: disk.FloppyTracks * nibTrackLength,
		},
		score: nibScore,
	})
}

// dskScore reuses dos3's own volume-recognition logic: a DOS-order
// image that dos3 would successfully mount scores high; an image of
// the right size that doesn't parse as a DOS 3.3 volume still scores
// as a plausible DSK container, just with lower confidence.
func dskScore(data []byte) int {
	switch len(data) {
	case disk.FloppyDiskBytes, disk.FloppyDiskBytes13Sector:
	default:
		return 0
	}
	factory := dos3.OperatorFactory{}
	if factory.SeemsToMatch(data, 0) {
		return 95
	}
	return 40
}

// poScore mirrors dskScore for ProDOS-order images.
func poScore(data []byte) int {
	if len(data) < disk.FloppyDiskBytes || len(data)%disk.BlockSize != 0 {
		return 0
	}
	factory := prodos.OperatorFactory{}
	if factory.SeemsToMatch(data, 0) {
		return 95
	}
	return 35
}

// nibScore checks only that the capture is an exact whole number of
// 6656-byte nibblized tracks for a 35-track Apple II disk; nibblized
// data has no fixed per-track signature worth checking structurally.
func nibScore(data []byte) int {
	if len(data) != disk.FloppyTracks*nibTrackLength {
		return 0
	}
	return 60
}
