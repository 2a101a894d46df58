// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// magic.go implements minimal Profile Contract stubs (spec.md §4.9)
// for the registry entries that aren't Apple II sector images or WOZ
// flux captures. Most of these formats don't get a full parser here —
// each exposes just enough signature/structural plausibility checking
// to participate honestly in Detect's scoring, matching the registry's
// own stated budget of "minimal profile stubs" for the long tail of
// formats.
package formats

import "encoding/binary"

// genericInfo is the parse result for every stub profile in this file:
// there's no format-specific struct to populate, just the bytes a
// signature check already looked at.
type genericInfo struct {
	Tag       Tag
	SizeBytes int
}

// signatureProfile scores purely on a fixed magic byte sequence at a
// fixed offset, with a size-range sanity check.
type signatureProfile struct {
	descriptor Descriptor
	magic      []byte
	offset     int
}

func (p signatureProfile) Descriptor() Descriptor { return p.descriptor }

func (p signatureProfile) ValidateSignature(data []byte) bool {
	if len(data) < p.offset+len(p.magic) {
		return false
	}
	for i, b := range p.magic {
		if data[p.offset+i] != b {
			return false
		}
	}
	return true
}

func (p signatureProfile) inSizeRange(data []byte) bool {
	if len(data) < p.descriptor.MinFileSize {
		return false
	}
	if p.descriptor.MaxFileSize > 0 && len(data) > p.descriptor.MaxFileSize {
		return false
	}
	return true
}

func (p signatureProfile) Probe(data []byte) int {
	if !p.ValidateSignature(data) {
		return 0
	}
	if !p.inSizeRange(data) {
		return 40
	}
	return 90
}

func (p signatureProfile) Parse(data []byte) (interface{}, error) {
	if !p.ValidateSignature(data) {
		return nil, errNoSignature(p.descriptor.ShortName)
	}
	return genericInfo{Tag: p.descriptor.Tag, SizeBytes: len(data)}, nil
}

// structuralProfile scores using an arbitrary plausibility function
// instead of a single fixed magic string, for formats whose header
// doesn't carry a stable signature.
type structuralProfile struct {
	descriptor Descriptor
	score      func(data []byte) int
}

func (p structuralProfile) Descriptor() Descriptor { return p.descriptor }

func (p structuralProfile) ValidateSignature(data []byte) bool {
	return p.score(data) >= 50
}

func (p structuralProfile) Probe(data []byte) int {
	return p.score(data)
}

func (p structuralProfile) Parse(data []byte) (interface{}, error) {
	if p.score(data) < detectThreshold {
		return nil, errNoSignature(p.descriptor.ShortName)
	}
	return genericInfo{Tag: p.descriptor.Tag, SizeBytes: len(data)}, nil
}

type formatError string

func (e formatError) Error() string { return string(e) }

func errNoSignature(name string) error {
	return formatError(name + ": signature did not validate")
}

// sizeRangeScore gives a mid confidence score (45) when a byte slice's
// length falls in [min,max] (max==0 means unbounded) and 0 when outside
// it, used by formats that have no reliable header signature.
func sizeRangeScore(data []byte, min, max int) int {
	if len(data) < min {
		return 0
	}
	if max > 0 && len(data) > max {
		return 0
	}
	return 45
}

// bootSignature565 reports whether data looks like a 512-byte-sector
// PC-style boot sector, ending in the 0x55 0xAA marker.
func bootSignature565(data []byte) bool {
	return len(data) >= 512 && data[510] == 0x55 && data[511] == 0xAA
}

func init() {
	register(signatureProfile{
		descriptor: Descriptor{Tag: HFE, ShortName: "HFE", Description: "HxC Floppy Emulator bitstream image",
			Extensions: []string{".hfe"}, Category: CategoryBitstream, Platform: "multi", SupportsWrite: true, MinFileSize: 512},
		magic: []byte("HXCPICFE"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: IMD, ShortName: "IMD", Description: "ImageDisk sector image",
			Extensions: []string{".imd"}, Category: CategorySector, Platform: "pc", MinFileSize: 32},
		magic: []byte("IMD "),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: TD0, ShortName: "TD0", Description: "Teledisk sector image",
			Extensions: []string{".td0"}, Category: CategorySector, Platform: "pc", MinFileSize: 12},
		magic: []byte("TD"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: SCP, ShortName: "SCP", Description: "SuperCard Pro flux capture",
			Extensions: []string{".scp"}, Category: CategoryFlux, Platform: "multi", MinFileSize: 16},
		magic: []byte("SCP"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: G64, ShortName: "G64", Description: "Commodore 1541 GCR track image",
			Extensions: []string{".g64"}, Category: CategoryBitstream, Platform: "c64", SupportsWrite: true, MinFileSize: 12},
		magic: []byte("GCR-1541"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: EDSK, ShortName: "EDSK", Description: "Extended CPC disk image",
			Extensions: []string{".dsk"}, Category: CategorySector, Platform: "cpc", MinFileSize: 256},
		magic: []byte("EXTENDED CPC DSK File\r\nDisk-Info\r\n"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: STX, ShortName: "STX", Description: "Pasti Atari ST flux-aware image",
			Extensions: []string{".stx"}, Category: CategoryFlux, Platform: "atari-st", MinFileSize: 16},
		magic: []byte("RSY\x00"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: IPF, ShortName: "IPF", Description: "CAPS/SPS interchangeable preservation format",
			Extensions: []string{".ipf"}, Category: CategoryFlux, Platform: "multi", MinFileSize: 16},
		magic: []byte("CAPS"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: A2R, ShortName: "A2R", Description: "Applesauce flux capture",
			Extensions: []string{".a2r"}, Category: CategoryFlux, Platform: "apple2", MinFileSize: 8},
		magic: []byte("A2R2\xFF\n\r\n"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: FDI, ShortName: "FDI", Description: "Formatted Disk Image",
			Extensions: []string{".fdi"}, Category: CategorySector, Platform: "pc-98", MinFileSize: 32},
		magic: []byte("FDI2"),
	})
	register(signatureProfile{
		descriptor: Descriptor{Tag: ATR, ShortName: "ATR", Description: "Atari 8-bit sector image",
			Extensions: []string{".atr"}, Category: CategorySector, Platform: "atari-8bit", MinFileSize: 16},
		magic: []byte{0x96, 0x02},
	})

	register(structuralProfile{
		descriptor: Descriptor{Tag: DC42, ShortName: "DC42", Description: "Apple DiskCopy 4.2 image",
			Extensions: []string{".image", ".dc42"}, Category: CategorySector, Platform: "mac", MinFileSize: 84},
		score: func(data []byte) int {
			if len(data) < 84 {
				return 0
			}
			nameLen := int(data[0])
			if nameLen > 63 {
				return 0
			}
			privateWord := binary.BigEndian.Uint16(data[82:84])
			if privateWord != 0x0100 {
				return 0
			}
			return 80
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: D88, ShortName: "D88", Description: "PC-88/98 sector image",
			Extensions: []string{".d88"}, Category: CategorySector, Platform: "pc-88", MinFileSize: 0x2B0},
		score: func(data []byte) int {
			if len(data) < 0x2B0 {
				return 0
			}
			if data[0x1A] != 0x00 && data[0x1A] != 0x10 {
				return 0
			}
			size := binary.LittleEndian.Uint32(data[0x1C:0x20])
			if int(size) != len(data) {
				return 35
			}
			return 75
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: D77, ShortName: "D77", Description: "PC-88/98 sector image (pre-D88 variant)",
			Extensions: []string{".d77"}, Category: CategorySector, Platform: "pc-88", MinFileSize: 0x2B0},
		score: func(data []byte) int { return sizeRangeScore(data, 0x2B0, 0) },
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: ADF, ShortName: "ADF", Description: "Amiga raw sector dump",
			Extensions: []string{".adf"}, Category: CategorySector, Platform: "amiga", MinFileSize: 901120, MaxFileSize: 1802240},
		score: func(data []byte) int {
			if len(data) != 901120 && len(data) != 1802240 {
				return 0
			}
			if len(data) >= 3 && data[0] == 'D' && data[1] == 'O' && data[2] == 'S' {
				return 80
			}
			return 45
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: DIM, ShortName: "DIM", Description: "PC-98 DIM sector image",
			Extensions: []string{".dim"}, Category: CategorySector, Platform: "pc-98", MinFileSize: 1261568, MaxFileSize: 1474560},
		score: func(data []byte) int { return sizeRangeScore(data, 1261568, 1474560) },
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: TRD, ShortName: "TRD", Description: "TR-DOS sector image",
			Extensions: []string{".trd"}, Category: CategorySector, Platform: "zx-spectrum", MinFileSize: 640 * 1024, MaxFileSize: 640 * 1024},
		score: func(data []byte) int { return sizeRangeScore(data, 640*1024, 640*1024) },
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: MSX, ShortName: "MSX", Description: "MSX FAT12 sector image",
			Extensions: []string{".dsk"}, Category: CategorySector, Platform: "msx", MinFileSize: 360 * 1024, MaxFileSize: 768 * 1024},
		score: func(data []byte) int {
			if !bootSignature565(data) {
				return sizeRangeScore(data, 360*1024, 768*1024)
			}
			return 70
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: F86, ShortName: "F86", Description: "Generic 86-column flux stream",
			Extensions: []string{".f86"}, Category: CategoryFlux, Platform: "multi", MinFileSize: 16},
		score: func(data []byte) int { return sizeRangeScore(data, 16, 0) },
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: KFX, ShortName: "KFX", Description: "KryoFlux raw stream",
			Extensions: []string{".raw"}, Category: CategoryFlux, Platform: "multi", MinFileSize: 16},
		score: func(data []byte) int {
			if len(data) > 0 && data[0] == 0x0d {
				return 55
			}
			return sizeRangeScore(data, 16, 0)
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: MFI, ShortName: "MFI", Description: "MAME floppy flux image",
			Extensions: []string{".mfi"}, Category: CategoryFlux, Platform: "multi", MinFileSize: 16},
		score: func(data []byte) int { return sizeRangeScore(data, 16, 0) },
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: ST, ShortName: "ST", Description: "Atari ST raw sector dump",
			Extensions: []string{".st"}, Category: CategorySector, Platform: "atari-st", MinFileSize: 360 * 1024, MaxFileSize: 1474560},
		score: func(data []byte) int {
			if bootSignature565(data) {
				return 70
			}
			return sizeRangeScore(data, 360*1024, 1474560)
		},
	})
	register(structuralProfile{
		descriptor: Descriptor{Tag: KC85, ShortName: "KC85", Description: "KC 85/87 sector image",
			Extensions: []string{".kcc", ".dump"}, Category: CategorySector, Platform: "kc85", MinFileSize: 16},
		score: func(data []byte) int { return sizeRangeScore(data, 16, 0) },
	})
}
