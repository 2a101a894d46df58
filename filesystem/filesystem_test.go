package filesystem

import (
	"testing"

	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/dos3"
	"github.com/zellyn/uft/prodos"
	"github.com/zellyn/uft/types"
)

// prodosRawBytes builds a blank, freshly-initialized 280-block ProDOS
// volume: boot blocks 0-1, a volume directory key block at 2, and one
// bitmap block at 6.
func prodosRawBytes(t *testing.T) []byte {
	t.Helper()
	img, err := disk.NewBlankImage(disk.FloppyTracks, disk.FloppySectors, disk.OrderPhysical)
	if err != nil {
		t.Fatal(err)
	}
	const totalBlocks = 280
	const bitmapStart = 6
	const volName = "TEST.VOLUME"

	vdkb := &prodos.VolumeDirectoryKeyBlock{}
	vdkb.SetBlock(2)
	vdkb.Header.TypeAndNameLength = prodos.TypeVolumeDirectoryHeader<<4 | byte(len(volName))
	copy(vdkb.Header.VolumeName[:], volName)
	vdkb.Header.EntryLength = 0x27
	vdkb.Header.EntriesPerBlock = 13
	vdkb.Header.BitMapPointer = bitmapStart
	vdkb.Header.TotalBlocks = totalBlocks
	if err := disk.MarshalBlock(img, vdkb); err != nil {
		t.Fatal(err)
	}

	vbm := prodos.NewVolumeBitMap(bitmapStart, totalBlocks)
	vbm.MarkUsed(0)
	vbm.MarkUsed(1)
	vbm.MarkUsed(2)
	vbm.MarkUsed(bitmapStart)
	if err := vbm.Write(img); err != nil {
		t.Fatal(err)
	}
	return img.Bytes()
}

func TestOpenDetectsProDOS(t *testing.T) {
	raw := prodosRawBytes(t)
	ctx, err := Open(raw, true)
	if err != nil {
		t.Fatal(err)
	}
	det := ctx.Detect()
	if det.FSTag != "prodos" {
		t.Fatalf("want fs tag prodos; got %q", det.FSTag)
	}
	if det.VolumeName != "TEST.VOLUME" {
		t.Errorf("want volume name %q; got %q", "TEST.VOLUME", det.VolumeName)
	}

	if err := ctx.Mkdir("SUB"); err != nil {
		t.Fatal(err)
	}
	entries, err := ctx.ReadDir("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "SUB" {
		t.Fatalf("unexpected catalog: %+v", entries)
	}
}

// dos33RawBytes builds a blank DOS 3.3 volume in canonical physical
// order, then converts it to on-disk DOS order, the arrangement a real
// .dsk file would be stored in.
func dos33RawBytes(t *testing.T) []byte {
	t.Helper()
	canonical, err := disk.NewBlankImage(disk.FloppyTracks, disk.FloppySectors, disk.OrderPhysical)
	if err != nil {
		t.Fatal(err)
	}
	v := dos3.DefaultVTOC()
	v.MarkSectorUsed(v.CatalogTrack, v.CatalogSector)
	if err := disk.MarshalLogicalSector(canonical, &v); err != nil {
		t.Fatal(err)
	}
	cs := dos3.CatalogSector{DiskSector: dos3.DiskSector{Track: v.CatalogTrack, Sector: v.CatalogSector}}
	if err := disk.MarshalLogicalSector(canonical, &cs); err != nil {
		t.Fatal(err)
	}
	dosOrder, err := canonical.ConvertOrder(disk.OrderDOS)
	if err != nil {
		t.Fatal(err)
	}
	return dosOrder.Bytes()
}

func TestOpenDetectsDOS33(t *testing.T) {
	raw := dos33RawBytes(t)
	ctx, err := Open(raw, true)
	if err != nil {
		t.Fatal(err)
	}
	det := ctx.Detect()
	if det.FSTag != "dos3" {
		t.Fatalf("want fs tag dos3; got %q", det.FSTag)
	}
	if det.Order != disk.OrderDOS {
		t.Errorf("want order %q; got %q", disk.OrderDOS, det.Order)
	}

	entries, err := ctx.ReadDir("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty catalog; got %+v", entries)
	}

	existed, err := ctx.Inject("HELLO", types.FiletypeASCIIText, 0, []byte("hi"), false)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected existed=false")
	}

	entries, err = ctx.ReadDir("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "HELLO" {
		t.Fatalf("unexpected catalog: %+v", entries)
	}

	data, err := ctx.Extract("HELLO")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Errorf("want %q; got %q", "hi", data)
	}

	free, err := ctx.GetFree()
	if err != nil {
		t.Fatal(err)
	}
	if free <= 0 {
		t.Errorf("expected positive free sector count; got %d", free)
	}

	if err := ctx.Mkdir("SUB"); err == nil {
		t.Error("expected Mkdir on DOS 3.3 to fail")
	}
}

func TestOpenRejectsUnknownImage(t *testing.T) {
	raw := make([]byte, disk.FloppyDiskBytes)
	if _, err := Open(raw, true); err == nil {
		t.Error("expected Open to fail detecting an all-zero image")
	}
}
