package prodos

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/errors"
	"github.com/zellyn/uft/types"
)

func randomBlock() disk.Block {
	var b1 disk.Block
	_, _ = rand.Read(b1[:])
	return b1
}

// TestVolumeDirectoryKeyBlockMarshalRoundtrip checks a simple roundtrip of VDKB data.
func TestVolumeDirectoryKeyBlockMarshalRoundtrip(t *testing.T) {
	b1 := randomBlock()
	vdkb := &VolumeDirectoryKeyBlock{}
	err := vdkb.FromBlock(b1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := vdkb.ToBlock()
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Fatalf("Blocks differ: %s", strings.Join(pretty.Diff(b1[:], b2[:]), "; "))
	}
	vdkb2 := &VolumeDirectoryKeyBlock{}
	err = vdkb2.FromBlock(b2)
	if err != nil {
		t.Fatal(err)
	}
	if *vdkb != *vdkb2 {
		t.Errorf("Structs differ: %v != %v", vdkb, vdkb2)
	}
}

// TestVolumeDirectoryBlockMarshalRoundtrip checks a simple roundtrip of VDB data.
func TestVolumeDirectoryBlockMarshalRoundtrip(t *testing.T) {
	b1 := randomBlock()
	vdb := &VolumeDirectoryBlock{}
	err := vdb.FromBlock(b1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := vdb.ToBlock()
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Fatalf("Blocks differ: %s", strings.Join(pretty.Diff(b1[:], b2[:]), "; "))
	}
	vdb2 := &VolumeDirectoryBlock{}
	err = vdb2.FromBlock(b2)
	if err != nil {
		t.Fatal(err)
	}
	if *vdb != *vdb2 {
		t.Errorf("Structs differ: %v != %v", vdb, vdb2)
	}
}

// TestSubdirectoryKeyBlockMarshalRoundtrip checks a simple roundtrip of SKB data.
func TestSubdirectoryKeyBlockMarshalRoundtrip(t *testing.T) {
	b1 := randomBlock()
	skb := &SubdirectoryKeyBlock{}
	err := skb.FromBlock(b1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := skb.ToBlock()
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Fatalf("Blocks differ: %s", strings.Join(pretty.Diff(b1[:], b2[:]), "; "))
	}
	skb2 := &SubdirectoryKeyBlock{}
	err = skb2.FromBlock(b2)
	if err != nil {
		t.Fatal(err)
	}
	if *skb != *skb2 {
		t.Errorf("Structs differ: %v != %v", skb, skb2)
	}
}

// TestSubdirectoryBlockMarshalRoundtrip checks a simple roundtrip of SB data.
func TestSubdirectoryBlockMarshalRoundtrip(t *testing.T) {
	b1 := randomBlock()
	sb := &SubdirectoryBlock{}
	err := sb.FromBlock(b1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := sb.ToBlock()
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Fatalf("Blocks differ: %s", strings.Join(pretty.Diff(b1[:], b2[:]), "; "))
	}
	sb2 := &SubdirectoryBlock{}
	err = sb2.FromBlock(b2)
	if err != nil {
		t.Fatal(err)
	}
	if *sb != *sb2 {
		t.Errorf("Structs differ: %v != %v", sb, sb2)
	}
}

// newTestVolume builds a blank, freshly-initialized 280-block ProDOS
// volume: boot blocks 0-1, volume directory key block 2, one bitmap
// block at 6, and nothing else allocated.
func newTestVolume(t *testing.T) *disk.Image {
	t.Helper()
	img, err := disk.NewBlankImage(disk.FloppyTracks, disk.FloppySectors, disk.OrderPhysical)
	if err != nil {
		t.Fatal(err)
	}
	const totalBlocks = 280
	const bitmapStart = 6

	const volName = "TEST.VOLUME"
	vdkb := &VolumeDirectoryKeyBlock{}
	vdkb.SetBlock(volumeDirectoryKeyBlock)
	vdkb.Header.TypeAndNameLength = TypeVolumeDirectoryHeader<<4 | byte(len(volName))
	copy(vdkb.Header.VolumeName[:], volName)
	vdkb.Header.EntryLength = entryLength
	vdkb.Header.EntriesPerBlock = entriesPerNonKeyBlock
	vdkb.Header.BitMapPointer = bitmapStart
	vdkb.Header.TotalBlocks = totalBlocks
	vdkb.Header.Access = Access(0xc3)
	if err := disk.MarshalBlock(img, vdkb); err != nil {
		t.Fatal(err)
	}

	vbm := NewVolumeBitMap(bitmapStart, totalBlocks)
	vbm.MarkUsed(0)
	vbm.MarkUsed(1)
	vbm.MarkUsed(volumeDirectoryKeyBlock)
	vbm.MarkUsed(bitmapStart)
	if err := vbm.Write(img); err != nil {
		t.Fatal(err)
	}
	return img
}

func testOperator(t *testing.T) operator {
	return operator{img: newTestVolume(t), debug: 0, caps: types.DefaultSafetyCaps()}
}

func TestOperatorPutGetDeleteFile(t *testing.T) {
	o := testOperator(t)
	content := []byte("hello, prodos")
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "HELLO", Type: types.FiletypeASCIIText},
		Data:       content,
	}
	existed, err := o.PutFile(fi, false)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected existed=false on first write")
	}

	cat, err := o.Catalog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cat) != 1 || cat[0].Name != "HELLO" {
		t.Fatalf("unexpected catalog: %+v", cat)
	}

	got, err := o.GetFile("HELLO")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != string(content) {
		t.Errorf("want content %q; got %q", content, got.Data)
	}

	if _, err := o.PutFile(fi, false); !errors.IsExists(err) {
		t.Errorf("expected errors.Exists on duplicate PutFile; got %v", err)
	}

	deleted, err := o.Delete("HELLO")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("expected Delete to report true")
	}

	cat, err = o.Catalog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cat) != 0 {
		t.Errorf("expected empty catalog after delete; got %+v", cat)
	}
}

func TestOperatorRenameAndLock(t *testing.T) {
	o := testOperator(t)
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "ONE", Type: types.FiletypeBinary},
		Data:       []byte{1, 2, 3},
	}
	if _, err := o.PutFile(fi, false); err != nil {
		t.Fatal(err)
	}
	if err := o.Rename("ONE", "TWO"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.GetFile("ONE"); !errors.IsNotFound(err) {
		t.Errorf("expected ONE to be gone; got %v", err)
	}
	if _, err := o.GetFile("TWO"); err != nil {
		t.Fatal(err)
	}
	if err := o.Lock("TWO"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Delete("TWO"); !errors.IsReadOnly(err) {
		t.Errorf("expected locked file delete to fail with ReadOnly; got %v", err)
	}
	if err := o.Unlock("TWO"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Delete("TWO"); err != nil {
		t.Fatal(err)
	}
}

func TestOperatorMkdir(t *testing.T) {
	o := testOperator(t)
	if err := o.Mkdir("SUBDIR"); err != nil {
		t.Fatal(err)
	}
	cat, err := o.Catalog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cat) != 1 || cat[0].Name != "SUBDIR" {
		t.Fatalf("unexpected catalog: %+v", cat)
	}
	if err := o.Mkdir("SUBDIR"); !errors.IsExists(err) {
		t.Errorf("expected errors.Exists creating duplicate subdirectory; got %v", err)
	}
}
