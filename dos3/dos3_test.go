package dos3

import (
	"crypto/rand"
	"reflect"
	"testing"

	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/errors"
	"github.com/zellyn/uft/types"
)

// TestVTOCMarshalRoundtrip checks a simple roundtrip of VTOC data.
func TestVTOCMarshalRoundtrip(t *testing.T) {
	buf := make([]byte, 256)
	_, _ = rand.Read(buf)
	buf1 := make([]byte, 256)
	copy(buf1, buf)
	vtoc1 := &VTOC{}
	err := vtoc1.FromSector(buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := vtoc1.ToSector()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(buf, buf2) {
		t.Errorf("Buffers differ: %v != %v", buf, buf2)
	}
	vtoc2 := &VTOC{}
	err = vtoc2.FromSector(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if *vtoc1 != *vtoc2 {
		t.Errorf("Structs differ: %v != %v", vtoc1, vtoc2)
	}
}

// TestCatalogSectorMarshalRoundtrip checks a simple roundtrip of CatalogSector data.
func TestCatalogSectorMarshalRoundtrip(t *testing.T) {
	buf := make([]byte, 256)
	_, _ = rand.Read(buf)
	buf1 := make([]byte, 256)
	copy(buf1, buf)
	cs1 := &CatalogSector{}
	err := cs1.FromSector(buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := cs1.ToSector()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(buf, buf2) {
		t.Errorf("Buffers differ: %v != %v", buf, buf2)
	}
	cs2 := &CatalogSector{}
	err = cs2.FromSector(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if *cs1 != *cs2 {
		t.Errorf("Structs differ: %v != %v", cs1, cs2)
	}
}

// TestTrackSectorListMarshalRoundtrip checks a simple roundtrip of TrackSectorList data.
func TestTrackSectorListMarshalRoundtrip(t *testing.T) {
	buf := make([]byte, 256)
	_, _ = rand.Read(buf)
	buf1 := make([]byte, 256)
	copy(buf1, buf)
	cs1 := &TrackSectorList{}
	err := cs1.FromSector(buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := cs1.ToSector()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(buf, buf2) {
		t.Errorf("Buffers differ: %v != %v", buf, buf2)
	}
	cs2 := &TrackSectorList{}
	err = cs2.FromSector(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if *cs1 != *cs2 {
		t.Errorf("Structs differ: %v != %v", cs1, cs2)
	}
}

// newTestImage builds a blank, freshly-initialized 35-track/16-sector
// DOS 3.3 image: a default VTOC at T17/S0 and a single empty catalog
// sector at the VTOC's catalog pointer, with no other sectors allocated.
func newTestImage(t *testing.T) *disk.Image {
	t.Helper()
	img, err := disk.NewBlankImage(disk.FloppyTracks, disk.FloppySectors, disk.OrderPhysical)
	if err != nil {
		t.Fatal(err)
	}
	v := DefaultVTOC()
	v.MarkSectorUsed(v.CatalogTrack, v.CatalogSector)
	if err := disk.MarshalLogicalSector(img, &v); err != nil {
		t.Fatal(err)
	}
	cs := CatalogSector{DiskSector: DiskSector{Track: v.CatalogTrack, Sector: v.CatalogSector}}
	if err := disk.MarshalLogicalSector(img, &cs); err != nil {
		t.Fatal(err)
	}
	return img
}

func testOperator(t *testing.T) operator {
	return operator{img: newTestImage(t), debug: 0, caps: types.DefaultSafetyCaps()}
}

// TestOperatorPutGetDeleteFile exercises the full write/read/delete path
// of the DOS 3.3 operator against a blank, synthetic volume.
func TestOperatorPutGetDeleteFile(t *testing.T) {
	o := testOperator(t)
	content := []byte("HELLO, WORLD")
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

// TestOperatorRenameAndLock exercises Rename/Lock/Unlock against a
// synthetic volume.
func TestOperatorRenameAndLock(t *testing.T) {
	o := testOperator(t)
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "ONE", Type: types.FiletypeBinary},
		Data:       []byte{1, 2, 3},
		StartAddress: 0x2000,
	}
	if _, err := o.PutFile(fi, false); err != nil {
		t.Fatal(err)
	}
	if err := o.Rename("ONE", "TWO"); err != nil {
		t.Fatal(err)
	}
	if _, _, _, _, err := o.fileForFilename("ONE"); !errors.IsNotFound(err) {
		t.Errorf("expected ONE to be gone; got %v", err)
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
