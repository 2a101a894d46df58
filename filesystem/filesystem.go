// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// Package filesystem is the Filesystem Facade: it detects which of the
// dos3/prodos engines a raw disk image holds, mounts the right
// types.Operator against it, and forwards path-based operations to it.
// Detection runs in a fixed priority order (ProDOS, then DOS 3.3, then
// DOS 3.2) the way the teacher's open.go auto-detected order and system
// before dispatching to an operator factory.
package filesystem

import (
	"crypto/sha256"
	"strings"

	"github.com/zellyn/uft/disk"
	"github.com/zellyn/uft/dos3"
	"github.com/zellyn/uft/errors"
	"github.com/zellyn/uft/internal/xlog"
	"github.com/zellyn/uft/prodos"
	"github.com/zellyn/uft/types"
)

// candidate is one (operator factory, order, sectorsPerTrack) triple the
// facade tries when mounting an image of unknown provenance;
// candidatesFor lists them in detection priority order.
type candidate struct {
	factory         types.OperatorFactory
	order           disk.Order
	sectorsPerTrack int
}

func candidatesFor(totalBytes int) []candidate {
	var cands []candidate
	switch totalBytes {
	case disk.FloppyDiskBytes: // 143,360: 35 tracks x 16 sectors
		cands = append(cands,
			candidate{prodos.OperatorFactory{}, disk.OrderPhysical, disk.FloppySectors},
			candidate{prodos.OperatorFactory{}, disk.OrderProDOS, disk.FloppySectors},
			candidate{dos3.OperatorFactory{}, disk.OrderDOS, disk.FloppySectors},
		)
	case disk.FloppyDiskBytes13Sector: // 116,480: 35 tracks x 13 sectors
		cands = append(cands,
			candidate{dos3.OperatorFactory{}, disk.OrderDOS32, disk.FloppySectors13},
		)
	}
	return cands
}

// DetectResult is the outcome of Detect: the engine tag, the sector
// order the image turned out to be physically stored in, the geometry,
// and a stable digest of the volume header so callers can tell two
// mounts of the same logical volume apart.
type DetectResult struct {
	FSTag              string
	Order              disk.Order
	Tracks             int
	SectorsPerTrack    int
	VolumeName         string
	VolumeHeaderDigest [32]byte
}

// Detect runs the priority-ordered probe described in spec.md's
// Filesystem Facade: ProDOS volume on block 2, then DOS 3.3 VTOC at
// T17S0, then DOS 3.2's 13-sector VTOC, then unknown.
func Detect(raw []byte) (DetectResult, error) {
	for _, cand := range candidatesFor(len(raw)) {
		tracks := len(raw) / (cand.sectorsPerTrack * disk.SectorSize)
		img, err := disk.NewImage(raw, tracks, cand.sectorsPerTrack, cand.order, false)
		if err != nil {
			continue
		}
		canonical, err := img.ConvertOrder(disk.OrderPhysical)
		if err != nil {
			continue
		}
		if !cand.factory.SeemsToMatch(canonical.Bytes(), 0) {
			continue
		}
		op, err := cand.factory.Operator(canonical.Bytes(), 0)
		if err != nil {
			continue
		}
		name := volumeName(op)
		return DetectResult{
			FSTag:              cand.factory.Name(),
			Order:              cand.order,
			Tracks:             tracks,
			SectorsPerTrack:    cand.sectorsPerTrack,
			VolumeName:         name,
			VolumeHeaderDigest: sha256.Sum256(canonical.Bytes()[:disk.SectorSize]),
		}, nil
	}
	return DetectResult{}, errors.InvalidArgumentf("no known filesystem detected in %d-byte image", len(raw))
}

// volumeName returns a free-text volume label where one exists. DOS 3.3
// has no textual label, so it falls back to the numeric volume id.
func volumeName(op types.Operator) string {
	if named, ok := op.(interface{ VolumeName() string }); ok {
		return named.VolumeName()
	}
	return ""
}

// Context is a mounted filesystem: an Image plus the operator dispatch
// chosen at Open time. It is the Filesystem Facade's externally callable
// surface (spec.md §6.2): open/detect have already happened by the time
// a Context exists, and every method below forwards to the operator or
// directly to the underlying Image.
type Context struct {
	img      *disk.Image
	op       types.Operator
	detected DetectResult
}

// Open detects raw's filesystem, converts it to a canonical
// physical-order Image, and returns a ready-to-use Context. The Context
// works on that converted copy: raw itself is neither modified nor kept,
// and owned only sets the ownership flag of the intermediate Image built
// over raw.
func Open(raw []byte, owned bool) (*Context, error) {
	det, err := Detect(raw)
	if err != nil {
		return nil, err
	}
	img, err := disk.NewImage(raw, det.Tracks, det.SectorsPerTrack, det.Order, owned)
	if err != nil {
		return nil, err
	}
	canonical, err := img.ConvertOrder(disk.OrderPhysical)
	if err != nil {
		return nil, err
	}
	var factory types.OperatorFactory
	switch det.FSTag {
	case "dos3":
		factory = dos3.OperatorFactory{}
	case "prodos":
		factory = prodos.OperatorFactory{}
	default:
		return nil, errors.InvalidArgumentf("unsupported filesystem tag %q", det.FSTag)
	}
	op, err := factory.Operator(canonical.Bytes(), 0)
	if err != nil {
		return nil, err
	}
	xlog.WithFields(map[string]interface{}{"fs": det.FSTag, "order": string(det.Order)}).Debug("filesystem: opened image")
	return &Context{img: canonical, op: op, detected: det}, nil
}

// Detect returns the detection result the Context was opened with.
func (c *Context) Detect() DetectResult { return c.detected }

// ReadSector reads 256 bytes from the mounted image, addressed in
// canonical physical order.
func (c *Context) ReadSector(track, sector byte) ([]byte, error) {
	return c.img.ReadSector(track, sector)
}

// WriteSector writes 256 bytes to the mounted image.
func (c *Context) WriteSector(track, sector byte, data []byte) error {
	return c.img.WriteSector(track, sector, data)
}

// ReadBlock reads 512 bytes from the mounted image.
func (c *Context) ReadBlock(block uint16) ([]byte, error) {
	return c.img.ReadBlock(block)
}

// WriteBlock writes 512 bytes to the mounted image.
func (c *Context) WriteBlock(block uint16, data []byte) error {
	return c.img.WriteBlock(block, data)
}

// splitPath divides a "/"-joined path into its directory portion (may
// be empty) and final filename component.
func splitPath(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// ReadDir lists the entries of a directory. path is empty for the root;
// DOS 3.3 rejects any non-root path since it has no subdirectories.
func (c *Context) ReadDir(path string) ([]types.Descriptor, error) {
	if path != "" && !c.op.HasSubdirs() {
		return nil, errors.BadTypef("%s does not support subdirectories", c.op.Name())
	}
	return c.op.Catalog(path)
}

// Find looks up a single entry's descriptor by path, without returning
// its data.
func (c *Context) Find(path string) (types.Descriptor, error) {
	dir, name := splitPath(path)
	entries, err := c.ReadDir(dir)
	if err != nil {
		return types.Descriptor{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return types.Descriptor{}, errors.NotFoundf("path %q not found", path)
}

// Extract returns a file's content by path. Paths with a subdirectory
// component require an operator that supports subdirectories (ProDOS);
// DOS 3.3/3.2 reject them.
func (c *Context) Extract(path string) ([]byte, error) {
	dir, _ := splitPath(path)
	if dir != "" && !c.op.HasSubdirs() {
		return nil, errors.BadTypef("extracting from a subdirectory path %q is not supported by %s", path, c.op.Name())
	}
	fi, err := c.op.GetFile(path)
	if err != nil {
		return nil, err
	}
	return fi.Data, nil
}

// Inject writes a file's content by path. Paths with a subdirectory
// component require an operator that supports subdirectories (ProDOS);
// DOS 3.3/3.2 reject them.
func (c *Context) Inject(path string, filetype types.Filetype, aux uint16, data []byte, overwrite bool) (existed bool, err error) {
	dir, _ := splitPath(path)
	if dir != "" && !c.op.HasSubdirs() {
		return false, errors.BadTypef("injecting into a subdirectory path %q is not supported by %s", path, c.op.Name())
	}
	fi := types.FileInfo{
		Descriptor:   types.Descriptor{Name: path, Type: filetype},
		Data:         data,
		StartAddress: aux,
	}
	return c.op.PutFile(fi, overwrite)
}

// Delete removes a file by path.
func (c *Context) Delete(path string) (bool, error) {
	dir, _ := splitPath(path)
	if dir != "" && !c.op.HasSubdirs() {
		return false, errors.BadTypef("deleting from a subdirectory path %q is not supported by %s", path, c.op.Name())
	}
	return c.op.Delete(path)
}

// Rename renames a file. Subdirectory-component paths require an
// operator that supports subdirectories (ProDOS).
func (c *Context) Rename(oldPath, newPath string) error {
	oldDir, _ := splitPath(oldPath)
	newDir, _ := splitPath(newPath)
	if (oldDir != "" || newDir != "") && !c.op.HasSubdirs() {
		return errors.BadTypef("renaming across subdirectory paths is not supported by %s", c.op.Name())
	}
	return c.op.Rename(oldPath, newPath)
}

// SetLocked locks or unlocks a file by path.
func (c *Context) SetLocked(path string, locked bool) error {
	dir, _ := splitPath(path)
	if dir != "" && !c.op.HasSubdirs() {
		return errors.BadTypef("locking a subdirectory path %q is not supported by %s", path, c.op.Name())
	}
	if locked {
		return c.op.Lock(path)
	}
	return c.op.Unlock(path)
}

// Mkdir creates a subdirectory. Only ProDOS operators implement this;
// DOS 3.3 returns errors.BadType.
func (c *Context) Mkdir(path string) error {
	dm, ok := c.op.(types.DirectoryMaker)
	if !ok {
		return errors.BadTypef("%s does not support subdirectories", c.op.Name())
	}
	return dm.Mkdir(path)
}

// GetFree returns the number of free sectors (DOS 3.3) or blocks
// (ProDOS) remaining on the mounted volume.
func (c *Context) GetFree() (int, error) {
	freer, ok := c.op.(interface{ GetFree() (int, error) })
	if !ok {
		return 0, errors.BadTypef("%s does not expose a free-space count", c.op.Name())
	}
	return freer.GetFree()
}

// Save returns the mounted image's bytes, converted back to its
// originally detected physical sector order, ready to be written back
// to wherever the caller sourced them from. Writing to a path is a
// file-system-level concern outside this module's scope; callers own
// that step.
func (c *Context) Save() ([]byte, error) {
	out, err := c.img.ConvertOrder(c.detected.Order)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
