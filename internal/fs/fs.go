// Package fs reads the kernel's read-only, inode-like file-system image: a
// boot block of directory entries, followed by one 4 KiB block per inode,
// followed by the data blocks those inodes index. It is ported from the
// reference driver's read_dentry_by_name/read_dentry_by_index/read_data
// trio, expressed over a byte slice with encoding/binary instead of raw
// pointer arithmetic over a module the bootloader mapped in.
package fs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quark-os/quark/internal/log"
)

// BlockSize is the size of every block in the image: the boot block, each
// inode block, and each data block.
const BlockSize = 4096

// Layout limits fixed by the on-disk format.
const (
	MaxDirEntries       = 63
	MaxDataBlockIndices = 1023
	FilenameLen         = 32

	dentrySize    = 64 // name[32] + type(u32) + inode(u32) + reserved[24]
	bootReserved  = 52
	bootBlockSize = BlockSize
)

// FileType identifies what a directory entry refers to.
type FileType uint32

const (
	TypeRTC FileType = iota
	TypeDirectory
	TypeRegular
)

func (t FileType) String() string {
	switch t {
	case TypeRTC:
		return "rtc"
	case TypeDirectory:
		return "dir"
	case TypeRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// DirEntry is one boot-block directory entry.
type DirEntry struct {
	Name  string
	Type  FileType
	Inode uint32
}

// inode mirrors the on-disk inode: a byte length and up to 1023 data-block
// indices. Index zero is never a real block (it marks "empty slot"), and
// inode zero is reserved, matching the reference parser's data_block_flags
// bookkeeping.
type inode struct {
	length uint32
	blocks [MaxDataBlockIndices]uint32
}

// Image is a parsed, read-only file-system image.
type Image struct {
	dirEntries []DirEntry
	inodes     []inode
	data       [][BlockSize]byte

	log *log.Logger
}

var (
	// ErrNotFound is returned when no directory entry matches a name or
	// index.
	ErrNotFound = errors.New("fs: not found")

	// ErrCorrupt is returned when the image is too short or a count
	// overflows its fixed-size table.
	ErrCorrupt = errors.New("fs: corrupt image")
)

// Parse decodes a raw file-system image, validating that it is large enough
// to hold the boot block plus every inode and data block it claims to have.
func Parse(raw []byte) (*Image, error) {
	if len(raw) < bootBlockSize {
		return nil, fmt.Errorf("%w: image shorter than one block", ErrCorrupt)
	}

	r := bytes.NewReader(raw[:bootBlockSize])

	var header struct {
		DirCount   uint32
		InodeCount uint32
		DataCount  uint32
		Reserved   [bootReserved]byte
	}

	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if header.DirCount > MaxDirEntries {
		return nil, fmt.Errorf("%w: dir_count %d exceeds %d", ErrCorrupt, header.DirCount, MaxDirEntries)
	}

	dirEntries := make([]DirEntry, header.DirCount)

	for i := range dirEntries {
		buf := make([]byte, dentrySize)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("%w: dentry %d: %v", ErrCorrupt, i, err)
		}

		name := string(bytes.TrimRight(buf[:FilenameLen], "\x00"))
		typ := FileType(binary.LittleEndian.Uint32(buf[FilenameLen : FilenameLen+4]))
		ino := binary.LittleEndian.Uint32(buf[FilenameLen+4 : FilenameLen+8])

		dirEntries[i] = DirEntry{Name: name, Type: typ, Inode: ino}
	}

	inodeStart := bootBlockSize
	inodeEnd := inodeStart + int(header.InodeCount)*BlockSize

	if len(raw) < inodeEnd {
		return nil, fmt.Errorf("%w: image too short for %d inodes", ErrCorrupt, header.InodeCount)
	}

	inodes := make([]inode, header.InodeCount)

	for i := range inodes {
		block := raw[inodeStart+i*BlockSize : inodeStart+(i+1)*BlockSize]
		ir := bytes.NewReader(block)

		if err := binary.Read(ir, binary.LittleEndian, &inodes[i].length); err != nil {
			return nil, fmt.Errorf("%w: inode %d: %v", ErrCorrupt, i, err)
		}

		if err := binary.Read(ir, binary.LittleEndian, &inodes[i].blocks); err != nil {
			return nil, fmt.Errorf("%w: inode %d: %v", ErrCorrupt, i, err)
		}
	}

	dataStart := inodeEnd
	dataEnd := dataStart + int(header.DataCount)*BlockSize

	if len(raw) < dataEnd {
		return nil, fmt.Errorf("%w: image too short for %d data blocks", ErrCorrupt, header.DataCount)
	}

	data := make([][BlockSize]byte, header.DataCount)

	for i := range data {
		copy(data[i][:], raw[dataStart+i*BlockSize:dataStart+(i+1)*BlockSize])
	}

	img := &Image{dirEntries: dirEntries, inodes: inodes, data: data, log: log.DefaultLogger()}
	img.log.Debug("fs: parsed image", "dirs", len(dirEntries), "inodes", len(inodes), "data blocks", len(data))

	return img, nil
}

// ReadDentryByName finds a directory entry by exact name match.
func (img *Image) ReadDentryByName(name string) (DirEntry, error) {
	for _, d := range img.dirEntries {
		if d.Name == name {
			return d, nil
		}
	}

	return DirEntry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// ReadDentryByIndex returns the directory entry at a boot-block index.
func (img *Image) ReadDentryByIndex(index int) (DirEntry, error) {
	if index < 0 || index >= len(img.dirEntries) {
		return DirEntry{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}

	return img.dirEntries[index], nil
}

// NumDentries returns the number of directory entries in the boot block.
func (img *Image) NumDentries() int { return len(img.dirEntries) }

// ReadData copies up to len(buf) bytes of an inode's data starting at
// offset, returning the number of bytes copied. It treats inode 0 as
// reserved and a zero data-block index within the chain as "no data
// beyond this point", exactly as the reference read_data does.
func (img *Image) ReadData(inodeIndex uint32, offset uint32, buf []byte) (int, error) {
	if inodeIndex == 0 || int(inodeIndex) >= len(img.inodes) {
		return 0, fmt.Errorf("%w: inode %d", ErrNotFound, inodeIndex)
	}

	in := &img.inodes[inodeIndex]
	if offset >= in.length {
		return 0, nil
	}

	n := 0
	pos := offset

	for n < len(buf) && pos < in.length {
		blockIdx := pos / BlockSize
		if int(blockIdx) >= len(in.blocks) {
			break
		}

		dataIdx := in.blocks[blockIdx]
		if dataIdx == 0 || int(dataIdx) >= len(img.data) {
			break
		}

		withinBlock := pos % BlockSize
		chunk := img.data[dataIdx][withinBlock:]

		remaining := in.length - pos
		if uint32(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		if len(chunk) > len(buf)-n {
			chunk = chunk[:len(buf)-n]
		}

		copy(buf[n:], chunk)
		n += len(chunk)
		pos += uint32(len(chunk))
	}

	return n, nil
}

// Length returns an inode's declared byte length, used by the file
// operations to detect end-of-file.
func (img *Image) Length(inodeIndex uint32) (uint32, error) {
	if inodeIndex == 0 || int(inodeIndex) >= len(img.inodes) {
		return 0, fmt.Errorf("%w: inode %d", ErrNotFound, inodeIndex)
	}

	return img.inodes[inodeIndex].length, nil
}
