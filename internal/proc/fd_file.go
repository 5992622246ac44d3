package proc

import "github.com/quark-os/quark/internal/fs"

// regularFileOps is the regular_file vtable: read/write over an inode via
// read_data, tracking the descriptor's own file position rather than the
// inode's, so two descriptors on the same file read independently.
type regularFileOps struct {
	img  *fs.Image
	desc *descriptor
}

func (f *regularFileOps) Open(string) error { return nil }
func (f *regularFileOps) Close() error      { return nil }

func (f *regularFileOps) Read(buf []byte) (int, error) {
	n, err := f.img.ReadData(f.desc.inodeRef, f.desc.filePos, buf)
	if err != nil {
		return 0, err
	}

	f.desc.filePos += uint32(n)

	return n, nil
}

func (f *regularFileOps) Write(buf []byte) (int, error) {
	return -1, fs.ErrNotFound // The file system is read-only; writes always fail.
}

// Regular-file ioctl command codes, matching SET_FILE_POS_CUR_LENGTH (seek
// to EOF) and SDM ("set delete mode", backspace mode for the file writer).
const (
	ioctlFilePosToEOF  = 1
	ioctlBackspaceMode = 2
)

// Ioctl seeks the descriptor to end-of-file, or toggles backspace mode.
func (f *regularFileOps) Ioctl(cmd int, arg uint32) (uint32, error) {
	switch cmd {
	case ioctlFilePosToEOF:
		length, err := f.img.Length(f.desc.inodeRef)
		if err != nil {
			return 0, err
		}

		f.desc.filePos = length
	case ioctlBackspaceMode:
		f.desc.backspaceMode = true
	}

	return 0, nil
}

// directoryFileOps is the directory vtable: each read returns the next
// entry's name, advancing an internal cursor, matching the reference
// dir_read's single-name-per-call behavior.
type directoryFileOps struct {
	img    *fs.Image
	cursor int
}

func (d *directoryFileOps) Open(string) error { d.cursor = 0; return nil }
func (d *directoryFileOps) Close() error      { d.cursor = 0; return nil }

func (d *directoryFileOps) Read(buf []byte) (int, error) {
	if d.cursor >= d.img.NumDentries() {
		return 0, nil
	}

	dentry, err := d.img.ReadDentryByIndex(d.cursor)
	if err != nil {
		return 0, nil
	}

	d.cursor++

	n := copy(buf, dentry.Name)

	return n, nil
}

func (d *directoryFileOps) Write(buf []byte) (int, error) {
	return -1, fs.ErrNotFound
}
