package proc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quark-os/quark/internal/fs"
)

// elfMagic is the four-byte header every loadable image must start with.
var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// ErrBadImage is returned when a named file fails the header or file-type
// check execute's step 2 requires.
var ErrBadImage = errors.New("proc: bad executable image")

// image is a validated, loaded program: its entry point and the raw bytes
// a real loader would copy into the user super-page.
type image struct {
	entry uint32
	data  []byte
}

// loadImage looks up filename in the file-system image, validates its
// header and type, and extracts its declared entry point, mirroring
// execute's steps 2 and 6. The file's actual bytes beyond the header carry
// no meaning this simulator interprets — there is no x86 decoder here —
// but they are read in full since a real loader would copy all of them
// into the user super-page.
func loadImage(img *fs.Image, filename string) (image, error) {
	dentry, err := img.ReadDentryByName(filename)
	if err != nil {
		return image{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	if dentry.Type != fs.TypeRegular {
		return image{}, fmt.Errorf("%w: %q is not a regular file", ErrBadImage, filename)
	}

	length, err := img.Length(dentry.Inode)
	if err != nil {
		return image{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	if length < 28 {
		return image{}, fmt.Errorf("%w: %q shorter than an ELF header", ErrBadImage, filename)
	}

	data := make([]byte, length)

	if _, err := img.ReadData(dentry.Inode, 0, data); err != nil {
		return image{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	if [4]byte(data[:4]) != elfMagic {
		return image{}, fmt.Errorf("%w: %q missing ELF magic", ErrBadImage, filename)
	}

	entry := binary.LittleEndian.Uint32(data[24:28])

	return image{entry: entry, data: data}, nil
}
