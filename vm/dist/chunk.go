// Package dist implements the on-disk form of compiled programs. An image
// carries the instruction sequence plus a content hash so a program can be
// compiled once, cached, and run later without its source.
package dist

import (
	"crypto/sha256"

	"github.com/chazu/tape/vm"
)

// ImageMagic identifies a tape image.
const ImageMagic = "TAPE"

// ImageVersion is the current image format version.
const ImageVersion uint8 = 1

// ImageExt is the file extension used for images on disk.
const ImageExt = ".tapei"

// Image is a compiled program ready to run.
type Image struct {
	Magic      string           `cbor:"1,keyasint"`
	Version    uint8            `cbor:"2,keyasint"`
	SourceHash [32]byte         `cbor:"3,keyasint"`           // SHA-256 of the source bytes
	CodeHash   [32]byte         `cbor:"4,keyasint"`           // ContentHash of Code
	Code       []vm.Instruction `cbor:"5,keyasint"`
	Source     string           `cbor:"6,keyasint,omitempty"` // optional, for inspection
}

// NewImage builds an image for p compiled from src. When includeSource is
// false only the hash of src is kept.
func NewImage(p *vm.Program, src []byte, includeSource bool) (*Image, error) {
	codeHash, err := ContentHash(p)
	if err != nil {
		return nil, err
	}
	img := &Image{
		Magic:      ImageMagic,
		Version:    ImageVersion,
		SourceHash: SourceHash(src),
		CodeHash:   codeHash,
		Code:       p.Code,
	}
	if includeSource {
		img.Source = string(src)
	}
	return img, nil
}

// Program returns the image's instructions as a Program.
func (img *Image) Program() *vm.Program {
	return vm.NewProgram(img.Code)
}

// SourceHash returns the SHA-256 of program source bytes. It is the key the
// compile cache uses.
func SourceHash(src []byte) [32]byte {
	return sha256.Sum256(src)
}

// ContentHash returns the SHA-256 of the canonical encoding of p's
// instructions. Sources that differ only in commentary hash the same.
func ContentHash(p *vm.Program) ([32]byte, error) {
	data, err := cborEncMode.Marshal(p.Code)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
