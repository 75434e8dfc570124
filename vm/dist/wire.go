package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tape/vm"
)

// cborEncMode uses canonical mode so identical programs encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes an Image to CBOR bytes.
func MarshalImage(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes an Image from CBOR bytes and checks that it
// holds a well-formed program.
func UnmarshalImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("dist: not a tape image (magic %q)", img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("dist: unsupported image version %d (want %d)", img.Version, ImageVersion)
	}
	if err := img.Program().Validate(); err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	computed, err := ContentHash(img.Program())
	if err != nil {
		return nil, fmt.Errorf("dist: hash image code: %w", err)
	}
	if computed != img.CodeHash {
		return nil, fmt.Errorf("dist: code hash mismatch: declared %x, computed %x", img.CodeHash, computed)
	}
	return &img, nil
}

// VerifyImageSource recompiles the source embedded in img and checks that
// it produces the same code.
//
// The compile function is injected so that dist does not depend on the
// compiler package.
func VerifyImageSource(img *Image, compile func(src []byte) (*vm.Program, error)) error {
	if img.Source == "" {
		return fmt.Errorf("dist: image carries no source")
	}
	src := []byte(img.Source)
	if SourceHash(src) != img.SourceHash {
		return fmt.Errorf("dist: source hash mismatch")
	}
	p, err := compile(src)
	if err != nil {
		return fmt.Errorf("dist: compile failed: %w", err)
	}
	computed, err := ContentHash(p)
	if err != nil {
		return err
	}
	if computed != img.CodeHash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", img.CodeHash, computed)
	}
	return nil
}
