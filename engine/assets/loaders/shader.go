package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
)

const spirvMagic = 0x07230203

// ShaderLoader reads a SPIR-V module. Data is a []uint32.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := bytesToBytecode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// bytesToBytecode reinterprets a little-endian SPIR-V file as words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a positive multiple of 4", len(b))
	}
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if byteCode[0] != spirvMagic {
		return nil, fmt.Errorf("bad SPIR-V magic %#08x", byteCode[0])
	}
	return byteCode, nil
}
