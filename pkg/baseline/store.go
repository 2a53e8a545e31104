package baseline

import (
	"fmt"
	"os"
	"path/filepath"
)

const baselineDirPerm = 0o750

// Save writes base to dir/name with the codec's extension appended, creating
// dir if needed, and returns the full path.
func Save(dir, name string, codec Codec, base *Baseline) (string, error) {
	if err := os.MkdirAll(dir, baselineDirPerm); err != nil {
		return "", fmt.Errorf("baseline: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, name+codec.Extension())
	if err := WriteFile(path, codec, base); err != nil {
		return "", err
	}

	return path, nil
}

// Load reads the baseline at dir/name with the codec's extension appended.
func Load(dir, name string, codec Codec) (*Baseline, error) {
	return ReadFile(filepath.Join(dir, name+codec.Extension()), codec)
}

// WriteFile writes base to path with codec.
func WriteFile(path string, codec Codec, base *Baseline) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("baseline: create %s: %w", path, err)
	}

	if err := codec.Encode(file, base); err != nil {
		file.Close()

		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("baseline: close %s: %w", path, err)
	}

	return nil
}

// ReadFile reads the baseline at path with codec.
func ReadFile(path string, codec Codec) (*Baseline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("baseline: open %s: %w", path, err)
	}
	defer file.Close()

	return codec.Decode(file)
}

// CodecForPath picks the codec matching path's extension: the binary codec
// for its own extension, the JSON codec for everything else.
func CodecForPath(path string) Codec {
	if filepath.Ext(path) == (BinaryCodec{}).Extension() {
		return BinaryCodec{}
	}

	return JSONCodec{}
}
