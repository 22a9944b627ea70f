package rdb

import (
	"encoding/hex"
	"os"
)

// emptyFileHex is a minimal, valid, empty RDB image used to answer
// PSYNC when no dump file exists on disk yet. It is the same payload
// the original implementation this was distilled from serves in that
// situation (app/server.py get_rdb_file_contents).
const emptyFileHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

// EmptyFile returns the raw bytes of the minimal fallback snapshot.
func EmptyFile() []byte {
	decoded, err := hex.DecodeString(emptyFileHex)
	if err != nil {
		// The constant above is fixed and known-good at compile time.
		panic("rdb: invalid empty-file hex constant")
	}
	return decoded
}

// LoadRaw returns the raw bytes of the snapshot at path for re-serving
// over PSYNC, falling back to EmptyFile when the file does not exist.
func LoadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyFile(), nil
		}
		return nil, err
	}
	return data, nil
}
