package fixtures

import (
	"crypto/rand"
	"fmt"
)

// Common payload sizes
const (
	SizeKB = 1024
	SizeMB = 1024 * 1024
)

// RandomBlob returns incompressible bytes, useful for checking that a
// backup archive round-trips content exactly.
func RandomBlob(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

// RepetitiveBlob returns highly compressible bytes
func RepetitiveBlob(size int) []byte {
	pattern := []byte("func main() { fmt.Println(\"hello workspace\") }\n")
	data := make([]byte, size)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return data
}

// ProjectTree returns a small source tree keyed by volume-relative path,
// shaped like a project a workspace would mount.
func ProjectTree(modules int) map[string][]byte {
	tree := map[string][]byte{
		"README.md": []byte("# demo project\n"),
		"go.mod":    []byte("module example.com/demo\n\ngo 1.22\n"),
	}
	for i := 0; i < modules; i++ {
		path := fmt.Sprintf("internal/mod%d/mod%d.go", i, i)
		tree[path] = []byte(fmt.Sprintf("package mod%d\n\nconst ID = %d\n", i, i))
	}
	return tree
}
