package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextPacksParagraphs(t *testing.T) {
	text := "Primer párrafo.\n\nSegundo párrafo.\n\n\nTercer párrafo."
	chunks := ChunkText("faq.md", text, 40, map[string]string{"lang": "es"})

	require.Len(t, chunks, 2)
	assert.Equal(t, "faq.md#0", chunks[0].ID)
	assert.Equal(t, "Primer párrafo.\n\nSegundo párrafo.", chunks[0].Content)
	assert.Equal(t, "Tercer párrafo.", chunks[1].Content)
	assert.Equal(t, "faq.md", chunks[1].Metadata["source"])
	assert.Equal(t, "1", chunks[1].Metadata["chunk"])
	assert.Equal(t, "es", chunks[1].Metadata["lang"])
}

func TestChunkTextSplitsLongParagraphs(t *testing.T) {
	text := strings.Repeat("palabra ", 100)
	chunks := ChunkText("long.txt", text, 50, nil)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 50)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "servicios.md"), []byte("Servicios de IA.\n\nAutomatización."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "horario.txt"), []byte("Horario: 9 a 18."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 0x50}, 0o644))

	chunks, files, err := LoadDirectory(dir, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	require.Len(t, chunks, 2)
	assert.Equal(t, "servicios.md#0", chunks[0].ID)
	assert.Equal(t, "sub/horario.txt#0", chunks[1].ID)
}

func TestLoadDirectoryMissing(t *testing.T) {
	chunks, files, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"), 1000)
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Empty(t, chunks)
}
