package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const defaultChunkSize = 1000

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// Chunk is one indexed piece of a source document.
type Chunk struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]string
}

// LoadDirectory reads every .txt and .md file under dir and splits it into chunks.
// A missing directory yields no chunks.
func LoadDirectory(dir string, chunkSize int) ([]Chunk, int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var chunks []Chunk
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		chunks = append(chunks, ChunkText(filepath.ToSlash(rel), string(raw), chunkSize, nil)...)
	}
	return chunks, len(paths), nil
}

// ChunkText packs paragraphs into chunks of at most chunkSize runes. Paragraphs
// longer than a chunk are split on word boundaries.
func ChunkText(source, text string, chunkSize int, metadata map[string]string) []Chunk {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var pieces []string
	for _, p := range paragraphSplit.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pieces = append(pieces, splitLong(p, chunkSize)...)
	}

	var (
		chunks  []Chunk
		current strings.Builder
	)
	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return
		}
		idx := len(chunks)
		meta := map[string]string{"source": source, "chunk": strconv.Itoa(idx)}
		for k, v := range metadata {
			meta[k] = v
		}
		chunks = append(chunks, Chunk{
			ID:       source + "#" + strconv.Itoa(idx),
			Source:   source,
			Content:  content,
			Metadata: meta,
		})
	}

	for _, p := range pieces {
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+2+utf8.RuneCountInString(p) > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func splitLong(p string, chunkSize int) []string {
	if utf8.RuneCountInString(p) <= chunkSize {
		return []string{p}
	}
	var (
		out []string
		b   strings.Builder
	)
	for _, w := range strings.Fields(p) {
		if b.Len() > 0 && utf8.RuneCountInString(b.String())+1+utf8.RuneCountInString(w) > chunkSize {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
