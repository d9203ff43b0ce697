package archive

import "strings"

// compressedTarSuffixes maps the supported compressed tar spellings to
// the extension reported in the X-Compressed-Tar-Ext header. ".tgz" is
// a whole-suffix replacement for ".tar", the others just append.
var compressedTarSuffixes = []struct {
	suffix string
	ext    string
}{
	{".tar.gz", ".gz"},
	{".tgz", ".tgz"},
	{".tar.bz2", ".bz2"},
	{".tar.xz", ".xz"},
}

// IsTar reports whether path names a plain tar archive.
func IsTar(path string) bool {
	return strings.HasSuffix(path, ".tar")
}

// NormalizeTar resolves a request path to the logical tar it denotes.
// A plain .tar maps to itself with an empty ext. A compressed tar maps
// to its decompressed name plus the extension needed to find the
// stored object again. ok is false for anything else.
func NormalizeTar(path string) (tarPath, ext string, ok bool) {
	if IsTar(path) {
		return path, "", true
	}
	for _, s := range compressedTarSuffixes {
		if !strings.HasSuffix(path, s.suffix) {
			continue
		}
		if s.ext == ".tgz" {
			return strings.TrimSuffix(path, ".tgz") + ".tar", s.ext, true
		}
		return strings.TrimSuffix(path, s.ext), s.ext, true
	}
	return "", "", false
}
