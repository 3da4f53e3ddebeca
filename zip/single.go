package zip

import "bytes"

// SingleEntrySize is the exact length of the archive BuildSingleEntry
// produces for a name and content of the given lengths.
func SingleEntrySize(nameLen, contentLen int) int {
	return LocalFileHeaderSize + nameLen + contentLen + CentralDirHeaderSize + nameLen + EOCDMinSize
}

// BuildSingleEntry returns a complete archive holding one stored entry.
//
// The layout is fixed: local header at 0, content right after the name,
// one central header at 30+len(name)+len(content), then the end record with
// a central directory size of 46+len(name). The buffer is sized up front, so
// there is no fixed capacity to overflow.
func BuildSingleEntry(entryName string, entryContent []byte, opts ...Options) ([]byte, error) {
	if int64(len(entryContent)) >= maxUint32 {
		return nil, ErrTooLarge
	}

	var buf bytes.Buffer
	buf.Grow(SingleEntrySize(len(entryName), len(entryContent)))

	zw := NewZipWriter(&buf, opts...)
	if err := zw.AddFile(entryName, entryContent); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
