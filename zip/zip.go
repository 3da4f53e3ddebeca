package zip

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// CRCStatus is the outcome of checking one entry's CRC-32.
type CRCStatus int

const (
	CRCValid CRCStatus = iota
	// CRCNotSet means the header holds 0 for a non-empty entry. Placeholder
	// archives written with CRCZero look like this.
	CRCNotSet
	CRCMismatch
)

func (s CRCStatus) String() string {
	switch s {
	case CRCValid:
		return "ok"
	case CRCNotSet:
		return "crc not set"
	case CRCMismatch:
		return "crc mismatch"
	default:
		return "unknown"
	}
}

// Entry is one archived file as seen from both of its headers.
type Entry struct {
	Central       CentralDirectoryHeader
	Local         LocalFileHeader
	CentralOffset int64 // start of the central directory header
	DataOffset    int64 // first byte of the file data
}

// Name returns the entry name from the central directory.
func (e *Entry) Name() string {
	return e.Central.Filename
}

// Archive is a parsed ZIP file. Only the headers are held in memory; entry
// data is read on demand from the underlying ReaderAt.
type Archive struct {
	r          io.ReaderAt
	Size       int64
	EOCD       EndOfCentralDirectory
	EOCDOffset int64
	Entries    []Entry
}

func readAt(r io.ReaderAt, offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, offset)
	if read == n {
		return buf, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated at offset %d", ErrFormat, offset)
		}
		return nil, err
	}
	return nil, io.ErrShortBuffer
}

func findEOCD(r io.ReaderAt, size int64) (int64, error) {
	if size < EOCDMinSize {
		return 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	maxCommentSize := int64(65535) // 64K - 1
	searchStart := size - EOCDMinSize - maxCommentSize
	if searchStart < 0 {
		searchStart = 0
	}

	buf, err := readAt(r, searchStart, int(size-searchStart))
	if err != nil {
		return 0, err
	}

	// Search backwards for a signature whose comment length reaches exactly
	// to the end of the file. Comments may themselves contain the signature.
	signature := []byte{0x50, 0x4b, 0x05, 0x06}
	for end := len(buf); end > 0; {
		sigPos := bytes.LastIndex(buf[:end], signature)
		if sigPos < 0 {
			break
		}
		if sigPos+EOCDMinSize <= len(buf) {
			commentLen := int(binary.LittleEndian.Uint16(buf[sigPos+20:]))
			if sigPos+EOCDMinSize+commentLen == len(buf) {
				return searchStart + int64(sigPos), nil
			}
		}
		end = sigPos
	}
	return 0, ErrNoEOCD
}

func parseEOCD(r io.ReaderAt, offset int64) (*EndOfCentralDirectory, error) {
	buf, err := readAt(r, offset, EOCDMinSize)
	if err != nil {
		return nil, err
	}

	var fixed eocdFixed
	if err := binary.Read(bytes.NewReader(buf[4:]), binary.LittleEndian, &fixed); err != nil {
		return nil, err
	}

	eocd := &EndOfCentralDirectory{
		DiskNumber:       fixed.DiskNumber,
		DiskWithCDStart:  fixed.DiskWithCDStart,
		EntriesOnDisk:    fixed.EntriesOnDisk,
		TotalEntries:     fixed.TotalEntries,
		CentralDirSize:   fixed.CentralDirSize,
		CentralDirOffset: fixed.CentralDirOffset,
		CommentLength:    fixed.CommentLength,
	}

	if eocd.CommentLength > 0 {
		comment, err := readAt(r, offset+EOCDMinSize, int(eocd.CommentLength))
		if err != nil {
			return nil, err
		}
		eocd.Comment = string(comment)
	}

	return eocd, nil
}

func readCentralDirectoryEntry(r io.ReaderAt, offset int64) (*CentralDirectoryHeader, int64, error) {
	buf, err := readAt(r, offset, CentralDirHeaderSize)
	if err != nil {
		return nil, 0, err
	}

	if signature := binary.LittleEndian.Uint32(buf); signature != CentralDirectorySignature {
		return nil, 0, fmt.Errorf("%w: invalid central directory signature %x at offset %d", ErrFormat, signature, offset)
	}

	var fixed centralFixed
	if err := binary.Read(bytes.NewReader(buf[4:]), binary.LittleEndian, &fixed); err != nil {
		return nil, 0, err
	}

	cd := &CentralDirectoryHeader{
		VersionMadeBy:      fixed.VersionMadeBy,
		VersionNeeded:      fixed.VersionNeeded,
		Flags:              fixed.Flags,
		CompressionMethod:  fixed.CompressionMethod,
		LastModTime:        fixed.LastModTime,
		LastModDate:        fixed.LastModDate,
		CRC32:              fixed.CRC32,
		CompressedSize:     fixed.CompressedSize,
		UncompressedSize:   fixed.UncompressedSize,
		FilenameLength:     fixed.FilenameLength,
		ExtraFieldLength:   fixed.ExtraFieldLength,
		CommentLength:      fixed.CommentLength,
		DiskNumberStart:    fixed.DiskNumberStart,
		InternalAttributes: fixed.InternalAttributes,
		ExternalAttributes: fixed.ExternalAttributes,
		LocalHeaderOffset:  fixed.LocalHeaderOffset,
	}

	// Variable part: name, extra field, comment.
	varLen := int(cd.FilenameLength) + int(cd.ExtraFieldLength) + int(cd.CommentLength)
	tail, err := readAt(r, offset+CentralDirHeaderSize, varLen)
	if err != nil {
		return nil, 0, err
	}
	nameEnd := int(cd.FilenameLength)
	extraEnd := nameEnd + int(cd.ExtraFieldLength)
	cd.Filename = string(tail[:nameEnd])
	cd.ExtraField = tail[nameEnd:extraEnd]
	cd.Comment = string(tail[extraEnd:])

	return cd, offset + CentralDirHeaderSize + int64(varLen), nil
}

func readLocalFileHeader(r io.ReaderAt, offset int64) (*LocalFileHeader, int64, error) {
	buf, err := readAt(r, offset, LocalFileHeaderSize)
	if err != nil {
		return nil, 0, err
	}

	if signature := binary.LittleEndian.Uint32(buf); signature != LocalFileHeaderSignature {
		return nil, 0, fmt.Errorf("%w: invalid local file header signature %x at offset %d", ErrFormat, signature, offset)
	}

	var fixed localFixed
	if err := binary.Read(bytes.NewReader(buf[4:]), binary.LittleEndian, &fixed); err != nil {
		return nil, 0, err
	}

	lh := &LocalFileHeader{
		VersionNeeded:     fixed.VersionNeeded,
		Flags:             fixed.Flags,
		CompressionMethod: fixed.CompressionMethod,
		LastModTime:       fixed.LastModTime,
		LastModDate:       fixed.LastModDate,
		CRC32:             fixed.CRC32,
		CompressedSize:    fixed.CompressedSize,
		UncompressedSize:  fixed.UncompressedSize,
		FilenameLength:    fixed.FilenameLength,
		ExtraFieldLength:  fixed.ExtraFieldLength,
	}

	varLen := int(lh.FilenameLength) + int(lh.ExtraFieldLength)
	tail, err := readAt(r, offset+LocalFileHeaderSize, varLen)
	if err != nil {
		return nil, 0, err
	}
	lh.Filename = string(tail[:lh.FilenameLength])
	lh.ExtraField = tail[lh.FilenameLength:]

	return lh, offset + LocalFileHeaderSize + int64(varLen), nil
}

// Inspect parses the end record, every central directory header and the
// local header each one points at.
func Inspect(r io.ReaderAt, size int64) (*Archive, error) {
	eocdPos, err := findEOCD(r, size)
	if err != nil {
		return nil, err
	}

	eocd, err := parseEOCD(r, eocdPos)
	if err != nil {
		return nil, err
	}

	cdEnd := int64(eocd.CentralDirOffset) + int64(eocd.CentralDirSize)
	if cdEnd > eocdPos {
		return nil, fmt.Errorf("%w: central directory [%d, %d) overlaps end record at %d",
			ErrFormat, eocd.CentralDirOffset, cdEnd, eocdPos)
	}

	a := &Archive{
		r:          r,
		Size:       size,
		EOCD:       *eocd,
		EOCDOffset: eocdPos,
		Entries:    make([]Entry, 0, eocd.TotalEntries),
	}

	offset := int64(eocd.CentralDirOffset)
	for i := 0; i < int(eocd.TotalEntries); i++ {
		if offset >= eocdPos {
			return nil, fmt.Errorf("%w: %d central directory entries declared, found %d",
				ErrFormat, eocd.TotalEntries, i)
		}
		cd, nextOffset, err := readCentralDirectoryEntry(r, offset)
		if err != nil {
			return nil, err
		}

		lh, dataOffset, err := readLocalFileHeader(r, int64(cd.LocalHeaderOffset))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", cd.Filename, err)
		}

		// With a data descriptor the local sizes may be zero; the central
		// directory has the real ones.
		if lh.CompressedSize == 0 && lh.Flags&flagDataDesc != 0 {
			lh.CompressedSize = cd.CompressedSize
			lh.UncompressedSize = cd.UncompressedSize
			lh.CRC32 = cd.CRC32
		}

		a.Entries = append(a.Entries, Entry{
			Central:       *cd,
			Local:         *lh,
			CentralOffset: offset,
			DataOffset:    dataOffset,
		})
		offset = nextOffset
	}

	return a, nil
}

// Lookup returns the entry with the given name.
func (a *Archive) Lookup(name string) (*Entry, error) {
	for i := range a.Entries {
		if a.Entries[i].Name() == name {
			return &a.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Open returns the uncompressed content of the named entry.
func (a *Archive) Open(name string) ([]byte, error) {
	e, err := a.Lookup(name)
	if err != nil {
		return nil, err
	}
	return a.read(e)
}

func (a *Archive) read(e *Entry) ([]byte, error) {
	if e.DataOffset+int64(e.Central.CompressedSize) > a.Size {
		return nil, fmt.Errorf("%w: data of %q runs past end of file", ErrFormat, e.Name())
	}
	raw, err := readAt(a.r, e.DataOffset, int(e.Central.CompressedSize))
	if err != nil {
		return nil, err
	}

	switch e.Central.CompressionMethod {
	case Store:
		return raw, nil
	case Deflate:
		reader := flate.NewReader(bytes.NewReader(raw))
		defer reader.Close()

		// One byte past the declared size is enough to detect a lie.
		decompressed, err := io.ReadAll(io.LimitReader(reader, int64(e.Central.UncompressedSize)+1))
		if err != nil {
			return nil, err
		}
		if len(decompressed) != int(e.Central.UncompressedSize) {
			return nil, fmt.Errorf("%w: size mismatch for %q: got %d, expected %d",
				ErrFormat, e.Name(), len(decompressed), e.Central.UncompressedSize)
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: %d for %q", ErrMethod, e.Central.CompressionMethod, e.Name())
	}
}

// CheckCRC reads the entry and compares its CRC-32 with the central header.
func (a *Archive) CheckCRC(e *Entry) (CRCStatus, error) {
	data, err := a.read(e)
	if err != nil {
		return CRCMismatch, err
	}
	sum := crc32.ChecksumIEEE(data)
	switch {
	case sum == e.Central.CRC32:
		return CRCValid, nil
	case e.Central.CRC32 == 0:
		return CRCNotSet, nil
	default:
		return CRCMismatch, nil
	}
}

// Gap is a run of bytes that belongs to no entry. Signed APKs carry their
// signing block in the gap before the central directory.
type Gap struct {
	Offset int64
	Size   int64
	Before string // entry name, or "central directory"
}

// Gaps returns the unclaimed byte ranges before the first local header and
// between the last entry and the central directory. Verify accepts both.
func (a *Archive) Gaps() []Gap {
	var gaps []Gap
	if len(a.Entries) == 0 {
		if off := int64(a.EOCD.CentralDirOffset); off > 0 {
			gaps = append(gaps, Gap{Offset: 0, Size: off, Before: "central directory"})
		}
		return gaps
	}
	first := &a.Entries[0]
	if off := int64(first.Central.LocalHeaderOffset); off > 0 {
		gaps = append(gaps, Gap{Offset: 0, Size: off, Before: first.Name()})
	}
	last := &a.Entries[len(a.Entries)-1]
	if last.Local.Flags&flagDataDesc != 0 {
		return gaps
	}
	end := last.DataOffset + int64(last.Central.CompressedSize)
	if off := int64(a.EOCD.CentralDirOffset); off > end {
		gaps = append(gaps, Gap{Offset: end, Size: off - end, Before: "central directory"})
	}
	return gaps
}

// Verify checks the byte layout: entries sit back to back without
// overlapping, both headers agree, stored sizes match, the central directory
// does not overlap the last entry and ends at the end record, and the entry
// counts agree. Leading bytes and a gap before the central directory are
// allowed; Gaps lists them. Every violation is reported.
func (a *Archive) Verify() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrLayout}, args...)...))
	}

	eocd := a.EOCD
	if eocd.EntriesOnDisk != eocd.TotalEntries {
		fail("entries on disk %d, total entries %d", eocd.EntriesOnDisk, eocd.TotalEntries)
	}
	if int(eocd.TotalEntries) != len(a.Entries) {
		fail("end record declares %d entries, central directory has %d", eocd.TotalEntries, len(a.Entries))
	}

	// expectLocal < 0: nothing to compare against (first entry, or the
	// previous entry used a data descriptor).
	expectLocal, cdSize := int64(-1), int64(0)
	for i := range a.Entries {
		e := &a.Entries[i]
		c, l := &e.Central, &e.Local

		if expectLocal >= 0 && int64(c.LocalHeaderOffset) != expectLocal {
			fail("%q: local header offset %d, previous data ends at %d", c.Filename, c.LocalHeaderOffset, expectLocal)
		}
		if l.Filename != c.Filename {
			fail("local name %q, central name %q", l.Filename, c.Filename)
		}
		if l.CompressionMethod != c.CompressionMethod {
			fail("%q: local method %d, central method %d", c.Filename, l.CompressionMethod, c.CompressionMethod)
		}
		if l.CompressedSize != c.CompressedSize || l.UncompressedSize != c.UncompressedSize {
			fail("%q: local sizes %d/%d, central sizes %d/%d", c.Filename,
				l.CompressedSize, l.UncompressedSize, c.CompressedSize, c.UncompressedSize)
		}
		if l.CRC32 != c.CRC32 {
			fail("%q: local crc %08x, central crc %08x", c.Filename, l.CRC32, c.CRC32)
		}
		if c.CompressionMethod == Store && c.CompressedSize != c.UncompressedSize {
			fail("%q: stored entry with compressed size %d != uncompressed size %d",
				c.Filename, c.CompressedSize, c.UncompressedSize)
		}

		status, err := a.CheckCRC(e)
		switch {
		case err != nil:
			errs = append(errs, err)
		case status == CRCMismatch:
			errs = append(errs, fmt.Errorf("%w: %q", ErrChecksum, c.Filename))
		}

		expectLocal = e.DataOffset + int64(c.CompressedSize)
		if l.Flags&flagDataDesc != 0 {
			expectLocal = -1 // descriptor length varies; stop checking contiguity
		}
		cdSize += CentralDirHeaderSize + int64(c.FilenameLength) + int64(c.ExtraFieldLength) + int64(c.CommentLength)
	}

	if expectLocal >= 0 && int64(eocd.CentralDirOffset) < expectLocal {
		fail("central directory offset %d overlaps last entry ending at %d", eocd.CentralDirOffset, expectLocal)
	}
	if int64(eocd.CentralDirSize) != cdSize {
		fail("central directory size %d, headers occupy %d", eocd.CentralDirSize, cdSize)
	}
	if end := int64(eocd.CentralDirOffset) + int64(eocd.CentralDirSize); end != a.EOCDOffset {
		fail("central directory ends at %d, end record at %d", end, a.EOCDOffset)
	}

	return errors.Join(errs...)
}

// InspectBytes is Inspect over an in-memory archive.
func InspectBytes(b []byte) (*Archive, error) {
	return Inspect(bytes.NewReader(b), int64(len(b)))
}
