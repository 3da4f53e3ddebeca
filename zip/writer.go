package zip

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// ZipWriter writes stored (uncompressed) entries followed by the central
// directory. Entries are written in the order they are added.
type ZipWriter struct {
	w      *countWriter
	opts   Options
	files  []fileRecord
	names  map[string]struct{}
	closed bool
}

type fileRecord struct {
	name              string
	flags             uint16
	modTime           uint16
	modDate           uint16
	crc32             uint32
	size              uint32
	externalAttrs     uint32
	localHeaderOffset int64
}

// countWriter tracks the absolute offset so header offsets never have to be
// recomputed by hand.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

func NewZipWriter(w io.Writer, opts ...Options) *ZipWriter {
	zw := &ZipWriter{
		w:     &countWriter{w: w},
		files: make([]fileRecord, 0),
		names: make(map[string]struct{}),
	}
	if len(opts) > 0 {
		zw.opts = opts[0]
	}
	return zw
}

// Offset returns the number of bytes written so far.
func (zw *ZipWriter) Offset() int64 {
	return zw.w.count
}

// needsUTF8 reports whether the name has to be flagged as UTF-8. Plain ASCII
// reads the same under CP-437.
func needsUTF8(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return utf8.ValidString(s)
		}
	}
	return false
}

func timeToMSDos(t time.Time) (uint16, uint16) {
	year := t.Year() - 1980
	if year < 0 {
		// MS-DOS time starts at 1980-01-01 00:00.
		return 0, 1<<5 | 1
	}
	if year > 127 {
		year = 127
	}
	dosDate := uint16(year<<9 | int(t.Month())<<5 | t.Day())
	dosTime := uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return dosTime, dosDate
}

func (zw *ZipWriter) checkName(name string) error {
	if zw.closed {
		return ErrClosed
	}
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > maxUint16 {
		return ErrNameTooLong
	}
	if _, ok := zw.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	if len(zw.files) >= maxUint16 {
		return ErrTooMany
	}
	return nil
}

// AddFile appends one stored entry. A nil data slice is an empty file.
func (zw *ZipWriter) AddFile(name string, data []byte) error {
	if err := zw.checkName(name); err != nil {
		return err
	}
	if int64(len(data)) >= maxUint32 {
		return ErrTooLarge
	}
	return zw.add(name, data, regularFile)
}

// AddDir appends a directory entry. A trailing slash is added if missing.
func (zw *ZipWriter) AddDir(name string) error {
	if name != "" && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	if err := zw.checkName(name); err != nil {
		return err
	}
	return zw.add(name, nil, directoryFile)
}

func (zw *ZipWriter) add(name string, data []byte, attrs uint32) error {
	headerOffset := zw.w.count
	if headerOffset > maxUint32 {
		return ErrTooLarge
	}

	var crc uint32
	if zw.opts.CRC == CRCCompute {
		crc = crc32.ChecksumIEEE(data)
	}

	var flags uint16
	if needsUTF8(name) {
		flags |= flagUTF8
	}

	modTime, modDate := timeToMSDos(zw.opts.Modified)
	size := uint32(len(data))

	if err := binary.Write(zw.w, binary.LittleEndian, uint32(LocalFileHeaderSignature)); err != nil {
		return err
	}
	fixed := localFixed{
		VersionNeeded:     versionNeeded,
		Flags:             flags,
		CompressionMethod: Store,
		LastModTime:       modTime,
		LastModDate:       modDate,
		CRC32:             crc,
		CompressedSize:    size, // stored: compressed == uncompressed
		UncompressedSize:  size,
		FilenameLength:    uint16(len(name)),
	}
	if err := binary.Write(zw.w, binary.LittleEndian, &fixed); err != nil {
		return err
	}
	if _, err := io.WriteString(zw.w, name); err != nil {
		return err
	}
	if _, err := zw.w.Write(data); err != nil {
		return err
	}

	zw.files = append(zw.files, fileRecord{
		name:              name,
		flags:             flags,
		modTime:           modTime,
		modDate:           modDate,
		crc32:             crc,
		size:              size,
		externalAttrs:     attrs,
		localHeaderOffset: headerOffset,
	})
	zw.names[name] = struct{}{}
	return nil
}

// Close writes the central directory and the end of central directory
// record. It does not close the underlying writer.
func (zw *ZipWriter) Close() error {
	if zw.closed {
		return ErrClosed
	}
	zw.closed = true

	centralDirOffset := zw.w.count
	if centralDirOffset > maxUint32 {
		return ErrTooLarge
	}

	for _, file := range zw.files {
		if err := binary.Write(zw.w, binary.LittleEndian, uint32(CentralDirectorySignature)); err != nil {
			return err
		}
		fixed := centralFixed{
			VersionMadeBy:      versionMadeBy,
			VersionNeeded:      versionNeeded,
			Flags:              file.flags,
			CompressionMethod:  Store,
			LastModTime:        file.modTime,
			LastModDate:        file.modDate,
			CRC32:              file.crc32,
			CompressedSize:     file.size,
			UncompressedSize:   file.size,
			FilenameLength:     uint16(len(file.name)),
			ExternalAttributes: file.externalAttrs,
			LocalHeaderOffset:  uint32(file.localHeaderOffset),
		}
		if err := binary.Write(zw.w, binary.LittleEndian, &fixed); err != nil {
			return err
		}
		if _, err := io.WriteString(zw.w, file.name); err != nil {
			return err
		}
	}

	centralDirSize := zw.w.count - centralDirOffset
	if centralDirSize > maxUint32 {
		return ErrTooLarge
	}

	if err := binary.Write(zw.w, binary.LittleEndian, uint32(EndOfCentralDirectorySignature)); err != nil {
		return err
	}
	eocd := eocdFixed{
		EntriesOnDisk:    uint16(len(zw.files)),
		TotalEntries:     uint16(len(zw.files)),
		CentralDirSize:   uint32(centralDirSize),
		CentralDirOffset: uint32(centralDirOffset),
	}
	return binary.Write(zw.w, binary.LittleEndian, &eocd)
}
