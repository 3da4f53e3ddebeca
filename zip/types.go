package zip

import (
	"errors"
	"time"
)

const (
	EOCDMinSize                    = 22
	LocalFileHeaderSignature       = 0x04034b50
	CentralDirectorySignature      = 0x02014b50
	EndOfCentralDirectorySignature = 0x06054b50

	// Fixed header sizes including the signature.
	LocalFileHeaderSize  = 30
	CentralDirHeaderSize = 46

	// Store is the only compression method this package writes. Deflate is
	// understood when inspecting archives built by real toolchains.
	Store   = 0
	Deflate = 8

	versionNeeded = 20
	versionMadeBy = 0x0314 // Unix, version 2.0
	flagUTF8      = 0x0800
	flagDataDesc  = 0x0008
	regularFile   = 0x81A40000 // Unix regular file, 644 permissions
	directoryFile = 0x41ED0010 // Unix directory, 755 permissions, MS-DOS dir bit

	maxUint16 = 1<<16 - 1
	maxUint32 = 1<<32 - 1
)

var (
	ErrEmptyName   = errors.New("zip: entry name is empty")
	ErrNameTooLong = errors.New("zip: entry name is too long (max 65535 bytes)")
	ErrTooLarge    = errors.New("zip: archive exceeds ZIP32 limits")
	ErrTooMany     = errors.New("zip: too many entries (max 65535)")
	ErrClosed      = errors.New("zip: writer is closed")
	ErrDuplicate   = errors.New("zip: duplicate entry name")
	ErrNoEOCD      = errors.New("zip: end of central directory not found")
	ErrFormat      = errors.New("zip: not a valid zip file")
	ErrNotFound    = errors.New("zip: entry not found")
	ErrMethod      = errors.New("zip: unsupported compression method")
	ErrLayout      = errors.New("zip: layout mismatch")
	ErrChecksum    = errors.New("zip: checksum error")
)

// CRCMode selects what goes into the CRC-32 fields.
type CRCMode int

const (
	// CRCCompute writes the real IEEE CRC-32 of each entry.
	CRCCompute CRCMode = iota
	// CRCZero leaves every CRC-32 field as 0, matching the placeholder
	// archives the old build scripts produced. Strict unzip tools reject them.
	CRCZero
)

func (m CRCMode) String() string {
	switch m {
	case CRCCompute:
		return "compute"
	case CRCZero:
		return "zero"
	default:
		return "unknown"
	}
}

// ParseCRCMode accepts "compute" or "zero". An empty string means compute.
func ParseCRCMode(s string) (CRCMode, error) {
	switch s {
	case "", "compute":
		return CRCCompute, nil
	case "zero":
		return CRCZero, nil
	default:
		return CRCCompute, errors.New("zip: unknown crc mode " + s)
	}
}

// Options controls the metadata the writer stamps on every entry.
type Options struct {
	// Modified is stored as the MS-DOS mod time/date. The zero value stores
	// 1980-01-01 00:00, so identical input gives identical bytes.
	Modified time.Time
	CRC      CRCMode
}

type LocalFileHeader struct {
	VersionNeeded     uint16
	Flags             uint16
	CompressionMethod uint16
	LastModTime       uint16
	LastModDate       uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FilenameLength    uint16
	ExtraFieldLength  uint16
	Filename          string
	ExtraField        []byte
}

type EndOfCentralDirectory struct {
	DiskNumber       uint16
	DiskWithCDStart  uint16
	EntriesOnDisk    uint16
	TotalEntries     uint16
	CentralDirSize   uint32
	CentralDirOffset uint32
	CommentLength    uint16
	Comment          string
}

type CentralDirectoryHeader struct {
	VersionMadeBy      uint16
	VersionNeeded      uint16
	Flags              uint16
	CompressionMethod  uint16
	LastModTime        uint16
	LastModDate        uint16
	CRC32              uint32
	CompressedSize     uint32
	UncompressedSize   uint32
	FilenameLength     uint16
	ExtraFieldLength   uint16
	CommentLength      uint16
	DiskNumberStart    uint16
	InternalAttributes uint16
	ExternalAttributes uint32
	LocalHeaderOffset  uint32
	Filename           string
	ExtraField         []byte
	Comment            string
}

// The on-disk fixed parts, after the signature. encoding/binary packs these
// without padding, so one Read or Write moves exactly the header bytes.
type localFixed struct {
	VersionNeeded     uint16
	Flags             uint16
	CompressionMethod uint16
	LastModTime       uint16
	LastModDate       uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FilenameLength    uint16
	ExtraFieldLength  uint16
}

type centralFixed struct {
	VersionMadeBy      uint16
	VersionNeeded      uint16
	Flags              uint16
	CompressionMethod  uint16
	LastModTime        uint16
	LastModDate        uint16
	CRC32              uint32
	CompressedSize     uint32
	UncompressedSize   uint32
	FilenameLength     uint16
	ExtraFieldLength   uint16
	CommentLength      uint16
	DiskNumberStart    uint16
	InternalAttributes uint16
	ExternalAttributes uint32
	LocalHeaderOffset  uint32
}

type eocdFixed struct {
	DiskNumber       uint16
	DiskWithCDStart  uint16
	EntriesOnDisk    uint16
	TotalEntries     uint16
	CentralDirSize   uint32
	CentralDirOffset uint32
	CommentLength    uint16
}
