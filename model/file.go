package model

import "time"

// FileDescriptor describes one file in a transfer, on the send or receive
// side.
type FileDescriptor struct {
	Name        string
	SizeBytes   int64
	MimeType    string
	UTI         string
	SourcePath  string // populated on the send side
	DestPath    string // populated on the receive side
	SHA256      string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	IsDirectory bool
	ArchivePath string // path relative to an archive/folder root, if any
}
