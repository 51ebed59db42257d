// Package document classifies uploaded blobs and expands containers
// (zip archives, spreadsheets, CSV files) into the units the pipeline extracts from.
package document

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrUnsupported is returned for blobs whose kind is not recognized
	ErrUnsupported = errors.New("unsupported file type")

	// ErrNestedArchive is returned for archives found inside another archive
	ErrNestedArchive = fmt.Errorf("%w: nested archive not expanded", ErrUnsupported)

	// ErrUnreadableTable is returned when a spreadsheet or CSV cannot be parsed
	ErrUnreadableTable = fmt.Errorf("%w: unreadable table", ErrUnsupported)

	// ErrArchiveCorrupt is returned when a container's structure cannot be read
	ErrArchiveCorrupt = errors.New("archive corrupt")
)

// Kind is the classification result of Detect
type Kind int

const (
	Unsupported Kind = iota
	Image
	PageDocument
	Spreadsheet
	DelimitedText
	Archive
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case PageDocument:
		return "page-document"
	case Spreadsheet:
		return "spreadsheet"
	case DelimitedText:
		return "delimited-text"
	case Archive:
		return "archive"
	default:
		return "unsupported"
	}
}

// Blob is one named byte payload: an upload or an archive member
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Kind classifies the blob from its name and declared content type
func (b Blob) Kind() Kind {
	return Detect(b.Name, b.ContentType)
}

var extensionKinds = map[string]Kind{
	".png":  Image,
	".jpg":  Image,
	".jpeg": Image,
	".gif":  Image,
	".heic": Image,
	".heif": Image,
	".pdf":  PageDocument,
	".xlsx": Spreadsheet,
	".xls":  Spreadsheet,
	".csv":  DelimitedText,
	".zip":  Archive,
}

var contentTypeKinds = map[string]Kind{
	"image/png":       Image,
	"image/jpeg":      Image,
	"image/jpg":       Image,
	"image/gif":       Image,
	"image/heic":      Image,
	"image/heif":      Image,
	"application/pdf": PageDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": Spreadsheet,
	"application/vnd.ms-excel":     Spreadsheet,
	"text/csv":                     DelimitedText,
	"application/csv":              DelimitedText,
	"application/zip":              Archive,
	"application/x-zip":            Archive,
	"application/x-zip-compressed": Archive,
	"multipart/x-zip":              Archive,
}

// Detect classifies a blob by case-insensitive extension match, falling back
// to the declared content type. It never looks at the blob's body.
func Detect(name, contentType string) Kind {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if kind, ok := extensionKinds[ext]; ok {
		return kind
	}

	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if kind, ok := contentTypeKinds[mediaType]; ok {
		return kind
	}
	return Unsupported
}
