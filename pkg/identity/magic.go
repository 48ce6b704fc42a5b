package identity

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
)

// MagicVersion is recorded on files whose type is not one of the known tags.
// Bumping it makes every such file eligible for re-detection.
const MagicVersion = 1

// Magic is a file type tag. A recognized type is a short string (JPEG, MP4,
// ...); an unrecognized one is the detector version that looked at it.
type Magic struct {
	Tag     string
	Version int
}

func (m Magic) IsZero() bool { return m.Tag == "" && m.Version == 0 }

// Current reports whether m needs no re-detection.
func (m Magic) Current() bool { return m.Tag != "" || m.Version >= MagicVersion }

func (m Magic) String() string {
	if m.Tag != "" {
		return m.Tag
	}
	return strconv.Itoa(m.Version)
}

// IsMedia reports whether the tag names an image or video type.
func (m Magic) IsMedia() bool {
	return mediaTags[m.Tag]
}

func (m Magic) MarshalJSON() ([]byte, error) {
	if m.Tag != "" {
		return json.Marshal(m.Tag)
	}
	return json.Marshal(m.Version)
}

func (m *Magic) UnmarshalJSON(b []byte) error {
	var tag string
	if err := json.Unmarshal(b, &tag); err == nil {
		*m = Magic{Tag: tag}
		return nil
	}
	var version int
	if err := json.Unmarshal(b, &version); err != nil {
		return fmt.Errorf("magic must be a string or an integer: %s", b)
	}
	*m = Magic{Version: version}
	return nil
}

var mimeTags = map[string]string{
	"image/jpeg":                    "JPEG",
	"image/png":                     "PNG",
	"image/gif":                     "GIF",
	"image/bmp":                     "BMP",
	"image/tiff":                    "TIFF",
	"image/webp":                    "WEBP",
	"image/heic":                    "HEIC",
	"image/heif":                    "HEIF",
	"video/mp4":                     "MP4",
	"video/quicktime":               "MOV",
	"video/x-matroska":              "MKV",
	"video/x-msvideo":               "AVI",
	"video/3gpp":                    "3GP",
	"video/webm":                    "WEBM",
	"audio/mpeg":                    "MP3",
	"audio/flac":                    "FLAC",
	"audio/wav":                     "WAV",
	"application/pdf":               "PDF",
	"application/msword":            "DOC",
	"application/vnd.ms-excel":      "XLS",
	"application/vnd.ms-powerpoint": "PPT",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "DOCX",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "XLSX",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "PPTX",
}

var mediaTags = map[string]bool{
	"JPEG": true, "PNG": true, "GIF": true, "BMP": true, "TIFF": true, "WEBP": true,
	"HEIC": true, "HEIF": true, "MP4": true, "MOV": true, "MKV": true, "AVI": true,
	"3GP": true, "WEBM": true,
}

// DetectMagic sniffs the content of the file at path.
func DetectMagic(path string) (Magic, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Magic{}, err
	}
	for m := mt; m != nil; m = m.Parent() {
		if tag, ok := mimeTags[m.String()]; ok {
			return Magic{Tag: tag}, nil
		}
	}
	return Magic{Version: MagicVersion}, nil
}
