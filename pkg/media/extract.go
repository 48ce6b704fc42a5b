package media

import (
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"math"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// Extractor reads the metadata of the media file at path.
type Extractor func(path string, magic identity.Magic) (*Metadata, error)

// exifTags are the types that may carry an EXIF block.
var exifTags = map[string]bool{"JPEG": true, "TIFF": true, "HEIC": true, "HEIF": true}

// configTags are the types whose dimensions image.DecodeConfig can read.
var configTags = map[string]bool{"JPEG": true, "PNG": true, "GIF": true}

// Extract is the default Extractor. It never fails because a file lacks
// EXIF data; only I/O errors are returned.
func Extract(path string, magic identity.Magic) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	md := &Metadata{Magic: magic.String(), Size: fi.Size()}

	if exifTags[magic.Tag] {
		decodeExif(f, md)
	}
	if md.Width == 0 && configTags[magic.Tag] {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if cfg, _, err := image.DecodeConfig(f); err == nil {
			md.Width, md.Height = cfg.Width, cfg.Height
		}
	}
	if md.Orientation == 0 && configTags[magic.Tag] {
		md.Orientation = 1
	}
	return md, nil
}

// decodeExif fills md from the EXIF block of r. Missing or broken EXIF is
// not an error.
func decodeExif(r io.Reader, md *Metadata) {
	x, err := exif.Decode(r)
	if err != nil {
		return
	}

	md.Orientation = 1
	md.CameraMake = tagString(x, exif.Make)
	md.CameraModel = tagString(x, exif.Model)
	md.LensModel = tagString(x, exif.LensModel)

	if v, ok := tagRatio(x, exif.FocalLength); ok {
		md.FocalLength = v
	}
	if v, ok := tagRatio(x, exif.FNumber); ok {
		md.Aperture = v
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if num, denom, err := tag.Rat2(0); err == nil {
			if denom == 1 {
				md.Exposure = fmt.Sprintf("%ds", num)
			} else {
				md.Exposure = fmt.Sprintf("%d/%d", num, denom)
			}
		}
	}
	if v, ok := tagInt(x, exif.ISOSpeedRatings); ok {
		md.ISO = v
	}
	if v, ok := tagInt(x, exif.Flash); ok {
		md.Flash = v&1 == 1
	}
	if dt, err := x.DateTime(); err == nil {
		utc := dt.UTC()
		md.DateTaken = &utc
	}
	if lat, lon, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
		md.Latitude, md.Longitude = &lat, &lon
	}
	if v, ok := tagRatio(x, exif.GPSAltitude); ok {
		md.Altitude = &v
	}
	if v, ok := tagInt(x, exif.Orientation); ok && v >= 1 && v <= 8 {
		md.Orientation = v
	}
	if v, ok := tagInt(x, exif.PixelXDimension); ok {
		md.Width = v
	}
	if v, ok := tagInt(x, exif.PixelYDimension); ok {
		md.Height = v
	}
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return s
	}
	return tag.String()
}

func tagInt(x *exif.Exif, name exif.FieldName) (int, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	v, err := tag.Int(0)
	return v, err == nil
}

func tagRatio(x *exif.Exif, name exif.FieldName) (float32, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	num, denom, err := tag.Rat2(0)
	if err != nil || denom == 0 {
		return 0, false
	}
	return float32(num) / float32(denom), true
}
