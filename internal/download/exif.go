package download

import (
	"bytes"
	"errors"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/google/renameio/v2"
)

// exifTimeLayout is the timestamp format EXIF mandates for date tags.
const exifTimeLayout = "2006:01:02 15:04:05"

// ExifWriter reads and writes EXIF capture timestamps of JPEG files.
// It implements MetadataWriter.
type ExifWriter struct{}

// DateTime returns the DateTimeOriginal tag of the file, or an empty
// string when the file carries no EXIF block or no such tag.
func (ExifWriter) DateTime(path string) (string, error) {
	raw, err := exif.SearchFileAndExtractExif(path)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return "", nil
		}

		return "", err
	}

	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return "", err
	}

	for _, tag := range tags {
		if tag.TagName == "DateTimeOriginal" {
			return tag.FormattedFirst, nil
		}
	}

	return "", nil
}

// SetDateTime stamps t as the file's DateTime, DateTimeOriginal and
// DateTimeDigitized, rewriting the JPEG atomically in place.
func (ExifWriter) SetDateTime(path string, t time.Time) error {
	jmp := jpegstructure.NewJpegMediaParser()

	intfc, err := jmp.ParseFile(path)
	if err != nil {
		return err
	}

	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return errors.New("unexpected media structure")
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return err
	}

	ts := t.Format(exifTimeLayout)

	ifdIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD")
	if err != nil {
		return err
	}
	if err := ifdIb.SetStandardWithName("DateTime", ts); err != nil {
		return err
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return err
	}
	if err := exifIb.SetStandardWithName("DateTimeOriginal", ts); err != nil {
		return err
	}
	if err := exifIb.SetStandardWithName("DateTimeDigitized", ts); err != nil {
		return err
	}

	if err := sl.SetExif(rootIb); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return err
	}

	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}
