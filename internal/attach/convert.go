package attach

import (
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jorgenin/expense-migration/internal/errors"
)

// Converter produces PDF documents from downloaded files.
type Converter interface {
	// ImageToPDF re-encodes the image at src as JPEG and writes a one-page
	// document containing it to dst.
	ImageToPDF(src, dst string) error
	// Placeholder writes a one-page document naming a file that could not
	// be converted.
	Placeholder(name, dst string) error
	// Merge concatenates the pages of srcs, in order, into dst.
	Merge(srcs []string, dst string) error
}

const (
	pageMargin         = 10.0 // mm
	defaultJPEGQuality = 85
	defaultMaxPixels   = 2400
)

var _ Converter = (*PDFConverter)(nil)

// PDFConverter implements Converter with fpdf and pdfcpu.
type PDFConverter struct {
	Quality   int // JPEG quality, 1-100
	MaxPixels int // longest image side before downscaling
}

// NewPDFConverter returns a converter with default settings.
func NewPDFConverter() *PDFConverter {
	api.DisableConfigDir()
	return &PDFConverter{Quality: defaultJPEGQuality, MaxPixels: defaultMaxPixels}
}

// ImageToPDF implements Converter.
func (c *PDFConverter) ImageToPDF(src, dst string) error {
	img, err := decodeImage(src)
	if err != nil {
		return err
	}
	img = fit(img, c.MaxPixels)

	jpgPath := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".jpg"
	if err := writeJPEG(img, jpgPath, c.Quality); err != nil {
		return err
	}
	defer os.Remove(jpgPath)

	b := img.Bounds()
	orientation := "P"
	if b.Dx() > b.Dy() {
		orientation = "L"
	}
	pdf := fpdf.New(orientation, "mm", "A4", "")
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	boxW, boxH := pageW-2*pageMargin, pageH-2*pageMargin
	w, h := boxW, boxW*float64(b.Dy())/float64(b.Dx())
	if h > boxH {
		w, h = boxH*float64(b.Dx())/float64(b.Dy()), boxH
	}
	x, y := (pageW-w)/2, (pageH-h)/2

	pdf.ImageOptions(jpgPath, x, y, w, h, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	if err := pdf.OutputFileAndClose(dst); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(dst))
	}
	return nil
}

// Placeholder implements Converter.
func (c *PDFConverter) Placeholder(name, dst string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		ext = "unknown"
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Attachment not converted")
	pdf.Ln(14)
	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(0, 7, tr("File name: "+name), "", "L", false)
	pdf.MultiCell(0, 7, tr("File type: "+ext), "", "L", false)
	pdf.MultiCell(0, 7, "The original file could not be embedded in this document.", "", "L", false)
	if err := pdf.OutputFileAndClose(dst); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(dst))
	}
	return nil
}

// Merge implements Converter.
func (c *PDFConverter) Merge(srcs []string, dst string) error {
	if len(srcs) == 0 {
		return errors.New("nothing to merge")
	}
	if err := api.MergeCreateFile(srcs, dst, false, nil); err != nil {
		return errors.Wrapf(err, "merge %d documents", len(srcs))
	}
	return nil
}

func decodeImage(src string) (image.Image, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", filepath.Base(src))
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.Newf("%s image %s is empty", format, filepath.Base(src))
	}
	return img, nil
}

// fit flattens img onto white, downscaling so neither side exceeds limit.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit > 0 && (w > limit || h > limit) {
		if w >= h {
			w, h = limit, h*limit/w
		} else {
			w, h = w*limit/h, limit
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Over, nil)
	}
	return out
}

func writeJPEG(img image.Image, dst string, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQuality
	}
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create jpeg")
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return errors.Wrap(err, "encode jpeg")
	}
	return errors.Wrap(f.Close(), "close jpeg")
}
