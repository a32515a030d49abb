// Command splashgen renders a boot-splash bitmap. It never links into the
// freestanding kernel: it runs under the host toolchain and writes a flat
// width/height + ARGB8888 binary blob. Nothing in the kernel tree reads or
// embeds that blob.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io/ioutil"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

func main() {
	var (
		width   = flag.Int("width", 640, "splash width in pixels")
		height  = flag.Int("height", 480, "splash height in pixels")
		title   = flag.String("title", "teachos", "title text rendered at the top third of the splash")
		sub     = flag.String("subtitle", "press any key to continue", "subtitle rendered below the title")
		fontTTF = flag.String("font", "", "path to a TTF font file; if empty, text is skipped")
		output  = flag.String("out", "splash.bin", "output path for the binary blob")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: splashgen -out splash.bin [-width W] [-height H] [-title T] [-subtitle S] [-font F]\n")
		fmt.Fprintf(os.Stderr, "Renders a boot-splash bitmap and writes it as:\n")
		fmt.Fprintf(os.Stderr, "  4 bytes: width (uint32 little-endian)\n")
		fmt.Fprintf(os.Stderr, "  4 bytes: height (uint32 little-endian)\n")
		fmt.Fprintf(os.Stderr, "  width*height*4 bytes: ARGB8888 pixel data\n")
	}
	flag.Parse()

	dc := gg.NewContext(*width, *height)
	dc.SetColor(color.Black)
	dc.Clear()

	if *fontTTF != "" {
		if err := drawText(dc, *fontTTF, *title, *sub, *width, *height); err != nil {
			fmt.Fprintf(os.Stderr, "splashgen: %v\n", err)
			os.Exit(1)
		}
	}

	if err := writeBlob(dc.Image(), *output); err != nil {
		fmt.Fprintf(os.Stderr, "splashgen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %dx%d splash to %s\n", *width, *height, *output)
}

// drawText parses fontPath as a TrueType font, builds a font.Face sized
// relative to the splash height, and centers title/subtitle text on it.
func drawText(dc *gg.Context, fontPath, title, sub string, width, height int) error {
	fontBytes, err := ioutil.ReadFile(fontPath)
	if err != nil {
		return fmt.Errorf("reading font: %w", err)
	}

	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return fmt.Errorf("parsing font: %w", err)
	}

	titleFace := truetype.NewFace(parsed, &truetype.Options{Size: float64(height) / 8})
	subFace := truetype.NewFace(parsed, &truetype.Options{Size: float64(height) / 20})
	defer closeFace(titleFace)
	defer closeFace(subFace)

	dc.SetColor(color.White)
	dc.SetFontFace(titleFace)
	dc.DrawStringAnchored(title, float64(width)/2, float64(height)/3, 0.5, 0.5)

	dc.SetFontFace(subFace)
	dc.DrawStringAnchored(sub, float64(width)/2, float64(height)/3+float64(height)/6, 0.5, 0.5)

	return nil
}

func closeFace(f font.Face) {
	_ = f.Close()
}

// writeBlob writes img as a little-endian uint32 width/height header
// followed by ARGB8888 pixel data, one little-endian uint32 per pixel.
func writeBlob(img image.Image, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	bounds := img.Bounds()
	width := uint32(bounds.Dx())
	height := uint32(bounds.Dy())

	if err := binary.Write(out, binary.LittleEndian, width); err != nil {
		return fmt.Errorf("writing width: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, height); err != nil {
		return fmt.Errorf("writing height: %w", err)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			pixel := uint32(a>>8)<<24 | uint32(r>>8)<<16 | uint32(g>>8)<<8 | uint32(b>>8)
			if err := binary.Write(out, binary.LittleEndian, pixel); err != nil {
				return fmt.Errorf("writing pixel data: %w", err)
			}
		}
	}

	return nil
}
