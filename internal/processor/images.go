package processor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path"
	"strings"
)

const (
	TagSignature = "ttd"
	TagStamp     = "stempel"
	TagQRCode    = "qrcode"

	emuPerPixel = 9525

	relationshipsNS   = "http://schemas.openxmlformats.org/package/2006/relationships"
	imageRelationship = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

type Image struct {
	Data   []byte
	Width  int
	Height int
}

// ImageResolver turns the stored value of an image tag into embeddable bytes.
type ImageResolver interface {
	ResolveImage(tag, value string) (Image, error)
}

type Size struct {
	Width  int
	Height int
}

var DefaultImageSizes = map[string]Size{
	TagSignature: {Width: 150, Height: 75},
	TagStamp:     {Width: 100, Height: 100},
	TagQRCode:    {Width: 80, Height: 80},
}

var fallbackImageSize = Size{Width: 100, Height: 100}

// DefaultImageResolver expects base64 values (raw or data URI). Missing or
// undecodable values resolve to a 1x1 transparent pixel so that the tag
// disappears from the document instead of failing the render.
type DefaultImageResolver struct {
	Sizes map[string]Size
}

func (r DefaultImageResolver) ResolveImage(tag, value string) (Image, error) {
	size, ok := r.Sizes[tag]
	if !ok {
		size, ok = DefaultImageSizes[tag]
	}
	if !ok {
		size = fallbackImageSize
	}

	data, err := DecodeBase64Image(value)
	if err != nil || len(data) == 0 {
		return TransparentPixel(), nil
	}
	return Image{Data: data, Width: size.Width, Height: size.Height}, nil
}

// DecodeBase64Image accepts either bare base64 or a data: URI.
func DecodeBase64Image(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.HasPrefix(value, "data:") {
		comma := strings.Index(value, ",")
		if comma < 0 {
			return nil, fmt.Errorf("malformed data uri")
		}
		value = value[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

var transparentPNG = func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func TransparentPixel() Image {
	return Image{Data: append([]byte(nil), transparentPNG...), Width: 1, Height: 1}
}

func imageExtension(data []byte) (string, string) {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpeg", "image/jpeg"
	case "image/gif":
		return "gif", "image/gif"
	case "image/bmp":
		return "bmp", "image/bmp"
	default:
		return "png", "image/png"
	}
}

func relsPartName(part string) string {
	return path.Dir(part) + "/_rels/" + path.Base(part) + ".rels"
}

func addRelationship(rels []byte, id, relType, target string) []byte {
	entry := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, id, relType, target)
	doc := string(rels)
	if strings.TrimSpace(doc) == "" {
		return []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
			`<Relationships xmlns="` + relationshipsNS + `">` + entry + `</Relationships>`)
	}
	if idx := strings.LastIndex(doc, "</Relationships>"); idx >= 0 {
		return []byte(doc[:idx] + entry + doc[idx:])
	}
	// <Relationships .../>
	if idx := strings.LastIndex(doc, "/>"); idx >= 0 {
		return []byte(doc[:idx] + ">" + entry + "</Relationships>" + doc[idx+2:])
	}
	return rels
}

func ensureContentType(types []byte, ext, contentType string) []byte {
	doc := string(types)
	if strings.Contains(strings.ToLower(doc), `extension="`+ext+`"`) {
		return types
	}
	entry := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, ext, contentType)
	if idx := strings.LastIndex(doc, "</Types>"); idx >= 0 {
		return []byte(doc[:idx] + entry + doc[idx:])
	}
	return types
}

func drawingXML(relID string, docPrID int, name string, width, height int) string {
	cx := width * emuPerPixel
	cy := height * emuPerPixel
	return fmt.Sprintf(`<w:drawing>`+
		`<wp:inline xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" distT="0" distB="0" distL="0" distR="0">`+
		`<wp:extent cx="%d" cy="%d"/>`+
		`<wp:docPr id="%d" name="%s"/>`+
		`<wp:cNvGraphicFramePr><a:graphicFrameLocks xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" noChangeAspect="1"/></wp:cNvGraphicFramePr>`+
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">`+
		`<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%d" name="%s"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing>`,
		cx, cy, docPrID, name, docPrID, name, relID, cx, cy)
}
