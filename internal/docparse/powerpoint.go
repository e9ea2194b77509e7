package docparse

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

var (
	slideEntryPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	notesEntryPattern = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)
)

// parsePowerPoint emits one fragment per slide with text: heading, title,
// shape text, and speaker notes. Steering committee decks are the only
// PowerPoint content in the corpus, so slides carry that tag.
func parsePowerPoint(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	defer func() { _ = zr.Close() }()

	slides := make(map[int]*zip.File)
	notes := make(map[int]*zip.File)
	for _, f := range zr.File {
		if m := slideEntryPattern.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides[n] = f
		} else if m := notesEntryPattern.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			notes[n] = f
		}
	}
	if len(slides) == 0 {
		return nil, rcerrors.ParseError(filename, errors.New("no slides in presentation"))
	}

	order := make([]int, 0, len(slides))
	for n := range slides {
		order = append(order, n)
	}
	sort.Ints(order)
	total := len(order)

	var fragments []chunk.Fragment
	for pos, n := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slideNum := pos + 1

		title, shapes, serr := slideShapes(slides[n])
		if serr != nil {
			slog.Warn("skipping unreadable slide",
				slog.String("file", filename),
				slog.Int("slide", slideNum),
				slog.String("error", serr.Error()))
			continue
		}

		noteText := ""
		if nf, ok := notes[n]; ok {
			if t, nerr := notesText(nf); nerr == nil {
				noteText = t
			}
		}

		content := renderSlide(slideNum, title, shapes, noteText)
		if content == "" {
			continue
		}

		md := baseMetadata(filename, store.DocTypePowerPoint, fmt.Sprintf("Slide %d", slideNum))
		md[store.KeySlideNumber] = store.Int(slideNum)
		md[store.KeyTotalSlides] = store.Int(total)
		md[store.KeyRegulatoryType] = store.String(store.RegTypeSteeringCommittee)
		fragments = append(fragments, chunk.Fragment{Text: content, Metadata: md})
	}
	return fragments, nil
}

func renderSlide(slideNum int, title string, shapes []string, noteText string) string {
	if title == "" && len(shapes) == 0 && noteText == "" {
		return ""
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("# Regulatory Presentation - Slide %d\n", slideNum))
	if title != "" {
		parts = append(parts, fmt.Sprintf("## %s\n", title))
	}
	for _, s := range shapes {
		parts = append(parts, s, "")
	}
	if noteText != "" {
		parts = append(parts, "### Speaker Notes\n", noteText)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// slideShapes walks one slide's XML collecting per-shape text. The shape
// whose placeholder type is title (or ctrTitle) becomes the title; text in
// graphic frames (tables, charts) is not shape text and is skipped.
func slideShapes(f *zip.File) (title string, shapes []string, err error) {
	r, err := f.Open()
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = r.Close() }()

	var current strings.Builder
	inShape := false
	isTitle := false

	dec := xml.NewDecoder(r)
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return "", nil, terr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				inShape = true
				isTitle = false
				current.Reset()
			case "ph":
				if !inShape {
					continue
				}
				for _, attr := range t.Attr {
					if attr.Name.Local == "type" && (attr.Value == "title" || attr.Value == "ctrTitle") {
						isTitle = true
					}
				}
			case "t":
				if !inShape {
					continue
				}
				var text string
				if derr := dec.DecodeElement(&text, &t); derr != nil {
					return "", nil, derr
				}
				current.WriteString(text)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inShape && current.Len() > 0 {
					current.WriteByte('\n')
				}
			case "sp":
				if text := strings.TrimSpace(current.String()); text != "" {
					if isTitle && title == "" {
						title = text
					} else {
						shapes = append(shapes, text)
					}
				}
				inShape = false
				current.Reset()
			}
		}
	}
	return title, shapes, nil
}

// notesText flattens a notes slide to plain paragraphs.
func notesText(f *zip.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	var b strings.Builder
	dec := xml.NewDecoder(r)
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return "", terr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var text string
				if derr := dec.DecodeElement(&text, &t); derr != nil {
					return "", derr
				}
				b.WriteString(text)
			}
		case xml.EndElement:
			if t.Name.Local == "p" && b.Len() > 0 {
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
