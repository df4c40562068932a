package doc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// maxDocumentXML caps how much of word/document.xml gets decoded.
const maxDocumentXML = 50 << 20

var collapseBlankRuns = regexp.MustCompile(`\n{3,}`)

// docxText flattens the WordprocessingML token stream of word/document.xml
// into plain text. Paragraphs and table rows end lines, table cells are
// tab-separated, and tracked deletions (w:del) are dropped entirely.
type docxText struct {
	out      strings.Builder
	inText   bool
	delDepth int
	inTable  bool
	tableCol int
}

func (d *docxText) start(name string) {
	switch name {
	case "del":
		d.delDepth++
		return
	case "t":
		d.inText = true
		return
	}

	if d.delDepth > 0 {
		if name == "tbl" {
			d.inTable = true
			d.tableCol = 0
		}
		return
	}

	switch name {
	case "tab":
		d.out.WriteByte('\t')
	case "br", "cr":
		d.out.WriteByte('\n')
	case "noBreakHyphen":
		d.out.WriteByte('-')
	case "softHyphen":
		// Discretionary hyphens carry no text.
	case "tbl":
		d.inTable = true
		d.tableCol = 0
		d.breakLine()
	case "tr":
		d.tableCol = 0
	case "tc":
		if d.inTable {
			if d.tableCol > 0 {
				d.out.WriteByte('\t')
			}
			d.tableCol++
		}
	}
}

func (d *docxText) end(name string) {
	switch name {
	case "t":
		d.inText = false
	case "del":
		if d.delDepth > 0 {
			d.delDepth--
		}
	case "p", "tr":
		if d.delDepth == 0 {
			d.out.WriteByte('\n')
		}
	case "tbl":
		d.inTable = false
		if d.delDepth == 0 {
			d.out.WriteByte('\n')
		}
	}
}

func (d *docxText) chars(data []byte) {
	if d.inText && d.delDepth == 0 {
		d.out.Write(data)
	}
}

// breakLine starts a fresh line unless the output is empty or already ends
// with one.
func (d *docxText) breakLine() {
	if d.out.Len() > 0 && !strings.HasSuffix(d.out.String(), "\n") {
		d.out.WriteByte('\n')
	}
}

func (d *docxText) result() []byte {
	text := strings.TrimSpace(d.out.String())
	text = collapseBlankRuns.ReplaceAllString(text, "\n\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text)
}

// consume walks the decoder's token stream to completion, feeding every
// element into the state machine.
func (d *docxText) consume(decoder *xml.Decoder) error {
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("malformed document xml: %w", err)
		}

		switch el := token.(type) {
		case xml.StartElement:
			d.start(el.Name.Local)
		case xml.EndElement:
			d.end(el.Name.Local)
		case xml.CharData:
			d.chars(el)
		}
	}
}

// openDocumentXML opens the word/document.xml entry of a docx archive.
func openDocumentXML(content []byte) (io.ReadCloser, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a docx archive: %w", err)
	}

	for _, entry := range archive.File {
		if entry.Name != "word/document.xml" {
			continue
		}
		if entry.UncompressedSize64 > maxDocumentXML {
			return nil, fmt.Errorf("document.xml is %d bytes, limit %d",
				entry.UncompressedSize64, maxDocumentXML)
		}
		reader, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		return reader, nil
	}
	return nil, errors.New("docx has no word/document.xml")
}

func parseDocx(content []byte) ([]byte, error) {
	reader, err := openDocumentXML(content)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var doc docxText
	if err := doc.consume(xml.NewDecoder(io.LimitReader(reader, maxDocumentXML))); err != nil {
		return nil, err
	}
	return doc.result(), nil
}
