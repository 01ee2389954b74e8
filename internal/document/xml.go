package document

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/openparl/parlingest/internal/ingest"
)

// ParseXML decodes an XML document into a map node keyed by the root element
// name. Elements with only character data become scalars; elements with
// attributes or children become maps, attributes stored under their own name
// and any element text under "#text". Repeated sibling names accumulate in
// document order.
func ParseXML(url string, r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, ingest.NewError(ingest.KindParse, "parse xml", url,
				fmt.Errorf("document has no root element"))
		}
		if err != nil {
			return nil, ingest.NewError(ingest.KindParse, "parse xml", url, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		child, err := parseElement(dec, start)
		if err != nil {
			return nil, ingest.NewError(ingest.KindParse, "parse xml", url, err)
		}
		root := NewMap()
		root.Add(start.Name.Local, child)
		return root, nil
	}
}

func parseElement(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	node := NewMap()
	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		node.Add(attr.Name.Local, NewScalar(attr.Value))
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("element <%s> not closed: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			node.Add(t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if node.Len() == 0 {
				return NewScalar(trimmed), nil
			}
			if trimmed != "" {
				node.Add(textKey, NewScalar(trimmed))
			}
			return node, nil
		}
	}
}

// charsetReader handles the legacy single-byte encodings the portal's older
// archives declare.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "utf-8", "":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
}
