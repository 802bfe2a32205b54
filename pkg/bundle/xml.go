package bundle

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// XML form:
//
//	<bundle id="nl-r1-c1" type="DocumentaryUnit">
//	  <data>
//	    <identifier>c1</identifier>
//	    <extent type="int">3</extent>
//	    <languages type="list"><item>eng</item><item>nld</item></languages>
//	  </data>
//	  <relationships>
//	    <describes>
//	      <bundle type="DocumentaryUnitDescription">...</bundle>
//	    </describes>
//	  </relationships>
//	</bundle>
//
// Strings carry no type attribute; other scalars are tagged so they survive
// a round trip.

const xmlBundle = "bundle"

// ToXML returns the indented XML form.
func (b *Bundle) ToXML() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// FromXML parses a single bundle.
func FromXML(data []byte) (*Bundle, error) {
	var b Bundle
	if err := xml.Unmarshal(data, &b); err != nil {
		if _, ok := err.(*DeserializationError); ok {
			return nil, err
		}
		return nil, &DeserializationError{Msg: "invalid XML", Err: err}
	}
	return &b, nil
}

// MarshalXML implements xml.Marshaler.
func (b *Bundle) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: xmlBundle}}
	if b.id != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: KeyID}, Value: b.id})
	}
	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: KeyType}, Value: string(b.typ)})
	if err := e.EncodeToken(start); err != nil {
		return err
	}

	dataStart := xml.StartElement{Name: xml.Name{Local: KeyData}}
	if err := e.EncodeToken(dataStart); err != nil {
		return err
	}
	for _, k := range b.DataKeys() {
		if !validXMLName(k) {
			return fmt.Errorf("bundle: data key %q is not a valid XML name", k)
		}
		if err := encodeXMLValue(e, k, b.data[k]); err != nil {
			return err
		}
	}
	if err := e.EncodeToken(dataStart.End()); err != nil {
		return err
	}

	if b.HasRelations() {
		relStart := xml.StartElement{Name: xml.Name{Local: KeyRelationships}}
		if err := e.EncodeToken(relStart); err != nil {
			return err
		}
		for _, name := range slices.Sorted(slices.Values(b.relNames)) {
			if !validXMLName(name) {
				return fmt.Errorf("bundle: relation %q is not a valid XML name", name)
			}
			group := xml.StartElement{Name: xml.Name{Local: name}}
			if err := e.EncodeToken(group); err != nil {
				return err
			}
			for _, c := range b.rels[name] {
				if err := e.Encode(c); err != nil {
					return err
				}
			}
			if err := e.EncodeToken(group.End()); err != nil {
				return err
			}
		}
		if err := e.EncodeToken(relStart.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func encodeXMLValue(e *xml.Encoder, name string, v any) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if list, ok := v.([]any); ok {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "type"}, Value: "list"}}
		if err := e.EncodeToken(start); err != nil {
			return err
		}
		for _, item := range list {
			if err := encodeXMLValue(e, "item", item); err != nil {
				return err
			}
		}
		return e.EncodeToken(start.End())
	}
	text, kind := formatScalar(v)
	if kind != "" {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "type"}, Value: kind}}
	}
	return e.EncodeElement(text, start)
}

// UnmarshalXML implements xml.Unmarshaler.
func (b *Bundle) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m, err := decodeXMLBundle(d, start)
	if err != nil {
		return err
	}
	nb, err := FromData(m)
	if err != nil {
		return err
	}
	*b = *nb
	return nil
}

func decodeXMLBundle(d *xml.Decoder, start xml.StartElement) (map[string]any, error) {
	if start.Name.Local != xmlBundle {
		return nil, deserializationErrorf("expected <%s>, got <%s>", xmlBundle, start.Name.Local)
	}
	m := map[string]any{}
	for _, a := range start.Attr {
		switch a.Name.Local {
		case KeyID:
			m[KeyID] = a.Value
		case KeyType:
			m[KeyType] = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, &DeserializationError{Msg: "invalid XML", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case KeyData:
				data, err := decodeXMLData(d)
				if err != nil {
					return nil, err
				}
				m[KeyData] = data
			case KeyRelationships:
				rels, err := decodeXMLRelations(d)
				if err != nil {
					return nil, err
				}
				m[KeyRelationships] = rels
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return m, nil
		}
	}
}

func decodeXMLData(d *xml.Decoder) (map[string]any, error) {
	data := map[string]any{}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, &DeserializationError{Msg: "invalid XML", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := decodeXMLValue(d, t)
			if err != nil {
				return nil, err
			}
			data[t.Name.Local] = v
		case xml.EndElement:
			return data, nil
		}
	}
}

func decodeXMLValue(d *xml.Decoder, start xml.StartElement) (any, error) {
	kind := ""
	for _, a := range start.Attr {
		if a.Name.Local == "type" {
			kind = a.Value
		}
	}
	if kind == "list" {
		list := []any{}
		for {
			tok, err := d.Token()
			if err != nil {
				return nil, &DeserializationError{Msg: "invalid XML", Err: err}
			}
			switch t := tok.(type) {
			case xml.StartElement:
				v, err := decodeXMLValue(d, t)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			case xml.EndElement:
				return list, nil
			}
		}
	}
	var text string
	if err := d.DecodeElement(&text, &start); err != nil {
		return nil, &DeserializationError{Msg: "invalid XML", Err: err}
	}
	v, err := parseScalar(text, kind)
	if err != nil {
		return nil, &DeserializationError{Msg: fmt.Sprintf("data element <%s>", start.Name.Local), Err: err}
	}
	return v, nil
}

func decodeXMLRelations(d *xml.Decoder) (map[string]any, error) {
	rels := map[string]any{}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, &DeserializationError{Msg: "invalid XML", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			items, _ := rels[name].([]any)
			children, err := decodeXMLGroup(d)
			if err != nil {
				return nil, err
			}
			rels[name] = append(items, children...)
		case xml.EndElement:
			return rels, nil
		}
	}
}

func decodeXMLGroup(d *xml.Decoder) ([]any, error) {
	var out []any
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, &DeserializationError{Msg: "invalid XML", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			m, err := decodeXMLBundle(d, t)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		case xml.EndElement:
			return out, nil
		}
	}
}

func validXMLName(s string) bool {
	if s == "" || strings.HasPrefix(strings.ToLower(s), "xml") {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}
