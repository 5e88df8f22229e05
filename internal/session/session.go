// Package session serializes the live session (stack, conversation, model,
// identity) to the XML dump format and restores it. Two formats exist: v1
// is a legacy plain-text layout with no session identity and is load-only;
// v2 base64-encodes every body so dumps survive arbitrary binary content,
// independent of the runtime encoding flag.
package session

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/stack"
)

// Snapshot is the aggregate state a dump records.
type Snapshot struct {
	SessionID    string
	Model        string
	Stack        *stack.Stack
	Convo        *convo.Log
	SystemPrompt string
}

// LoadResult is the parsed form of a dump file. SessionID is empty when the
// file is a v1 dump; the caller generates a fresh one.
type LoadResult struct {
	V1           bool
	SessionID    string
	Model        string
	Items        []stack.Item
	Turns        []convo.Turn
	SystemPrompt string
}

const encodingBase64 = "base64"

type xmlDump struct {
	XMLName xml.Name  `xml:"dump"`
	Session string    `xml:"session,attr,omitempty"`
	Model   string    `xml:"model,omitempty"`
	Stack   xmlStack  `xml:"stack"`
	Convo   xmlConvo  `xml:"convo"`
	Prompt  xmlPrompt `xml:"prompt"`
}

type xmlConvo struct {
	Elems []xmlElem `xml:"elem"`
}

type xmlElem struct {
	Role     string `xml:"role,attr"`
	Encoding string `xml:"encoding,attr,omitempty"`
	Body     string `xml:",chardata"`
}

type xmlPrompt struct {
	Encoding string `xml:"encoding,attr,omitempty"`
	Body     string `xml:",chardata"`
}

// xmlStack keeps file and capture children interleaved in stack order, which
// the struct-tag marshaler cannot express, so it handles its own XML.
type xmlStack struct {
	Items []xmlStackItem
}

type xmlStackItem struct {
	// Kind is "file" or "capture".
	Kind     string
	Path     string // file
	Cmd      string // capture
	Status   int    // capture
	Encoding string
	Body     string
}

func (s xmlStack) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "stack"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, it := range s.Items {
		el := xml.StartElement{Name: xml.Name{Local: it.Kind}}
		switch it.Kind {
		case "file":
			el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: "path"}, Value: it.Path})
		case "capture":
			el.Attr = append(el.Attr,
				xml.Attr{Name: xml.Name{Local: "cmd"}, Value: it.Cmd},
				xml.Attr{Name: xml.Name{Local: "status"}, Value: strconv.Itoa(it.Status)})
		}
		if it.Encoding != "" {
			el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: "encoding"}, Value: it.Encoding})
		}
		if err := e.EncodeToken(el); err != nil {
			return err
		}
		if it.Body != "" {
			if err := e.EncodeToken(xml.CharData(it.Body)); err != nil {
				return err
			}
		}
		if err := e.EncodeToken(xml.EndElement{Name: el.Name}); err != nil {
			return err
		}
	}
	return e.EncodeToken(xml.EndElement{Name: start.Name})
}

func (s *xmlStack) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var it xmlStackItem
			it.Kind = t.Name.Local
			for _, a := range t.Attr {
				switch a.Name.Local {
				case "path":
					it.Path = a.Value
				case "cmd":
					it.Cmd = a.Value
				case "status":
					it.Status, _ = strconv.Atoi(a.Value)
				case "encoding":
					it.Encoding = a.Value
				}
			}
			var body struct {
				Text string `xml:",chardata"`
			}
			if err := d.DecodeElement(&body, &t); err != nil {
				return err
			}
			it.Body = body.Text
			if it.Kind == "file" || it.Kind == "capture" {
				s.Items = append(s.Items, it)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func enc(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DefaultDumpPath generates the rotating dump filename: UUID plus the
// current epoch seconds with a fractional part.
func DefaultDumpPath(dumpsDir, sessionID string) string {
	ts := float64(time.Now().UnixMilli()) / 1000.0
	return filepath.Join(dumpsDir, fmt.Sprintf("dump-%s-%.3f.xml", sessionID, ts))
}

// Dump writes the snapshot to path in v2 format.
func Dump(path string, snap *Snapshot) error {
	doc := xmlDump{
		Session: snap.SessionID,
		Model:   snap.Model,
		Prompt:  xmlPrompt{Encoding: encodingBase64, Body: enc(snap.SystemPrompt)},
	}

	for _, it := range snap.Stack.Items() {
		switch v := it.(type) {
		case *stack.FileItem:
			xi := xmlStackItem{Kind: "file", Path: v.Path, Encoding: encodingBase64}
			// Body is a convenience copy; load re-reads from Path.
			if data, err := os.ReadFile(v.Path); err == nil {
				xi.Body = base64.StdEncoding.EncodeToString(data)
			}
			doc.Stack.Items = append(doc.Stack.Items, xi)
		case *stack.CaptureItem:
			doc.Stack.Items = append(doc.Stack.Items, xmlStackItem{
				Kind:     "capture",
				Cmd:      v.Cmd,
				Status:   v.Status,
				Encoding: encodingBase64,
				Body:     enc(v.Output),
			})
		}
	}

	for _, t := range snap.Convo.Turns() {
		doc.Convo.Elems = append(doc.Convo.Elems, xmlElem{
			Role:     string(t.Role),
			Encoding: encodingBase64,
			Body:     enc(t.Text),
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')

	// Write-then-rename so a crash mid-dump never leaves a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load parses a dump file in either format.
func Load(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc xmlDump
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing dump: %w", err)
	}

	res := &LoadResult{
		SessionID: doc.Session,
		Model:     doc.Model,
		V1:        doc.Session == "",
	}

	for _, xi := range doc.Stack.Items {
		switch xi.Kind {
		case "file":
			res.Items = append(res.Items, &stack.FileItem{Path: xi.Path})
		case "capture":
			output, err := decodeBody(xi.Body, xi.Encoding)
			if err != nil {
				return nil, fmt.Errorf("capture '%s': %w", xi.Cmd, err)
			}
			res.Items = append(res.Items, &stack.CaptureItem{Cmd: xi.Cmd, Output: output, Status: xi.Status})
		}
	}

	for _, el := range doc.Convo.Elems {
		text, err := decodeBody(el.Body, el.Encoding)
		if err != nil {
			return nil, fmt.Errorf("convo elem: %w", err)
		}
		res.Turns = append(res.Turns, convo.Turn{Role: convo.Role(el.Role), Text: text})
	}

	prompt, err := decodeBody(doc.Prompt.Body, doc.Prompt.Encoding)
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	res.SystemPrompt = prompt

	return res, nil
}

func decodeBody(body, encoding string) (string, error) {
	if encoding != encodingBase64 {
		return body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("bad base64: %w", err)
	}
	return string(decoded), nil
}
