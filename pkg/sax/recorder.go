package sax

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
)

type eventKind byte

const (
	evStartDocument eventKind = iota + 1
	evEndDocument
	evStartElement
	evEndElement
	evCharacters
	evComment
	evProcInst
)

type event struct {
	Kind   eventKind  `json:"k"`
	Name   *xml.Name  `json:"n,omitempty"`
	Attrs  []xml.Attr `json:"a,omitempty"`
	Data   string     `json:"d,omitempty"`
	Target string     `json:"t,omitempty"`
}

// Recorder captures events so they can be replayed or stored as an XML
// byte-stream.
type Recorder struct {
	events []event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) StartDocument() error {
	r.events = append(r.events, event{Kind: evStartDocument})
	return nil
}

func (r *Recorder) EndDocument() error {
	r.events = append(r.events, event{Kind: evEndDocument})
	return nil
}

func (r *Recorder) StartElement(name xml.Name, attrs []xml.Attr) error {
	n := name
	var a []xml.Attr
	if len(attrs) > 0 {
		a = make([]xml.Attr, len(attrs))
		copy(a, attrs)
	}
	r.events = append(r.events, event{Kind: evStartElement, Name: &n, Attrs: a})
	return nil
}

func (r *Recorder) EndElement(name xml.Name) error {
	n := name
	r.events = append(r.events, event{Kind: evEndElement, Name: &n})
	return nil
}

func (r *Recorder) Characters(text []byte) error {
	r.events = append(r.events, event{Kind: evCharacters, Data: string(text)})
	return nil
}

func (r *Recorder) Comment(text []byte) error {
	r.events = append(r.events, event{Kind: evComment, Data: string(text)})
	return nil
}

func (r *Recorder) ProcessingInstruction(target string, data []byte) error {
	r.events = append(r.events, event{Kind: evProcInst, Target: target, Data: string(data)})
	return nil
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	return len(r.events)
}

// Replay sends the recorded events to h.
func (r *Recorder) Replay(h ContentHandler) error {
	return replay(r.events, h)
}

// Bytes serializes the recorded events.
func (r *Recorder) Bytes() ([]byte, error) {
	data, err := json.Marshal(r.events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event stream: %w", err)
	}
	return data, nil
}

// Replay decodes a byte-stream produced by Recorder.Bytes and sends it to h.
func Replay(data []byte, h ContentHandler) error {
	var events []event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("failed to decode event stream: %w", err)
	}
	return replay(events, h)
}

func replay(events []event, h ContentHandler) error {
	for _, e := range events {
		var err error
		switch e.Kind {
		case evStartDocument:
			err = h.StartDocument()
		case evEndDocument:
			err = h.EndDocument()
		case evStartElement:
			err = h.StartElement(*e.Name, e.Attrs)
		case evEndElement:
			err = h.EndElement(*e.Name)
		case evCharacters:
			err = h.Characters([]byte(e.Data))
		case evComment:
			err = h.Comment([]byte(e.Data))
		case evProcInst:
			err = h.ProcessingInstruction(e.Target, []byte(e.Data))
		default:
			err = fmt.Errorf("unknown event kind %d", e.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
