package watermark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"detectedits-go/internal/detect"
)

// Document is the on-disk watermark file. Several layers may share one file:
//
//	{"lasteditdate": [{"id": 0, "lasteditdate": 1700000000.123, "lasteditstring": "11/14/2023 10:13:20.123000 PM"}]}
type Document struct {
	Entries []Entry `json:"lasteditdate"`
}

// Entry is the watermark of one layer.
type Entry struct {
	ID           EntryID `json:"id"`
	LastEditDate float64 `json:"lasteditdate"`
	LastEdit     string  `json:"lasteditstring"`
}

// EntryID is a layer number. Older files store it as a string.
type EntryID int

func (id *EntryID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("watermark id: %w", err)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("watermark id %q: %w", n.String(), err)
	}
	*id = EntryID(v)
	return nil
}

// DecodeDocument reads a watermark document.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding watermark document: %w", err)
	}
	return &doc, nil
}

// Encode renders the document as indented JSON.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encoding watermark document: %w", err)
	}
	return buf.Bytes(), nil
}

// Lookup returns the watermark of a layer. The display string is rebuilt
// from the stored timestamp; a hand-edited lasteditstring is ignored.
func (d *Document) Lookup(layerID int) (detect.Watermark, bool) {
	for _, e := range d.Entries {
		if int(e.ID) == layerID {
			return detect.NewWatermark(e.LastEditDate), true
		}
	}
	return detect.Watermark{}, false
}

// Set replaces the entry of a layer, or appends one. Other layers' entries
// are kept in place.
func (d *Document) Set(layerID int, w detect.Watermark) {
	entry := Entry{ID: EntryID(layerID), LastEditDate: w.Timestamp, LastEdit: w.Display}
	for i := range d.Entries {
		if int(d.Entries[i].ID) == layerID {
			d.Entries[i] = entry
			return
		}
	}
	d.Entries = append(d.Entries, entry)
}

// Delete removes the entry of a layer and reports whether it existed.
func (d *Document) Delete(layerID int) bool {
	for i := range d.Entries {
		if int(d.Entries[i].ID) == layerID {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}
