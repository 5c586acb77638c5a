package panel

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"
)

// Color is the neutral grey used for the panel.
const Color = 70<<16 | 70<<8 | 70

// Field is one user's block in the panel.
type Field struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
	Inline bool   `json:"inline" yaml:"inline"`
}

// Document is a rendered panel. LastChecked is shown to readers but is not
// part of the fingerprint.
type Document struct {
	Title       string    `json:"title" yaml:"title"`
	Color       int       `json:"color" yaml:"color"`
	Footer      string    `json:"footer" yaml:"footer"`
	Fields      []Field   `json:"fields" yaml:"fields"`
	LastChecked time.Time `json:"-" yaml:"lastChecked"`
}

// Fingerprint is a digest of the document's canonical JSON form. Two
// documents that differ only in LastChecked share a fingerprint. Field
// text carries elapsed-time annotations at minute resolution, so a panel
// whose rows are otherwise unchanged gets a new fingerprint at most once
// per minute.
func (d Document) Fingerprint() string {
	if d.Fields == nil {
		d.Fields = []Field{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
