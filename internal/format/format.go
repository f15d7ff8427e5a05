// Package format holds the output encodings a tile can be written in.
package format

import (
	"fmt"
	"strings"
)

// Format describes one output encoding
type Format struct {
	Name      string
	Extension string
	MimeType  string
}

var (
	JSON = Format{Name: "json", Extension: "json", MimeType: "application/json"}
	MVT  = Format{Name: "mvt", Extension: "mvt", MimeType: "application/x-protobuf"}
	Zip  = Format{Name: "zip", Extension: "zip", MimeType: "application/zip"}
)

var byName = map[string]Format{
	JSON.Name: JSON,
	MVT.Name:  MVT,
	Zip.Name:  Zip,
}

// Lookup finds a format by name or extension
func Lookup(name string) (Format, error) {
	f, ok := byName[strings.ToLower(name)]
	if !ok {
		return Format{}, fmt.Errorf("unknown format %q", name)
	}
	return f, nil
}
