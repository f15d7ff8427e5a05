package queue

import (
	"fmt"
	"strings"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// Marshaller converts coordinate lists to queue payloads and back
type Marshaller interface {
	Marshal(coords []coord.Coord) string
	Unmarshal(payload string) ([]coord.Coord, error)
}

// SingleCoordMarshaller carries exactly one coordinate per payload
type SingleCoordMarshaller struct{}

// Marshal panics unless given exactly one coordinate
func (SingleCoordMarshaller) Marshal(coords []coord.Coord) string {
	if len(coords) != 1 {
		panic(fmt.Sprintf("queue: single coordinate marshaller given %d coordinates", len(coords)))
	}
	return coords[0].String()
}

func (SingleCoordMarshaller) Unmarshal(payload string) ([]coord.Coord, error) {
	if strings.Contains(payload, ",") {
		return nil, fmt.Errorf("single coordinate payload holds several: %q", payload)
	}
	c, err := coord.Parse(strings.TrimSpace(payload))
	if err != nil {
		return nil, err
	}
	return []coord.Coord{c}, nil
}

// CommaSeparatedMarshaller carries zero or more coordinates as z/x/y,z/x/y
type CommaSeparatedMarshaller struct{}

func (CommaSeparatedMarshaller) Marshal(coords []coord.Coord) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func (CommaSeparatedMarshaller) Unmarshal(payload string) ([]coord.Coord, error) {
	if payload == "" {
		return nil, nil
	}
	parts := strings.Split(payload, ",")
	coords := make([]coord.Coord, 0, len(parts))
	for _, p := range parts {
		c, err := coord.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, nil
}
