package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item is any versioned record held in the data store. A deleted item (a
// tombstone) retains its key and version but is invisible to reads.
type Item interface {
	GetKey() string
	GetVersion() int
	IsDeleted() bool
}

// DataKind identifies a namespace of items (feature flags, segments) and
// knows how to decode wire payloads for that namespace. Implementations are
// comparable and usable as map keys.
type DataKind interface {
	// Namespace is the unique name of this kind, e.g. "features".
	Namespace() string
	// StreamAPIPath is the path prefix used to route stream patch/delete
	// events to this kind, e.g. "/flags/".
	StreamAPIPath() string
	// ParseItem decodes a JSON payload into an item of this kind.
	ParseItem(data []byte) (Item, error)
	// MakeDeletedItem builds a tombstone for the given key and version.
	MakeDeletedItem(key string, version int) Item
}

// Features is the DataKind for feature flags.
var Features DataKind = featuresKind{}

// Segments is the DataKind for segments.
var Segments DataKind = segmentsKind{}

// AllKinds lists every kind in the base protocol, in routing order.
func AllKinds() []DataKind {
	return []DataKind{Features, Segments}
}

// KindForPath routes a stream event path such as "/flags/my-flag" to its
// data kind and item key. The boolean is false if no kind claims the path.
func KindForPath(path string) (DataKind, string, bool) {
	for _, kind := range AllKinds() {
		if strings.HasPrefix(path, kind.StreamAPIPath()) {
			return kind, strings.TrimPrefix(path, kind.StreamAPIPath()), true
		}
	}
	return nil, "", false
}

// CloneItem deep-copies an item through its JSON representation, so stored
// values never alias caller-owned memory.
func CloneItem(kind DataKind, item Item) (Item, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("clone %s item %q: %w", kind.Namespace(), item.GetKey(), err)
	}
	return kind.ParseItem(data)
}

type featuresKind struct{}

func (featuresKind) Namespace() string     { return "features" }
func (featuresKind) StreamAPIPath() string { return "/flags/" }

func (featuresKind) ParseItem(data []byte) (Item, error) {
	var flag FeatureFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return nil, fmt.Errorf("decode feature flag: %w", err)
	}
	return &flag, nil
}

func (featuresKind) MakeDeletedItem(key string, version int) Item {
	return &FeatureFlag{Key: key, Version: version, Deleted: true}
}

type segmentsKind struct{}

func (segmentsKind) Namespace() string     { return "segments" }
func (segmentsKind) StreamAPIPath() string { return "/segments/" }

func (segmentsKind) ParseItem(data []byte) (Item, error) {
	var segment Segment
	if err := json.Unmarshal(data, &segment); err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}
	return &segment, nil
}

func (segmentsKind) MakeDeletedItem(key string, version int) Item {
	return &Segment{Key: key, Version: version, Deleted: true}
}
