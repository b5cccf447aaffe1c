package model

// Segment is a named set of users, defined by explicit include/exclude lists
// and ordered rules. Segments are referenced from flag clauses via the
// "segmentMatch" operator.
type Segment struct {
	Key      string        `json:"key"`
	Version  int           `json:"version"`
	Deleted  bool          `json:"deleted,omitempty"`
	Salt     string        `json:"salt"`
	Included []string      `json:"included,omitempty"`
	Excluded []string      `json:"excluded,omitempty"`
	Rules    []SegmentRule `json:"rules,omitempty"`
}

// GetKey implements Item.
func (s *Segment) GetKey() string { return s.Key }

// GetVersion implements Item.
func (s *Segment) GetVersion() int { return s.Version }

// IsDeleted implements Item.
func (s *Segment) IsDeleted() bool { return s.Deleted }

// SegmentRule matches a user when every clause matches and, if Weight is set,
// the user's bucket value falls under Weight/100000.
type SegmentRule struct {
	Clauses  []Clause `json:"clauses,omitempty"`
	Weight   *int     `json:"weight,omitempty"`
	BucketBy string   `json:"bucketBy,omitempty"`
}
