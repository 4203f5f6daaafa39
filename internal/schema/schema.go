// Package schema holds the index schemas: the mapping from attribute
// aliases to typed indexes, the per-schema reader-writer lock queries and
// ingestion contend on, and the per-key mutation counters that re-validate
// prefilter results.
package schema

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/minio/highwayhash"

	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
	"github.com/Aman-CERP/kvsearch/internal/query"
)

// DataType is the record representation the schema indexes.
type DataType string

const (
	DataHash DataType = "HASH"
	DataJSON DataType = "JSON"
)

// Attribute binds an alias to its identifier and typed index.
type Attribute struct {
	Alias      string
	Identifier string
	Kind       query.AttrKind

	Numeric  *index.Numeric
	Tag      *index.Tag
	TextMask postings.FieldMask
	Vector   index.Vector
}

// Schema is one index definition plus its live typed indexes.
type Schema struct {
	Name     string
	DB       int
	DataType DataType
	Prefixes []string

	mu      sync.RWMutex
	byAlias map[string]*Attribute
	byIdent map[string]*Attribute
	order   []*Attribute
	// text is the schema-wide text index shared by all text attributes.
	text          *index.Text
	nextTextField int

	seq        map[intern.String]uint64
	seqCounter uint64

	Version     uint64
	fingerprint uint64
}

// fingerprintKey is the fixed HighwayHash key for schema fingerprints.
var fingerprintKey = make([]byte, 32)

// New creates an empty schema.
func New(name string, db int, dataType DataType, prefixes []string) (*Schema, error) {
	if int64(len(prefixes)) > config.MaxPrefixes.Get() {
		return nil, kverrors.InvalidArgument("too many prefixes: max %d", config.MaxPrefixes.Get())
	}
	if dataType == "" {
		dataType = DataHash
	}
	return &Schema{
		Name:     name,
		DB:       db,
		DataType: dataType,
		Prefixes: prefixes,
		byAlias:  map[string]*Attribute{},
		byIdent:  map[string]*Attribute{},
		seq:      map[intern.String]uint64{},
	}, nil
}

// RLock acquires the read guard queries hold for their whole execution.
func (s *Schema) RLock() { s.mu.RLock() }

// RUnlock releases the read guard.
func (s *Schema) RUnlock() { s.mu.RUnlock() }

// TextIndexOptions configures the shared text index lazily on the first
// text attribute.
type TextIndexOptions = index.TextOptions

// AddNumericAttribute registers a numeric field.
func (s *Schema) AddNumericAttribute(alias, identifier string) error {
	return s.addAttribute(&Attribute{
		Alias: alias, Identifier: identifier, Kind: query.AttrNumeric,
		Numeric: index.NewNumeric(),
	})
}

// AddTagAttribute registers a tag field.
func (s *Schema) AddTagAttribute(alias, identifier string, separator byte, caseSensitive bool) error {
	return s.addAttribute(&Attribute{
		Alias: alias, Identifier: identifier, Kind: query.AttrTag,
		Tag: index.NewTag(separator, caseSensitive),
	})
}

// AddTextAttribute registers a text field, creating the shared text index
// on first use.
func (s *Schema) AddTextAttribute(alias, identifier string, opts TextIndexOptions) error {
	if s.text == nil {
		s.text = index.NewText(opts)
	}
	if s.nextTextField >= 64 {
		return kverrors.InvalidArgument("too many text fields")
	}
	mask := postings.FieldMask(1) << s.nextTextField
	if err := s.addAttribute(&Attribute{
		Alias: alias, Identifier: identifier, Kind: query.AttrText, TextMask: mask,
	}); err != nil {
		return err
	}
	s.nextTextField++
	return nil
}

// AddVectorAttribute registers a vector field backed by the given kernel.
func (s *Schema) AddVectorAttribute(alias, identifier string, vec index.Vector) error {
	count := 0
	for _, a := range s.order {
		if a.Kind == query.AttrVector {
			count++
		}
	}
	if int64(count+1) > config.MaxVectorAttributes.Get() {
		return kverrors.InvalidArgument("too many vector attributes: max %d", config.MaxVectorAttributes.Get())
	}
	return s.addAttribute(&Attribute{
		Alias: alias, Identifier: identifier, Kind: query.AttrVector, Vector: vec,
	})
}

func (s *Schema) addAttribute(a *Attribute) error {
	if _, dup := s.byAlias[a.Alias]; dup {
		return kverrors.InvalidArgument("duplicate field alias `%s`", a.Alias)
	}
	if _, dup := s.byIdent[a.Identifier]; dup {
		return kverrors.InvalidArgument("duplicate field identifier `%s`", a.Identifier)
	}
	s.byAlias[a.Alias] = a
	s.byIdent[a.Identifier] = a
	s.order = append(s.order, a)
	s.Version++
	s.fingerprint = 0
	return nil
}

// Attributes returns the attributes in declaration order.
func (s *Schema) Attributes() []*Attribute { return s.order }

// Attribute resolves an alias.
func (s *Schema) Attribute(alias string) (*Attribute, bool) {
	a, ok := s.byAlias[alias]
	return a, ok
}

// AttributeByIdentifier resolves an identifier.
func (s *Schema) AttributeByIdentifier(ident string) (*Attribute, bool) {
	a, ok := s.byIdent[ident]
	return a, ok
}

// Text returns the shared text index, nil when the schema has no text
// fields.
func (s *Schema) Text() *index.Text { return s.text }

// Field implements query.FieldResolver.
func (s *Schema) Field(alias string) (*query.Field, bool) {
	a, ok := s.byAlias[alias]
	if !ok {
		return nil, false
	}
	return &query.Field{
		Alias:      a.Alias,
		Identifier: a.Identifier,
		Kind:       a.Kind,
		Numeric:    viewOrNil(a.Numeric),
		Tag:        tagViewOrNil(a.Tag),
		TextMask:   a.TextMask,
	}, true
}

func viewOrNil(n *index.Numeric) query.NumericView {
	if n == nil {
		return nil
	}
	return n
}

func tagViewOrNil(t *index.Tag) query.TagView {
	if t == nil {
		return nil
	}
	return t
}

// TextFields implements query.FieldResolver.
func (s *Schema) TextFields() []*query.Field {
	var out []*query.Field
	for _, a := range s.order {
		if a.Kind == query.AttrText {
			f, _ := s.Field(a.Alias)
			out = append(out, f)
		}
	}
	return out
}

// MatchesKey reports whether a key falls under the schema's prefixes.
func (s *Schema) MatchesKey(key string) bool {
	if len(s.Prefixes) == 0 {
		return true
	}
	for _, p := range s.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// DecodeVector interprets a PARAMS blob as little-endian float32s.
func DecodeVector(raw string, dims int) ([]float32, error) {
	if len(raw) != dims*4 {
		return nil, kverrors.InvalidArgument("vector blob length %d does not match dimension %d", len(raw), dims)
	}
	out := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32([]byte(raw[i*4 : i*4+4]))
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// IndexDocument ingests (or re-ingests) a record's indexable attributes,
// keyed by identifier. Acquires the write guard and bumps the key's
// sequence number.
func (s *Schema) IndexDocument(key string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := intern.Make(key)
	s.removeLocked(k)

	for ident, raw := range attrs {
		a, ok := s.byIdent[ident]
		if !ok {
			continue
		}
		switch a.Kind {
		case query.AttrNumeric:
			if int64(len(raw)) > config.MaxNumericFieldLength.Get() {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				continue
			}
			a.Numeric.AddKey(k, v)
		case query.AttrTag:
			if int64(len(raw)) > config.MaxTagFieldLength.Get() {
				continue
			}
			a.Tag.AddKey(k, raw)
		case query.AttrText:
			s.text.AddField(k, a.TextMask, raw)
		case query.AttrVector:
			vec, err := DecodeVector(raw, a.Vector.Dimensions())
			if err != nil {
				return err
			}
			if err := a.Vector.AddKey(k, vec); err != nil {
				return err
			}
		}
	}
	s.seqCounter++
	s.seq[k] = s.seqCounter
	return nil
}

// RemoveDocument drops a key from every typed index.
func (s *Schema) RemoveDocument(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := intern.Make(key)
	s.removeLocked(k)
	s.seqCounter++
	delete(s.seq, k)
}

func (s *Schema) removeLocked(k intern.String) {
	if _, tracked := s.seq[k]; !tracked {
		return
	}
	for _, a := range s.order {
		switch a.Kind {
		case query.AttrNumeric:
			a.Numeric.RemoveKey(k)
		case query.AttrTag:
			a.Tag.RemoveKey(k)
		case query.AttrVector:
			a.Vector.RemoveKey(k)
		}
	}
	if s.text != nil {
		s.text.RemoveKey(k)
	}
}

// KeySeq returns the key's current mutation counter, 0 when untracked.
func (s *Schema) KeySeq(key intern.String) uint64 {
	return s.seq[key]
}

// TrackedKeys lists every indexed key.
func (s *Schema) TrackedKeys() []intern.String {
	keys := make([]intern.String, 0, len(s.seq))
	for k := range s.seq {
		keys = append(keys, k)
	}
	return keys
}

// NumDocs is the number of tracked keys.
func (s *Schema) NumDocs() int { return len(s.seq) }

// Fingerprint hashes the schema definition for cross-shard consistency
// checks.
func (s *Schema) Fingerprint() uint64 {
	if s.fingerprint != 0 {
		return s.fingerprint
	}
	h, _ := highwayhash.New64(fingerprintKey)
	_, _ = h.Write([]byte(s.Name))
	_, _ = h.Write([]byte(s.DataType))
	for _, a := range s.order {
		_, _ = h.Write([]byte(a.Alias))
		_, _ = h.Write([]byte(a.Identifier))
		_, _ = h.Write([]byte{byte(a.Kind)})
	}
	s.fingerprint = h.Sum64()
	return s.fingerprint
}
