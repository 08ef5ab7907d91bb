package vocab

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/podsage/podsage/pkg/models"
)

// vocabularySchema validates the decoded vocabulary file before any index is
// built. Malformed rows are a startup error, not a runtime surprise.
const vocabularySchema = `{
	"type": "object",
	"required": ["tags"],
	"properties": {
		"tags": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "category"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"category": {"type": "string", "enum": ["business", "education", "other", "Business", "Education", "Other"]},
					"weight": {"type": "number", "minimum": 0, "maximum": 1},
					"synonyms": {"type": "array", "items": {"type": "string", "minLength": 1}}
				}
			}
		}
	}
}`

// Tag is one canonical label from the closed vocabulary, scoped to a category.
type Tag struct {
	Name     string          `yaml:"name"`
	Category models.Category `yaml:"-"`
	Synonyms []string        `yaml:"synonyms"`
	Weight   float64         `yaml:"weight"`
}

type tagRow struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Synonyms []string `yaml:"synonyms"`
	Weight   float64  `yaml:"weight"`
}

type vocabularyFile struct {
	Tags []tagRow `yaml:"tags"`
}

// Vocabulary is the immutable index built from one vocabulary file. Readers
// never lock; updates replace the whole value through Store.
type Vocabulary struct {
	tags           []Tag
	tagsByCategory map[models.Category][]Tag
	nameIndex      map[string]int // lowercased canonical name -> tags index
	synonymIndex   map[string]int // lowercased synonym -> tags index
}

// Load reads and validates a vocabulary file and builds the match indices.
// Duplicate synonyms across tags and malformed rows fail with ErrConfig.
func Load(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading vocabulary %s: %v", models.ErrConfig, path, err)
	}
	return Parse(raw)
}

// Parse builds a Vocabulary from raw YAML bytes.
func Parse(raw []byte) (*Vocabulary, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: vocabulary is not valid yaml: %v", models.ErrConfig, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(vocabularySchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: vocabulary schema check failed: %v", models.ErrConfig, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: malformed vocabulary row: %s", models.ErrConfig, result.Errors()[0])
	}

	var file vocabularyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfig, err)
	}

	v := &Vocabulary{
		tagsByCategory: make(map[models.Category][]Tag),
		nameIndex:      make(map[string]int),
		synonymIndex:   make(map[string]int),
	}

	for _, row := range file.Tags {
		tag := Tag{
			Name:     row.Name,
			Category: models.ParseCategory(row.Category),
			Synonyms: row.Synonyms,
			Weight:   row.Weight,
		}
		if tag.Weight == 0 {
			tag.Weight = 1.0
		}

		name := strings.ToLower(tag.Name)
		if _, dup := v.nameIndex[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tag name %q", models.ErrConfig, tag.Name)
		}

		idx := len(v.tags)
		v.tags = append(v.tags, tag)
		v.nameIndex[name] = idx
		v.tagsByCategory[tag.Category] = append(v.tagsByCategory[tag.Category], tag)

		for _, syn := range tag.Synonyms {
			key := strings.ToLower(syn)
			if prev, dup := v.synonymIndex[key]; dup && prev != idx {
				return nil, fmt.Errorf("%w: synonym %q claimed by both %q and %q",
					models.ErrConfig, syn, v.tags[prev].Name, tag.Name)
			}
			v.synonymIndex[key] = idx
		}
	}

	return v, nil
}

// Tags returns every tag, in file order.
func (v *Vocabulary) Tags() []Tag { return v.tags }

// TagsFor returns the tags scoped to one category.
func (v *Vocabulary) TagsFor(c models.Category) []Tag { return v.tagsByCategory[c] }

// Lookup resolves a token to its tag through the canonical name or a synonym.
func (v *Vocabulary) Lookup(token string) (Tag, bool) {
	key := strings.ToLower(token)
	if idx, ok := v.nameIndex[key]; ok {
		return v.tags[idx], true
	}
	if idx, ok := v.synonymIndex[key]; ok {
		return v.tags[idx], true
	}
	return Tag{}, false
}

// Match is one scored tag hit against a query.
type Match struct {
	Tag           Tag
	Score         float64
	MatchedTokens []string
}

const (
	nameMatchScore    = 1.0
	synonymMatchScore = 0.8
)

// Match scores every tag against the query text. A canonical-name hit scores
// 1.0, a synonym hit 0.8, per-tag score is the max of the two. The result is
// sorted score-descending with alphabetical tag names breaking ties, so equal
// inputs always produce equal output. Queries that match nothing return an
// empty list.
func (v *Vocabulary) Match(queryText string) []Match {
	lower := strings.ToLower(queryText)
	tokens := tokenize(lower)

	best := make(map[int]*Match)

	record := func(idx int, score float64, token string) {
		m, ok := best[idx]
		if !ok {
			m = &Match{Tag: v.tags[idx]}
			best[idx] = m
		}
		if score > m.Score {
			m.Score = score
		}
		m.MatchedTokens = append(m.MatchedTokens, token)
	}

	for _, token := range tokens {
		if idx, ok := v.nameIndex[token]; ok {
			record(idx, nameMatchScore, token)
		} else if idx, ok := v.synonymIndex[token]; ok {
			record(idx, synonymMatchScore, token)
		}
	}

	// Names and synonyms in scripts without word boundaries (zh, ja) never
	// align with whitespace tokens, so fall back to substring containment.
	for key, idx := range v.nameIndex {
		if !isSpaceDelimited(key) && strings.Contains(lower, key) {
			record(idx, nameMatchScore, key)
		}
	}
	for key, idx := range v.synonymIndex {
		if !isSpaceDelimited(key) && strings.Contains(lower, key) {
			record(idx, synonymMatchScore, key)
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		sort.Strings(m.MatchedTokens)
		matches = append(matches, *m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Tag.Name < matches[j].Tag.Name
	})

	return matches
}

// TagOverlap is the Jaccard similarity of two tag-name sets, in [0,1].
func TagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[strings.ToLower(t)] = struct{}{}
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}

	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.' ||
			r == '?' || r == '!' || r == ';' || r == ':' || r == '"' || r == '\''
	})
}

func isSpaceDelimited(s string) bool {
	for _, r := range s {
		if r > 0x2FFF { // CJK and beyond
			return false
		}
	}
	return true
}

// Store holds the active Vocabulary behind an atomic pointer so hot reloads
// never block readers.
type Store struct {
	path    string
	current atomic.Pointer[Vocabulary]
	logger  *logrus.Logger
}

// NewStore loads the vocabulary at path and wraps it for atomic reloads.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	v, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, logger: logger}
	s.current.Store(v)

	logger.WithFields(logrus.Fields{
		"path": path,
		"tags": len(v.Tags()),
	}).Info("Tag vocabulary loaded")

	return s, nil
}

// Current returns the active vocabulary snapshot.
func (s *Store) Current() *Vocabulary { return s.current.Load() }

// Reload re-reads the file and swaps the vocabulary in one step. A failed
// reload keeps the previous vocabulary active.
func (s *Store) Reload() error {
	v, err := Load(s.path)
	if err != nil {
		s.logger.WithError(err).Error("Vocabulary reload failed, keeping previous")
		return err
	}
	s.current.Store(v)
	s.logger.WithField("tags", len(v.Tags())).Info("Tag vocabulary reloaded")
	return nil
}
