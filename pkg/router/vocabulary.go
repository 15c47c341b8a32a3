package router

import (
	_ "embed"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyRaw []byte

// Vocabulary is the deployment-specific wording: which phrases skip the model, which cache
// key a message maps to, the fixed answers and the persona.
type Vocabulary struct {
	Persona         model.Persona   `yaml:"persona"`
	FastPath        []FastPathRule  `yaml:"fast_path"`
	CacheKeys       []CacheKeyGroup `yaml:"cache_keys"`
	DefaultCacheKey string          `yaml:"default_cache_key"`
	Examples        Examples        `yaml:"examples"`
	Answers         Answers         `yaml:"answers"`
}

// FastPathRule matches when the message contains any of Contains and none of Unless
type FastPathRule struct {
	Contains []string `yaml:"contains"`
	Unless   []string `yaml:"unless"`
}

type CacheKeyGroup struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
}

// Examples are few-shot samples per category for the classification prompt
type Examples struct {
	SQL    []string `yaml:"sql"`
	Cached []string `yaml:"cached"`
	RAG    []string `yaml:"rag"`
}

// Answers are the static replies the router sends without a strategy
type Answers struct {
	Refusal  string `yaml:"refusal"`
	Security string `yaml:"security"`
	Apology  string `yaml:"apology"`
	Failure  string `yaml:"failure"`
	Empty    string `yaml:"empty"`
}

// DefaultVocabulary returns the embedded vocabulary
func DefaultVocabulary() *Vocabulary {
	v, err := parseVocabulary(defaultVocabularyRaw)
	if err != nil {
		panic("embedded vocabulary is broken: " + err.Error())
	}
	return v
}

// LoadVocabulary reads a YAML file. Fields left empty keep the embedded defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read vocabulary file", goerr.V("path", path))
	}
	v, err := ParseVocabulary(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse vocabulary file", goerr.V("path", path))
	}
	return v, nil
}

// ParseVocabulary decodes raw YAML and fills missing sections from the embedded defaults
func ParseVocabulary(raw []byte) (*Vocabulary, error) {
	v, err := parseVocabulary(raw)
	if err != nil {
		return nil, err
	}
	v.fillFrom(DefaultVocabulary())
	return v, nil
}

func parseVocabulary(raw []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, goerr.Wrap(err, "invalid vocabulary yaml")
	}
	v.normalize()
	return &v, nil
}

func (v *Vocabulary) fillFrom(base *Vocabulary) {
	if v.Persona == (model.Persona{}) {
		v.Persona = base.Persona
	}
	if v.FastPath == nil {
		v.FastPath = base.FastPath
	}
	if v.CacheKeys == nil {
		v.CacheKeys = base.CacheKeys
	}
	if v.DefaultCacheKey == "" {
		v.DefaultCacheKey = base.DefaultCacheKey
	}
	if v.DefaultCacheKey == "" {
		v.DefaultCacheKey = "general"
	}
	if v.Examples.SQL == nil && v.Examples.Cached == nil && v.Examples.RAG == nil {
		v.Examples = base.Examples
	}

	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&v.Answers.Refusal, base.Answers.Refusal)
	fill(&v.Answers.Security, base.Answers.Security)
	fill(&v.Answers.Apology, base.Answers.Apology)
	fill(&v.Answers.Failure, base.Answers.Failure)
	fill(&v.Answers.Empty, base.Answers.Empty)
}

// normalize lower-cases keywords so matching only lower-cases the message
func (v *Vocabulary) normalize() {
	for i := range v.FastPath {
		v.FastPath[i].Contains = lowerAll(v.FastPath[i].Contains)
		v.FastPath[i].Unless = lowerAll(v.FastPath[i].Unless)
	}
	for i := range v.CacheKeys {
		v.CacheKeys[i].Keywords = lowerAll(v.CacheKeys[i].Keywords)
	}
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// mentionsAny matches words only where one starts, so "top" is found in "top 10" but not in
// "laptop". Plural and other suffixes still match.
func mentionsAny(text string, words []string) bool {
	for _, w := range words {
		for i := 0; i < len(text); {
			idx := strings.Index(text[i:], w)
			if idx < 0 {
				break
			}
			at := i + idx
			prev, _ := utf8.DecodeLastRuneInString(text[:at])
			if at == 0 || !(unicode.IsLetter(prev) || unicode.IsDigit(prev)) {
				return true
			}
			i = at + 1
		}
	}
	return false
}

func (r FastPathRule) match(lower string) bool {
	return containsAny(lower, r.Contains) && !containsAny(lower, r.Unless)
}

// MatchFastPath reports whether message should be answered from the cache without classification
func (v *Vocabulary) MatchFastPath(message string) bool {
	lower := strings.ToLower(message)
	for _, rule := range v.FastPath {
		if rule.match(lower) {
			return true
		}
	}
	return false
}

// CacheKey maps message to the first keyword group it mentions, or DefaultCacheKey
func (v *Vocabulary) CacheKey(message string) string {
	lower := strings.ToLower(message)
	for _, group := range v.CacheKeys {
		if mentionsAny(lower, group.Keywords) {
			return group.Key
		}
	}
	return v.DefaultCacheKey
}
