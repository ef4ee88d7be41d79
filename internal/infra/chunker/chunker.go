// Package chunker implements C6: turning a parsed document into the ordered
// chunk sequence consumed by the embedding worker and the answer composer,
// per spec.md §4.6. The token-window fallback strategy and tiktoken-go usage
// are grounded on the teacher's internal/infra/uploadask/chunker/simple.go;
// the hierarchical/contextualization pass on top of it is new, driven
// directly by spec.md's five numbered steps.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/infra/parser"
)

const (
	StrategyHierarchical = "hierarchical"
	StrategyTokenWindow  = "token-window"
)

// Config bounds chunk size and controls peer merging (spec.md §4.6).
type Config struct {
	MaxTokens  int
	Overlap    int
	MergePeers bool
}

// DefaultConfig matches the teacher's SimpleChunker defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 800, Overlap: 80, MergePeers: true}
}

// Chunker splits parsed document content into the chunk sequence.
type Chunker struct {
	cfg     Config
	encoder *tiktoken.Tiktoken
}

// New constructs a Chunker, falling back to whitespace-word counting if the
// cl100k_base encoding cannot be loaded (mirrors simple.go's behavior).
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Chunker{cfg: cfg, encoder: enc}
}

type region struct {
	headingChain []string
	sectionTitle string
	text         string
}

// Chunk produces the ordered chunk sequence for documentID. title is carried
// into every chunk's DocumentTitle field for retrieval-time convenience.
func (c *Chunker) Chunk(documentID uuid.UUID, title, content string, structure []parser.Heading) []document.Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	regions := splitIntoRegions(content, structure)
	var chunks []document.Chunk
	index := 0
	if len(regions) == 1 && len(regions[0].headingChain) == 0 {
		// No structure discovered at all: degrade straight to the
		// deterministic token-window fallback (spec.md §4.6 step 5).
		for _, body := range c.tokenWindow(regions[0].text) {
			chunks = append(chunks, c.buildChunk(documentID, title, index, regions[0], body, StrategyTokenWindow))
			index++
		}
		return chunks
	}

	type unit struct {
		region region
		body   string
	}
	var units []unit
	for _, r := range regions {
		bodies := c.refine(r.text)
		for _, b := range bodies {
			units = append(units, unit{region: r, body: b})
		}
	}

	if c.cfg.MergePeers {
		merged := make([]unit, 0, len(units))
		for _, u := range units {
			if n := len(merged); n > 0 && sameSection(merged[n-1].region, u.region) {
				combined := merged[n-1].body + "\n\n" + u.body
				if c.countTokens(combined) <= c.cfg.MaxTokens {
					merged[n-1].body = combined
					continue
				}
			}
			merged = append(merged, u)
		}
		units = merged
	}

	for _, u := range units {
		strategy := StrategyHierarchical
		chunks = append(chunks, c.buildChunk(documentID, title, index, u.region, u.body, strategy))
		index++
	}
	return chunks
}

func (c *Chunker) buildChunk(documentID uuid.UUID, title string, index int, r region, body, strategy string) document.Chunk {
	contextualized := body
	if len(r.headingChain) > 0 {
		contextualized = strings.Join(r.headingChain, "\n") + "\n" + body
	}
	return document.Chunk{
		DocumentID:         documentID,
		ChunkIndex:         index,
		Text:               body,
		ContextualizedText: contextualized,
		TokenCount:         c.countTokens(contextualized),
		SectionTitle:       r.sectionTitle,
		ChunkingStrategy:   strategy,
		DocumentTitle:      title,
	}
}

func sameSection(a, b region) bool {
	if a.sectionTitle != b.sectionTitle {
		return false
	}
	if len(a.headingChain) != len(b.headingChain) {
		return false
	}
	for i := range a.headingChain {
		if a.headingChain[i] != b.headingChain[i] {
			return false
		}
	}
	return true
}

// splitIntoRegions partitions content along the heading sequence, each
// region carrying its enclosing heading chain top-down (spec.md §4.6 step 1).
// When structure is empty, it returns a single region with no heading chain.
func splitIntoRegions(content string, structure []parser.Heading) []region {
	if len(structure) == 0 {
		return []region{{text: content}}
	}
	lines := strings.Split(content, "\n")

	type boundary struct {
		heading    parser.Heading
		chain      []string
		startLine  int
	}
	var stack []parser.Heading
	var bounds []boundary
	for _, h := range structure {
		for len(stack) > 0 && stack[len(stack)-1].Level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
		chain := make([]string, len(stack))
		for i, s := range stack {
			chain[i] = s.Title
		}
		bounds = append(bounds, boundary{heading: h, chain: chain, startLine: h.LineOffset + 1})
	}

	var regions []region
	if bounds[0].startLine > 1 {
		preamble := strings.TrimSpace(strings.Join(lines[:structure[0].LineOffset], "\n"))
		if preamble != "" {
			regions = append(regions, region{text: preamble})
		}
	}
	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = structure[i+1].LineOffset
		}
		if b.startLine >= end {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[b.startLine:end], "\n"))
		if text == "" {
			continue
		}
		regions = append(regions, region{
			headingChain: b.chain,
			sectionTitle: b.heading.Title,
			text:         text,
		})
	}
	if len(regions) == 0 {
		return []region{{text: content}}
	}
	return regions
}

var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// refine emits token-bounded units from a single region's text, respecting
// paragraph and sentence boundaries (spec.md §4.6 step 2). A paragraph that
// alone exceeds MaxTokens is split via the token-window strategy, without
// merging across that split boundary (spec.md §4.6 edge case).
func (c *Chunker) refine(text string) []string {
	paragraphs := splitParagraphs(text)
	var out []string
	var current strings.Builder
	flush := func() {
		if body := strings.TrimSpace(current.String()); body != "" {
			out = append(out, body)
		}
		current.Reset()
	}
	for _, p := range paragraphs {
		if c.countTokens(p) > c.cfg.MaxTokens {
			flush()
			out = append(out, c.tokenWindow(p)...)
			continue
		}
		candidate := current.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += p
		if c.countTokens(candidate) > c.cfg.MaxTokens {
			flush()
			current.WriteString(p)
		} else {
			current.Reset()
			current.WriteString(candidate)
		}
	}
	flush()
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// tokenWindow is the deterministic fallback strategy: a sliding window of
// MaxTokens tokens with Overlap-token overlap across the tokenized text
// (spec.md §4.6 step 5). Identical input always yields identical output.
func (c *Chunker) tokenWindow(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.encoder == nil {
		return c.tokenWindowWords(text)
	}
	ids := c.encoder.Encode(text, nil, nil)
	if len(ids) == 0 {
		return nil
	}
	step := c.cfg.MaxTokens - c.cfg.Overlap
	if step <= 0 {
		step = c.cfg.MaxTokens
	}
	var out []string
	for start := 0; start < len(ids); start += step {
		end := start + c.cfg.MaxTokens
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, strings.TrimSpace(c.encoder.Decode(ids[start:end])))
		if end == len(ids) {
			break
		}
	}
	return out
}

func (c *Chunker) tokenWindowWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.cfg.MaxTokens - c.cfg.Overlap
	if step <= 0 {
		step = c.cfg.MaxTokens
	}
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + c.cfg.MaxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func (c *Chunker) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
