package emitter

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// DefaultMaxTokens is T from spec.md §4.10: the token cap the target
// embedder's input accepts comfortably, chosen against the cl100k_base
// encoding this pipeline's embedding stage (internal/embed, OpenAI)
// actually uses.
const DefaultMaxTokens = 400

// tokenCounter counts tokens the same way the embedding stage will.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &tokenCounter{enc: enc}, nil
}

func (t *tokenCounter) count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Split breaks text into chunks of at most maxTokens tokens, splitting
// first at "## "-prefixed section boundaries, then paragraph boundaries
// within an oversized section, and finally sentence boundaries as a last
// resort (spec.md §4.10). Chunk ids follow
// salesforce_object_{ref}[_part_{n}], 1-indexed, only suffixed when more
// than one chunk results.
func Split(ref model.ObjectRef, contentHash, text string, maxTokens int, counter *tokenCounter) ([]model.Chunk, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	sections := splitOnPrefix(text, "## ")
	var pieces []string
	for _, section := range sections {
		if counter.count(section) <= maxTokens {
			pieces = append(pieces, section)
			continue
		}
		pieces = append(pieces, splitOversizedSection(section, maxTokens, counter)...)
	}

	pieces = packPieces(pieces, maxTokens, counter)

	baseID := fmt.Sprintf("salesforce_object_%s", ref)
	chunks := make([]model.Chunk, len(pieces))
	ids := make([]string, len(pieces))
	for i := range pieces {
		if len(pieces) == 1 {
			ids[i] = baseID
		} else {
			ids[i] = fmt.Sprintf("%s_part_%d", baseID, i+1)
		}
	}

	for i, piece := range pieces {
		siblings := make([]string, 0, len(ids)-1)
		for j, id := range ids {
			if j != i {
				siblings = append(siblings, id)
			}
		}
		chunks[i] = model.Chunk{
			ID:   ids[i],
			Text: piece,
			Metadata: model.ChunkMetadata{
				ObjectName:  string(ref),
				Type:        "salesforce_object",
				ContentHash: contentHash,
				PartIndex:   i + 1,
				TotalParts:  len(pieces),
				SiblingIDs:  siblings,
			},
		}
	}

	return chunks, nil
}

// packPieces greedily merges adjacent pieces below maxTokens so a
// document with several small sections doesn't explode into one chunk
// per section.
func packPieces(pieces []string, maxTokens int, counter *tokenCounter) []string {
	if len(pieces) == 0 {
		return pieces
	}
	var out []string
	current := pieces[0]
	for _, next := range pieces[1:] {
		combined := current + "\n" + next
		if counter.count(combined) <= maxTokens {
			current = combined
			continue
		}
		out = append(out, current)
		current = next
	}
	out = append(out, current)
	return out
}

func splitOversizedSection(section string, maxTokens int, counter *tokenCounter) []string {
	paragraphs := splitOnBlankLine(section)
	var pieces []string
	for _, p := range paragraphs {
		if counter.count(p) <= maxTokens {
			pieces = append(pieces, p)
			continue
		}
		pieces = append(pieces, splitOnSentence(p, maxTokens, counter)...)
	}
	return pieces
}

func splitOnPrefix(text, prefix string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	if len(sections) == 0 {
		return []string{text}
	}
	return sections
}

func splitOnBlankLine(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitOnSentence(text string, maxTokens int, counter *tokenCounter) []string {
	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' })
	var pieces []string
	var current strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if counter.count(s) > maxTokens {
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, splitByWords(s, maxTokens, counter)...)
			continue
		}

		candidate := current.String()
		if candidate != "" {
			candidate += ". "
		}
		candidate += s + "."

		if counter.count(candidate) > maxTokens && current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			current.WriteString(s + ".")
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	if len(pieces) == 0 {
		return []string{text}
	}
	return pieces
}

// splitByWords is the last-resort fallback for a run of text with no
// sentence-ending punctuation to split on at all.
func splitByWords(text string, maxTokens int, counter *tokenCounter) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder
	for _, w := range words {
		candidate := current.String()
		if candidate != "" {
			candidate += " "
		}
		candidate += w

		if counter.count(candidate) > maxTokens && current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			current.WriteString(w)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
