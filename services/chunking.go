package services

import (
	"fmt"
	"regexp"
	"strings"

	"kb-search-platform/models"
)

// ChunkingService splits document text into retrieval-sized chunks with
// paragraph and sentence boundary awareness. Chunk ids are deterministic,
// derived from the document id and chunk order, so re-ingesting identical
// content produces identical ids and fusion can dedupe across retrieval runs.
type ChunkingService struct {
	maxChunkSize   int
	overlap        int
	minChunkSize   int
	sentenceRegex  *regexp.Regexp
	paragraphRegex *regexp.Regexp
}

// NewChunkingService creates a new chunking service
func NewChunkingService(maxChunkSize, overlap, minChunkSize int) *ChunkingService {
	return &ChunkingService{
		maxChunkSize:   maxChunkSize,
		overlap:        overlap,
		minChunkSize:   minChunkSize,
		sentenceRegex:  regexp.MustCompile(`[.!?]+[\s]+`),
		paragraphRegex: regexp.MustCompile(`\n\n+`),
	}
}

// ChunkDocument chunks text for the given document id. Positions are char
// offsets into the original text and survive into citations.
func (cs *ChunkingService) ChunkDocument(docID, text string) []models.ContentChunk {
	// Split by paragraphs first for better context
	paragraphs := cs.paragraphRegex.Split(text, -1)
	paragraphs = filterEmpty(paragraphs)

	if len(paragraphs) == 0 {
		return []models.ContentChunk{}
	}

	var chunks []models.ContentChunk
	currentChunk := new(strings.Builder)
	currentSize := 0
	chunkIndex := 0
	chunkStart := 0
	searchFrom := 0

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if len(paragraph) == 0 {
			continue
		}

		// Locate this paragraph in the source text for position tracking
		paraPos := strings.Index(text[searchFrom:], paragraph)
		if paraPos >= 0 {
			paraPos += searchFrom
			searchFrom = paraPos + len(paragraph)
		} else {
			paraPos = searchFrom
		}

		paraSize := len(paragraph)

		// If adding this paragraph would exceed max size
		if currentSize+paraSize > cs.maxChunkSize && currentSize >= cs.minChunkSize {
			// Finalize current chunk
			if currentChunk.Len() > 0 {
				chunks = append(chunks, cs.createChunk(docID, currentChunk.String(), chunkIndex, chunkStart))
				chunkIndex++
			}

			// Start new chunk with overlap from the previous one
			overlapText := ""
			if cs.overlap > 0 {
				overlapText = cs.getOverlapText(currentChunk.String(), cs.overlap)
			}

			currentChunk = new(strings.Builder)
			currentSize = 0
			chunkStart = paraPos

			if len(overlapText) > 0 {
				currentChunk.WriteString(overlapText)
				currentSize += len(overlapText)
				// Overlap text belongs to the previous span
				chunkStart = paraPos - len(overlapText)
				if chunkStart < 0 {
					chunkStart = 0
				}
			}
		}

		if currentChunk.Len() == 0 && currentSize == 0 {
			chunkStart = paraPos
		}

		// Add paragraph to current chunk
		if currentChunk.Len() > 0 {
			currentChunk.WriteString("\n\n")
		}
		currentChunk.WriteString(paragraph)
		currentSize += paraSize
	}

	// Add final chunk if there's remaining content
	if currentChunk.Len() > 0 {
		chunks = append(chunks, cs.createChunk(docID, currentChunk.String(), chunkIndex, chunkStart))
	}

	return chunks
}

// createChunk creates a content chunk with metadata
func (cs *ChunkingService) createChunk(docID, text string, order, position int) models.ContentChunk {
	words := strings.Fields(text)

	return models.ContentChunk{
		ChunkID:    fmt.Sprintf("%s:chunk_%d", docID, order),
		Text:       text,
		Order:      order,
		Position:   position,
		CharCount:  len(text),
		WordCount:  len(words),
		Keywords:   cs.extractKeywords(text, 5),
		TokenCount: len(text) / 4,
	}
}

// extractKeywords extracts top keywords from text
func (cs *ChunkingService) extractKeywords(text string, limit int) []string {
	words := strings.Fields(strings.ToLower(text))

	// Filter common stop words
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
		"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
		"with": true, "is": true, "are": true, "was": true, "were": true,
	}

	wordFreq := make(map[string]int)
	for _, word := range words {
		word = strings.Trim(word, ".,;:!?()[]{}\"")
		if len(word) > 2 && !stopWords[word] {
			wordFreq[word]++
		}
	}

	// Get top keywords
	keywords := make([]string, 0, limit)
	for word, freq := range wordFreq {
		if freq >= 2 && len(keywords) < limit {
			keywords = append(keywords, word)
		}
	}

	return keywords
}

// getOverlapText extracts overlap text from the end of the previous chunk
func (cs *ChunkingService) getOverlapText(text string, overlapSize int) string {
	if len(text) <= overlapSize {
		return text
	}

	tail := text[len(text)-overlapSize:]

	// Prefer starting the overlap at a sentence boundary inside the tail
	if loc := cs.sentenceRegex.FindStringIndex(tail); loc != nil {
		boundary := tail[loc[1]:]
		if len(strings.TrimSpace(boundary)) > 0 {
			return boundary
		}
	}

	return tail
}

// filterEmpty removes empty strings from slice
func filterEmpty(slice []string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if len(strings.TrimSpace(s)) > 0 {
			result = append(result, s)
		}
	}
	return result
}
