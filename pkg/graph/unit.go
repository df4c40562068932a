package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/loader"

	"github.com/pkoukk/tiktoken-go"
)

const fixedOverlapTokens = 50

// contentHash derives the stable id prefix for a document's units from its
// raw text. Re-processing identical content yields identical unit ids, which
// keeps staged upserts idempotent.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func unitID(hash string, index int) string {
	return hash + "_" + strconv.Itoa(index)
}

func getUnitsFromText(
	ctx context.Context,
	file loader.GraphFile,
	encoder string,
	strategy ChunkStrategy,
) ([]*common.Unit, error) {
	textBytes, err := file.GetText(ctx)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(textBytes))
	if text == "" {
		return nil, nil
	}

	budget := file.MaxTokens
	if budget <= 0 {
		budget = strategyBudget(strategy)
	}

	if file.FileType == loader.GraphFileTypeCSV {
		return transformCSVIntoUnits(text, file.ID, encoder, budget)
	}

	text = loader.NormalizeMarkdownImageDescriptions(text)

	switch strategy {
	case StrategySentence:
		return transformSentencesIntoUnits(text, file.ID, encoder, budget)
	case StrategyFixed:
		return transformFixedIntoUnits(text, file.ID, encoder, budget)
	case StrategySemantic:
		return transformSectionsIntoUnits(text, file.ID, encoder, budget)
	default:
		return transformParagraphsIntoUnits(text, file.ID, encoder, budget)
	}
}

// commonColumnWords are substrings that frequently appear in CSV column
// names. Two or more hits in the first row mark it as a header.
var commonColumnWords = []string{
	"id", "name", "date", "time", "type", "status", "description",
	"value", "amount", "count", "total", "email", "phone",
}

// countNumericFields reports how many comma-separated fields of row parse
// as numbers, along with the field total.
func countNumericFields(row string) (numeric, total int) {
	for field := range strings.SplitSeq(row, ",") {
		field = strings.Trim(strings.TrimSpace(field), "\"")
		total++
		if _, err := strconv.ParseFloat(field, 64); err == nil {
			numeric++
		}
	}
	return numeric, total
}

// isCSVHeader decides whether the first row of a table names its columns
// rather than carrying data. The decision compares how numeric the first
// row is against a sample of the remaining rows and looks for well-known
// column names.
func isCSVHeader(rows []string) bool {
	if len(rows) < 2 {
		return false
	}

	firstNumeric, firstTotal := countNumericFields(rows[0])

	sample := min(5, len(rows)-1)
	dataNumeric, dataTotal := 0, 0
	for _, row := range rows[1 : 1+sample] {
		n, t := countNumericFields(row)
		dataNumeric += n
		dataTotal += t
	}

	firstRatio := float64(firstNumeric) / float64(firstTotal)
	dataRatio := 0.0
	if dataTotal > 0 {
		dataRatio = float64(dataNumeric) / float64(dataTotal)
	}

	// A first row clearly less numeric than the data below it is a header.
	if firstRatio < 0.3 && dataRatio > firstRatio+0.2 {
		return true
	}

	matches := 0
	for field := range strings.SplitSeq(rows[0], ",") {
		field = strings.ToLower(strings.Trim(strings.TrimSpace(field), "\""))
		for _, word := range commonColumnWords {
			if strings.Contains(field, word) {
				matches++
				break
			}
		}
	}
	if matches >= 2 {
		return true
	}

	// No numbers up top while the data rows have them.
	return firstNumeric == 0 && dataNumeric > 0
}

// transformCSVIntoUnits chunks tabular content row-wise, repeating the
// header at the top of every chunk so each unit stays interpretable on
// its own. Start and End carry the data-row range of the chunk.
// splitCSVHeader separates a detected header row from the data rows.
// Tables without a recognizable header keep every row as data.
func splitCSVHeader(rows []string) (header string, data []string) {
	if isCSVHeader(rows) {
		return rows[0], rows[1:]
	}
	return "", rows
}

// transformCSVIntoUnits chunks a table row-wise. Each unit repeats the
// header row so it stays interpretable on its own; Start and End index
// into the data rows.
func transformCSVIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]*common.Unit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	header, data := splitCSVHeader(strings.Split(text, "\n"))
	hash := contentHash(text)

	var (
		chunks  []*common.Unit
		pending []string
		tokens  int
		cursor  int
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		body := strings.Join(pending, "\n")
		if header != "" {
			body = header + "\n" + body
		}
		chunks = append(chunks, &common.Unit{
			ID:         unitID(hash, len(chunks)),
			DocumentID: documentID,
			Index:      len(chunks),
			Start:      cursor - len(pending),
			End:        cursor,
			Text:       body,
			Type:       common.UnitTypeTable,
		})
		pending = nil
		tokens = 0
	}

	for _, row := range data {
		cost := len(enc.Encode(row, nil, nil)) + 1
		if tokens+cost > maxTokens {
			flush()
		}
		pending = append(pending, row)
		tokens += cost
		cursor++
	}
	flush()

	return chunks, nil
}

// transformSentencesIntoUnits accumulates sentences until the token budget
// is reached. Start and End carry the sentence range of the chunk.
func transformSentencesIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]*common.Unit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	hash := contentHash(text)

	var chunks []*common.Unit
	start := 0

	emit := func(end int) {
		if end <= start {
			return
		}
		body := strings.TrimSpace(strings.Join(sentences[start:end], " "))
		chunks = append(chunks, &common.Unit{
			ID:         unitID(hash, len(chunks)),
			DocumentID: documentID,
			Index:      len(chunks),
			Start:      start,
			End:        end,
			Text:       body,
			Type:       classifyUnitText(body),
		})
		start = end
	}

	// Grow the window one sentence at a time; a sentence that would push
	// the window over budget closes it and opens the next one. A single
	// oversized sentence still becomes its own unit.
	for i := 1; i < len(sentences); i++ {
		candidate := strings.Join(sentences[start:i+1], " ")
		if len(enc.Encode(candidate, nil, nil)) > maxTokens {
			emit(i)
		}
	}
	emit(len(sentences))

	return chunks, nil
}

// transformFixedIntoUnits slices the token stream into fixed windows with
// overlap, so statements near a window boundary appear in both neighboring
// chunks. Start and End carry token offsets.
func transformFixedIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]*common.Unit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	overlap := fixedOverlapTokens
	if overlap >= maxTokens {
		overlap = maxTokens / 2
	}
	step := maxTokens - overlap

	hash := contentHash(text)

	var chunks []*common.Unit
	for start := 0; start < len(tokens); start += step {
		end := min(start+maxTokens, len(tokens))
		chunkText := strings.TrimSpace(enc.Decode(tokens[start:end]))
		if chunkText != "" {
			unit := &common.Unit{
				ID:         unitID(hash, len(chunks)),
				DocumentID: documentID,
				Index:      len(chunks),
				Start:      start,
				End:        end,
				Text:       chunkText,
				Type:       classifyUnitText(chunkText),
			}
			chunks = append(chunks, unit)
		}
		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

func transformParagraphsIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]*common.Unit, error) {
	return transformBlocksIntoUnits(text, documentID, encoder, maxTokens, false)
}

func transformSectionsIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]*common.Unit, error) {
	return transformBlocksIntoUnits(text, documentID, encoder, maxTokens, true)
}

// transformBlocksIntoUnits accumulates whole paragraphs until the token
// budget is reached. With sectionAware set, a sniffed section title closes
// the running chunk, and every following unit carries the title in Section
// until the next one appears. Start and End carry the paragraph range.
func transformBlocksIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
	sectionAware bool,
) ([]*common.Unit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	paragraphs := splitIntoParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	hash := contentHash(text)

	var chunks []*common.Unit
	var current []string
	currentTokens := 0
	blockCursor := 0
	section := ""

	flushChunk := func() {
		if len(current) == 0 {
			return
		}

		chunkText := strings.TrimSpace(strings.Join(current, "\n\n"))
		unit := &common.Unit{
			ID:         unitID(hash, len(chunks)),
			DocumentID: documentID,
			Index:      len(chunks),
			Start:      blockCursor - len(current),
			End:        blockCursor,
			Text:       chunkText,
			Type:       classifyUnitText(chunkText),
			Section:    section,
		}
		chunks = append(chunks, unit)
		current = nil
		currentTokens = 0
	}

	for _, paragraph := range paragraphs {
		if sectionAware {
			firstLine, _, _ := strings.Cut(paragraph, "\n")
			if title, ok := sniffSectionTitle(firstLine); ok {
				flushChunk()
				section = title
			}
		}

		paragraphTokens := len(enc.Encode(paragraph, nil, nil))
		if paragraphTokens > maxTokens {
			flushChunk()
			// Oversized paragraphs are split sentence-wise instead of being
			// truncated. All pieces share the paragraph's block range.
			for _, piece := range splitOversizedBlock(enc, paragraph, maxTokens) {
				unit := &common.Unit{
					ID:         unitID(hash, len(chunks)),
					DocumentID: documentID,
					Index:      len(chunks),
					Start:      blockCursor,
					End:        blockCursor + 1,
					Text:       piece,
					Type:       classifyUnitText(piece),
					Section:    section,
				}
				chunks = append(chunks, unit)
			}
			blockCursor++
			continue
		}

		if currentTokens+paragraphTokens > maxTokens && len(current) > 0 {
			flushChunk()
		}

		current = append(current, paragraph)
		currentTokens += paragraphTokens
		blockCursor++
	}

	flushChunk()

	return chunks, nil
}

var paragraphSplitRe = regexp.MustCompile(`\n[ \t]*\n+`)

func splitIntoParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	parts := paragraphSplitRe.Split(normalized, -1)

	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// splitOversizedBlock breaks a paragraph that alone exceeds the budget into
// sentence accumulations. A single sentence over the budget is hard-sliced
// on token boundaries as a last resort.
func splitOversizedBlock(enc *tiktoken.Tiktoken, text string, maxTokens int) []string {
	var pieces []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		piece := strings.TrimSpace(current.String())
		if piece != "" {
			pieces = append(pieces, piece)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, sentence := range splitIntoSentences(text) {
		tokens := enc.Encode(sentence, nil, nil)
		if len(tokens) > maxTokens {
			flush()
			for start := 0; start < len(tokens); start += maxTokens {
				end := min(start+maxTokens, len(tokens))
				piece := strings.TrimSpace(enc.Decode(tokens[start:end]))
				if piece != "" {
					pieces = append(pieces, piece)
				}
			}
			continue
		}

		if currentTokens+len(tokens) > maxTokens && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		currentTokens += len(tokens)
	}

	flush()

	return pieces
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*[.)]?)\s+(.+)$`)
	listMarkerRe      = regexp.MustCompile(`^([-*•]\s+|\d+[.)]\s+)`)
)

// sniffSectionTitle reports whether a line looks like a section heading and
// returns the bare title text. Recognized forms: markdown headings, numbered
// headings ("2.1 Results"), and short standalone title-case lines.
func sniffSectionTitle(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.Contains(trimmed, "|") {
		return "", false
	}

	if strings.HasPrefix(trimmed, "#") {
		title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if title == "" {
			return "", false
		}
		return title, true
	}

	if len(trimmed) > 80 {
		return "", false
	}

	if m := numberedHeadingRe.FindStringSubmatch(trimmed); m != nil {
		rest := strings.TrimSuffix(strings.TrimSpace(m[2]), ":")
		if !strings.ContainsAny(rest, ".!?") && isTitleCaseLine(rest) {
			return rest, true
		}
		return "", false
	}

	cleaned := strings.TrimSuffix(trimmed, ":")
	if strings.ContainsAny(cleaned, ".!?") {
		return "", false
	}
	if isTitleCaseLine(cleaned) {
		return cleaned, true
	}

	return "", false
}

var minorTitleWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "or": true,
	"in": true, "on": true, "for": true, "to": true, "with": true, "at": true,
}

// isTitleCaseLine reports whether every significant word starts uppercase.
// Minor words (articles, short prepositions) may stay lowercase except in
// the leading position.
func isTitleCaseLine(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 8 {
		return false
	}

	for i, word := range words {
		r := []rune(word)[0]
		if unicode.IsDigit(r) {
			continue
		}
		if !unicode.IsLetter(r) {
			return false
		}
		if unicode.IsUpper(r) {
			continue
		}
		if i > 0 && minorTitleWords[strings.ToLower(word)] {
			continue
		}
		return false
	}
	return true
}

// classifyUnitText tags a chunk with the dominant shape of its content so
// downstream consumers can treat tabular and list data differently.
func classifyUnitText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return common.UnitTypeText
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 1 {
		if _, ok := sniffSectionTitle(lines[0]); ok {
			return common.UnitTypeTitle
		}
		return common.UnitTypeText
	}

	tableRows := 0
	listRows := 0
	total := 0
	for _, line := range lines {
		lineTrimmed := strings.TrimSpace(line)
		if lineTrimmed == "" {
			continue
		}
		total++
		if strings.Contains(lineTrimmed, "|") {
			tableRows++
		} else if listMarkerRe.MatchString(lineTrimmed) {
			listRows++
		}
	}

	if total == 0 {
		return common.UnitTypeText
	}
	if tableRows*2 >= total {
		return common.UnitTypeTable
	}
	if listRows*2 >= total {
		return common.UnitTypeList
	}
	return common.UnitTypeText
}

// tableDelimiterRe matches a markdown table separator row such as
// "|---|---|" or "--- | ---".
var tableDelimiterRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// hasTerminalPunct reports whether s ends a sentence.
func hasTerminalPunct(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// splitIntoSentences turns text into sentence strings. Sentences may span
// lines and blank lines always close one. A markdown table survives as a
// single sentence with its rows newline-joined, so the chunker cannot cut
// it apart.
func splitIntoSentences(text string) []string {
	var (
		sentences []string
		buf       strings.Builder
		inTable   bool
	)

	emit := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			sentences = append(sentences, s)
		}
		buf.Reset()
	}

	// Prose accumulates in buf until terminal punctuation shows up.
	prose := func(line string) {
		for _, sentence := range splitLineIntoSentences(line) {
			if buf.Len() > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(sentence)
			if hasTerminalPunct(sentence) {
				emit()
			}
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		isRow := trimmed != "" && strings.Contains(trimmed, "|")

		switch {
		case inTable && isRow:
			buf.WriteString("\n")
			buf.WriteString(line)
		case inTable:
			// A blank or non-table line closes the table.
			emit()
			inTable = false
			if trimmed != "" {
				prose(trimmed)
			}
		case isRow && i+1 < len(lines) && tableDelimiterRe.MatchString(strings.TrimSpace(lines[i+1])):
			emit()
			inTable = true
			buf.WriteString(line)
		case isRow:
			// A lone pipe-bearing line without a separator underneath.
			emit()
			sentences = append(sentences, trimmed)
		case trimmed == "":
			emit()
		default:
			prose(trimmed)
		}
	}
	emit()

	return sentences
}

// isSentenceEnd reports whether b terminates a sentence.
func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// isTrailingMark reports whether b may close a quotation or bracket right
// after terminal punctuation.
func isTrailingMark(b byte) bool {
	switch b {
	case '"', '\'', ')', ']', '}':
		return true
	}
	return false
}

// splitLineIntoSentences cuts one line at sentence boundaries. Enumerators
// like "1. " do not end a sentence, and punctuation runs ("?!", "...")
// plus closing quotes or brackets stay attached to the sentence they end.
func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	cut := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])
		if !isSentenceEnd(line[i]) {
			continue
		}
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for ; j < len(line) && isSentenceEnd(line[j]); j++ {
			current.WriteByte(line[j])
		}
		for ; j < len(line) && isTrailingMark(line[j]); j++ {
			current.WriteByte(line[j])
		}
		cut()
		i = j - 1
	}
	cut()

	return sentences
}
