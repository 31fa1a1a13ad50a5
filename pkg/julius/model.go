package julius

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Protocol tags and attributes.
const (
	TagRecogOut   = "RECOGOUT"
	TagSHYPO      = "SHYPO"
	TagWHYPO      = "WHYPO"
	TagInput      = "INPUT"
	TagInputParam = "INPUTPARAM"
	TagStartProc  = "STARTPROC"
	TagSysInfo    = "SYSINFO"
	TagRecogFail  = "RECOGFAIL"
	TagRejected   = "REJECTED"
	TagGramInfo   = "GRAMINFO"

	AttrScore      = "SCORE"
	AttrWord       = "WORD"
	AttrConfidence = "CM"
	AttrStatus     = "STATUS"
	AttrProcess    = "PROCESS"

	// SentenceStart and SentenceEnd are the boundary pseudo-words.
	SentenceStart = "<s>"
	SentenceEnd   = "</s>"
)

var (
	errMissingNode = errors.New("node missing")
	errMissingAttr = errors.New("attribute missing")
)

// Word is one recognized token and its confidence measure.
type Word struct {
	Text       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// String returns the word in lower case.
func (w Word) String() string {
	return strings.ToLower(w.Text)
}

// Len returns the number of characters in the word.
func (w Word) Len() int {
	return utf8.RuneCountInString(w.Text)
}

// Sentence is a recognition hypothesis. Words keep hypothesis order and never
// contain boundary markers.
type Sentence struct {
	Words []Word  `json:"words"`
	Score float64 `json:"score"`
}

// String joins the lower-cased words with single spaces.
func (s Sentence) String() string {
	parts := make([]string, len(s.Words))
	for i, w := range s.Words {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

// Len returns the number of words.
func (s Sentence) Len() int {
	return len(s.Words)
}

// SentenceFromDocument converts the first SHYPO of a RECOGOUT document.
func SentenceFromDocument(doc *Document) (Sentence, error) {
	if doc.Tag() != TagRecogOut {
		return Sentence{}, &ProtocolError{Tag: doc.Tag(), Err: errors.New("not a recognition document")}
	}
	return SentenceFromSHYPO(doc.Root.Find(TagSHYPO))
}

// SentenceFromSHYPO builds a Sentence from an SHYPO node. A missing or
// non-numeric SCORE or CM, or a missing WORD, returns a *ProtocolError.
func SentenceFromSHYPO(shypo *Node) (Sentence, error) {
	if shypo == nil {
		return Sentence{}, &ProtocolError{Tag: TagSHYPO, Err: errMissingNode}
	}
	score, err := floatAttr(shypo, AttrScore)
	if err != nil {
		return Sentence{}, err
	}

	hypos := shypo.FindAll(TagWHYPO)
	words := make([]Word, 0, len(hypos))
	for _, whypo := range hypos {
		text, ok := whypo.Attr(AttrWord)
		if !ok {
			return Sentence{}, &ProtocolError{Tag: TagWHYPO, Attr: AttrWord, Err: errMissingAttr}
		}
		if text == SentenceStart || text == SentenceEnd {
			continue
		}
		confidence, err := floatAttr(whypo, AttrConfidence)
		if err != nil {
			return Sentence{}, err
		}
		words = append(words, Word{Text: text, Confidence: confidence})
	}
	return Sentence{Words: words, Score: score}, nil
}

func floatAttr(node *Node, name string) (float64, error) {
	raw, ok := node.Attr(name)
	if !ok {
		return 0, &ProtocolError{Tag: node.Tag, Attr: name, Err: errMissingAttr}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ProtocolError{Tag: node.Tag, Attr: name, Value: raw, Err: err}
	}
	return value, nil
}
