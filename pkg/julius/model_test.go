package julius

import (
	"errors"
	"testing"

	"github.com/saker-ai/julius-bridge/internal/transport/julius/codec"
)

func mustParse(t *testing.T, block string) *Document {
	t.Helper()
	doc, err := codec.Parse(block)
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", block, err)
	}
	return doc
}

func TestSentenceFromSHYPOHelloWorld(t *testing.T) {
	doc := mustParse(t, `<SHYPO SCORE="0.85"><WHYPO WORD="Hello" CM="0.90"/><WHYPO WORD="world" CM="0.70"/></SHYPO>`)

	sentence, err := SentenceFromSHYPO(doc.Root)
	if err != nil {
		t.Fatalf("SentenceFromSHYPO returned error: %v", err)
	}
	if sentence.Score != 0.85 {
		t.Fatalf("Score=%v, want 0.85", sentence.Score)
	}
	if sentence.Len() != 2 {
		t.Fatalf("Len=%d, want 2", sentence.Len())
	}
	wantWords := []string{"hello", "world"}
	wantCM := []float64{0.90, 0.70}
	for i, w := range sentence.Words {
		if w.String() != wantWords[i] {
			t.Fatalf("word[%d]=%q, want %q", i, w.String(), wantWords[i])
		}
		if w.Confidence != wantCM[i] {
			t.Fatalf("confidence[%d]=%v, want %v", i, w.Confidence, wantCM[i])
		}
	}
	if sentence.Words[0].Text != "Hello" {
		t.Fatalf("Text=%q, want original case", sentence.Words[0].Text)
	}
	if got := sentence.String(); got != "hello world" {
		t.Fatalf("String=%q, want %q", got, "hello world")
	}
}

func TestSentenceSkipsBoundaryMarkers(t *testing.T) {
	tests := []struct {
		name  string
		block string
		want  string
	}{
		{
			name:  "edges",
			block: `<SHYPO SCORE="-10"><WHYPO WORD="<s>" CM="0.5"/><WHYPO WORD="a" CM="0.1"/><WHYPO WORD="</s>" CM="1.0"/></SHYPO>`,
			want:  "a",
		},
		{
			name:  "middle",
			block: `<SHYPO SCORE="-10"><WHYPO WORD="a" CM="0.1"/><WHYPO WORD="</s>" CM="1.0"/><WHYPO WORD="<s>" CM="1.0"/><WHYPO WORD="b" CM="0.2"/></SHYPO>`,
			want:  "a b",
		},
		{
			name:  "marker without confidence",
			block: `<SHYPO SCORE="-10"><WHYPO WORD="<s>"/><WHYPO WORD="a" CM="0.1"/></SHYPO>`,
			want:  "a",
		},
		{
			name:  "only markers",
			block: `<SHYPO SCORE="-10"><WHYPO WORD="<s>" CM="0.5"/><WHYPO WORD="</s>" CM="1.0"/></SHYPO>`,
			want:  "",
		},
	}
	for _, tt := range tests {
		sentence, err := SentenceFromSHYPO(mustParse(t, tt.block).Root)
		if err != nil {
			t.Fatalf("%s: SentenceFromSHYPO returned error: %v", tt.name, err)
		}
		if got := sentence.String(); got != tt.want {
			t.Fatalf("%s: String=%q, want %q", tt.name, got, tt.want)
		}
		for _, w := range sentence.Words {
			if w.Text == SentenceStart || w.Text == SentenceEnd {
				t.Fatalf("%s: boundary marker %q in words", tt.name, w.Text)
			}
		}
	}
}

func TestSentenceFromSHYPOProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		block string
		attr  string
	}{
		{name: "missing score", block: `<SHYPO><WHYPO WORD="a" CM="0.1"/></SHYPO>`, attr: AttrScore},
		{name: "bad score", block: `<SHYPO SCORE="high"><WHYPO WORD="a" CM="0.1"/></SHYPO>`, attr: AttrScore},
		{name: "missing word", block: `<SHYPO SCORE="1"><WHYPO CM="0.1"/></SHYPO>`, attr: AttrWord},
		{name: "missing confidence", block: `<SHYPO SCORE="1"><WHYPO WORD="a"/></SHYPO>`, attr: AttrConfidence},
		{name: "bad confidence", block: `<SHYPO SCORE="1"><WHYPO WORD="a" CM="?"/></SHYPO>`, attr: AttrConfidence},
	}
	for _, tt := range tests {
		_, err := SentenceFromSHYPO(mustParse(t, tt.block).Root)
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("%s: error=%v, want ErrProtocol", tt.name, err)
		}
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: error type=%T, want *ProtocolError", tt.name, err)
		}
		if perr.Attr != tt.attr {
			t.Fatalf("%s: Attr=%q, want %q", tt.name, perr.Attr, tt.attr)
		}
	}

	if _, err := SentenceFromSHYPO(nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("SentenceFromSHYPO(nil) error=%v, want ErrProtocol", err)
	}
}

func TestSentenceFromDocument(t *testing.T) {
	doc := mustParse(t, `<RECOGOUT><SHYPO RANK="1" SCORE="-500.25"><WHYPO WORD="<s>" CM="0.6"/><WHYPO WORD="julius" CM="0.95"/></SHYPO></RECOGOUT>`)
	sentence, err := SentenceFromDocument(doc)
	if err != nil {
		t.Fatalf("SentenceFromDocument returned error: %v", err)
	}
	if sentence.String() != "julius" || sentence.Score != -500.25 {
		t.Fatalf("sentence=%q score=%v, want julius -500.25", sentence.String(), sentence.Score)
	}

	if _, err := SentenceFromDocument(mustParse(t, `<RECOGOUT></RECOGOUT>`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("RECOGOUT without SHYPO error=%v, want ErrProtocol", err)
	}
	if _, err := SentenceFromDocument(mustParse(t, `<INPUT STATUS="LISTEN"/>`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("INPUT error=%v, want ErrProtocol", err)
	}
}

func TestWordLenCountsCharacters(t *testing.T) {
	if got := (Word{Text: "今日"}).Len(); got != 2 {
		t.Fatalf("Len=%d, want 2", got)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		verb string
		args []string
		want string
	}{
		{verb: "status", want: CommandStatus},
		{verb: " pause ", want: CommandPause},
		{verb: "ACTIVATEGRAM", args: []string{"greeting"}, want: "ACTIVATEGRAM greeting\n"},
		{verb: "SHIFTPROCESS", args: []string{"", "sr1"}, want: "SHIFTPROCESS sr1\n"},
	}
	for _, tt := range tests {
		if got := Command(tt.verb, tt.args...); got != tt.want {
			t.Fatalf("Command(%q, %v)=%q, want %q", tt.verb, tt.args, got, tt.want)
		}
	}
}
