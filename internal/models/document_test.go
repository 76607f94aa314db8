package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleContent() ExtractedContent {
	return ExtractedContent{
		&ParagraphBlock{Content: Paragraph{Runs: []Run{
			{Text: "Hello ", IsBold: true},
			{Text: "world"},
		}}},
		&TableBlock{Rows: []TableRow{
			{Cells: []TableCell{
				{Content: Paragraph{Runs: []Run{{Text: "cellA"}}}},
				{Content: Paragraph{Runs: []Run{{Text: "cellB"}}}},
			}},
		}},
	}
}

func TestPlainText(t *testing.T) {
	got := sampleContent().PlainText()
	want := "Hello world\n\ncellA\tcellB"
	if got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestPlainTextMultiRowTable(t *testing.T) {
	content := ExtractedContent{
		&TableBlock{Rows: []TableRow{
			{Cells: []TableCell{{Content: Paragraph{Runs: []Run{{Text: "a"}, {Text: "b"}}}}, {Content: Paragraph{}}}},
			{Cells: []TableCell{{Content: Paragraph{Runs: []Run{{Text: "c"}}}}}},
		}},
		&ParagraphBlock{},
	}
	want := "ab\t\nc\n\n"
	if got := content.PlainText(); got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestPlainTextEmpty(t *testing.T) {
	if got := (ExtractedContent{}).PlainText(); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
	var nilContent ExtractedContent
	if got := nilContent.PlainText(); got != "" {
		t.Fatalf("expected empty text for nil content, got %q", got)
	}
}

func TestExtractedContentJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(sampleContent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"paragraph"`) || !strings.Contains(string(data), `"type":"table"`) {
		t.Fatalf("expected type tags in %s", data)
	}

	var decoded ExtractedContent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.PlainText() != sampleContent().PlainText() {
		t.Fatalf("round trip changed text: %q", decoded.PlainText())
	}
	p, ok := decoded[0].(*ParagraphBlock)
	if !ok {
		t.Fatalf("expected paragraph block, got %T", decoded[0])
	}
	if !p.Content.Runs[0].IsBold || p.Content.Runs[1].IsBold {
		t.Fatalf("bold flags not preserved: %+v", p.Content.Runs)
	}
}

func TestExtractedContentRejectsUnknownType(t *testing.T) {
	cases := []string{
		`[{"type":"image"}]`,
		`[{"content":{"runs":[]}}]`,
		`[1, 2]`,
		`{"type":"paragraph"}`,
	}
	for _, tc := range cases {
		var c ExtractedContent
		if err := json.Unmarshal([]byte(tc), &c); err == nil {
			t.Fatalf("expected error for %s", tc)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := sampleContent()
	cloned := original.Clone()
	cloned[0].(*ParagraphBlock).Content.Runs[0].Text = "changed"
	cloned[1].(*TableBlock).Rows[0].Cells[0].Content.Runs[0].Text = "changed"
	if original.PlainText() != "Hello world\n\ncellA\tcellB" {
		t.Fatalf("clone shares memory with original: %q", original.PlainText())
	}
}

func TestRecordCloneCopiesHistory(t *testing.T) {
	rec := UploadRecord{ID: "a", ChatHistory: []ChatMessage{{Role: RoleUser, Content: "q"}}}
	c := rec.Clone()
	c.ChatHistory[0].Content = "changed"
	if rec.ChatHistory[0].Content != "q" {
		t.Fatal("clone shares chat history")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusSuccess:    true,
		StatusError:      true,
	} {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestRecordJSONCarriesEmptyContentOnSuccess(t *testing.T) {
	success, err := json.Marshal(UploadRecord{ID: "a", Status: StatusSuccess, ExtractedContent: ExtractedContent{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(success), `"extractedContent":[]`) {
		t.Fatalf("expected empty content array in %s", success)
	}

	pending, err := json.Marshal(UploadRecord{ID: "b", Status: StatusPending})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(pending), "extractedContent") {
		t.Fatalf("pending record must not carry content: %s", pending)
	}
}
