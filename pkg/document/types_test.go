package document

import "testing"

func TestAttachAssignsPositions(t *testing.T) {
	c := Content{Questions: []QuestionInput{
		{Text: "  First  "},
		{Text: "Second", Type: QuestionRating, Required: true},
		{Text: "Third", Type: QuestionMultipleChoice, Options: []string{"a", "b"}},
	}}

	qs := c.Attach("doc-1")
	if len(qs) != 3 {
		t.Fatalf("got %d questions", len(qs))
	}
	for i, q := range qs {
		if q.Position != i {
			t.Errorf("question %d has position %d", i, q.Position)
		}
		if q.DocumentID != "doc-1" {
			t.Errorf("question %d owned by %q", i, q.DocumentID)
		}
	}
	if qs[0].Text != "First" || qs[0].Type != QuestionText {
		t.Errorf("first question = %+v", qs[0])
	}
	if !qs[1].Required {
		t.Error("required flag lost")
	}

	c.Questions[2].Options[0] = "changed"
	if qs[2].Options[0] != "a" {
		t.Error("options must be copied")
	}
}

func TestCopyQuestionsReownsInOrder(t *testing.T) {
	src := []*Question{
		{DocumentID: "old", Position: 0, Text: "A", Type: QuestionYesNo},
		{DocumentID: "old", Position: 1, Text: "B", Type: QuestionText},
	}

	out := CopyQuestions(src, "new")
	if out[0].DocumentID != "new" || out[1].Text != "B" || out[1].Position != 1 {
		t.Errorf("unexpected copy: %+v %+v", out[0], out[1])
	}
	if src[0].DocumentID != "old" {
		t.Error("source mutated")
	}
}

func TestRootAndParent(t *testing.T) {
	empty := ""
	parent := "p"
	cases := []struct {
		doc    Document
		root   bool
		parent string
	}{
		{Document{}, true, ""},
		{Document{ParentID: &empty}, true, ""},
		{Document{ParentID: &parent}, false, "p"},
	}
	for _, tc := range cases {
		if tc.doc.IsRoot() != tc.root || tc.doc.Parent() != tc.parent {
			t.Errorf("%+v: root=%v parent=%q", tc.doc, tc.doc.IsRoot(), tc.doc.Parent())
		}
	}
}
