package repetition

import "testing"

func TestJaccardSimilarity_EmptyIsZero(t *testing.T) {
	if got := JaccardSimilarity("", "hello"); got != 0.0 {
		t.Fatalf("expected 0.0, got %v", got)
	}
	if got := JaccardSimilarity("hello", ""); got != 0.0 {
		t.Fatalf("expected 0.0, got %v", got)
	}
}

func TestJaccardSimilarity_ExactMatchIsOne(t *testing.T) {
	if got := JaccardSimilarity("I agree completely.", "I AGREE completely."); got != 1.0 {
		t.Fatalf("expected 1.0 for normalized exact match, got %v", got)
	}
}

func TestJaccardSimilarity_PartialOverlap(t *testing.T) {
	got := JaccardSimilarity("the quick brown fox", "the quick red fox")
	// tokens: {the,quick,brown,fox} vs {the,quick,red,fox}; intersection=3, union=5
	want := 3.0 / 5.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDetector_TriggersAfterConsecutiveSimilar(t *testing.T) {
	d := New(0.85, 2, 5)

	triggered, _ := d.Observe("I agree completely.", nil)
	if triggered {
		t.Fatal("should not trigger on first observation")
	}

	triggered, _ = d.Observe("I agree completely.", nil)
	if triggered {
		t.Fatal("should not trigger after only 1 consecutive similar (own) — first observation had no peers")
	}

	// third repeat pushes consecutive_similar to 2 against own history
	triggered, _ = d.Observe("I agree completely.", nil)
	if !triggered {
		t.Fatal("expected trigger after MAX_CONSECUTIVE_SIMILAR consecutive similar outputs")
	}
}

func TestDetector_DissimilarResetsStreak(t *testing.T) {
	d := New(0.85, 2, 5)
	d.Observe("I agree completely.", nil)
	d.Observe("I agree completely.", nil)
	triggered, _ := d.Observe("Let's talk about something totally different now.", nil)
	if triggered {
		t.Fatal("should not trigger — dissimilar output resets the streak")
	}
	if d.ConsecutiveSimilar() != 0 {
		t.Fatalf("expected consecutive similar to reset to 0, got %d", d.ConsecutiveSimilar())
	}
}

func TestDetector_Deterministic(t *testing.T) {
	inputs := []string{"hello there", "hello there", "hello there friend", "goodbye now"}
	run := func() []bool {
		d := New(0.85, 2, 5)
		var results []bool
		for _, in := range inputs {
			triggered, _ := d.Observe(in, nil)
			results = append(results, triggered)
		}
		return results
	}
	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatal("mismatched lengths")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("non-deterministic at index %d: %v != %v", i, first[i], second[i])
		}
	}
}

func TestContainsTerminationPhrase(t *testing.T) {
	phrase, ok := ContainsTerminationPhrase("okay, [DONE] goodbye", nil)
	if !ok || phrase != "[done]" {
		t.Fatalf("expected match on default phrase set, got %q ok=%v", phrase, ok)
	}

	_, ok = ContainsTerminationPhrase("let's keep going", nil)
	if ok {
		t.Fatal("expected no match")
	}
}
