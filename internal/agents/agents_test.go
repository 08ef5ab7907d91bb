package agents

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/vocab"
)

const testVocabularyYAML = `
tags:
  - name: investing
    category: business
    synonyms: ["index funds", "stock market", "投資", "理財"]
    weight: 1.0
  - name: entrepreneurship
    category: business
    synonyms: ["startup", "founder", "創業"]
    weight: 0.9
  - name: language-learning
    category: education
    synonyms: ["english practice", "英文", "學英文"]
    weight: 1.0
  - name: history
    category: education
    synonyms: ["ancient history", "歷史"]
    weight: 0.8
`

func newTestVocab(t *testing.T) *vocab.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testVocabularyYAML), 0o644))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := vocab.NewStore(path, logger)
	require.NoError(t, err)
	return store
}

const testBudget = 2 * time.Second

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Fatalf("empty text should cost 0 tokens, got %d", got)
	}
	if got := estimateTokens("one two three"); got < 3 || got > 6 {
		t.Fatalf("three words should cost roughly 4 tokens, got %d", got)
	}
	if got := estimateTokens("我想學投資"); got != 5 {
		t.Fatalf("five CJK runes should cost 5 tokens, got %d", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! 第三句。最後")
	require.Len(t, got, 4)
	require.Equal(t, "First one.", got[0])
	require.Equal(t, "第三句。", got[2])
	require.Equal(t, "最後", got[3])
}
