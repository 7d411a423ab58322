package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	paragraph := strings.Repeat("Solar storms disturb the magnetosphere. ", 20)
	text := paragraph + "\n\n" + paragraph + "\n\n" + paragraph

	chunks, err := NewRecursiveCharacterTextSplitter(300, 50).SplitText(text)
	require.NoError(t, err)

	assert.Greater(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 300)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitTextDefaults(t *testing.T) {
	chunks, err := NewRecursiveCharacterTextSplitter(0, -1).SplitText("short text")
	require.NoError(t, err)
	assert.Equal(t, []string{"short text"}, chunks)
}
