package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_HasExpectedProperties(t *testing.T) {
	class := Schema()
	assert.Equal(t, ClassName, class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := make(map[string]bool)
	for _, p := range class.Properties {
		names[p.Name] = true
	}
	for _, want := range []string{"chunkId", "objectName", "contentHash", "text", "docType", "partIndex", "totalParts"} {
		assert.True(t, names[want], "missing property %s", want)
	}
}
