package main

import (
	"testing"

	"chatterbox/docs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
swagger: "2.0"
paths:
  /chats:
    get:
      responses:
        "200": {description: OK}
        "401": {description: Unauthorized}
  /chats/{id}/messages:
    get:
      parameters:
        - name: id
          in: path
          required: true
        - name: before
          in: query
      responses:
        "200": {description: OK}
    post:
      responses:
        "201": {description: Created}
`

func TestParseDoc_ReadsOperations(t *testing.T) {
	doc, err := parseDoc([]byte(baseYAML))
	require.NoError(t, err)

	require.Contains(t, doc.Paths, "/chats/{id}/messages")
	get := doc.Paths["/chats/{id}/messages"]["get"]
	assert.Equal(t, map[string]bool{"id": true, "before": false}, get.Parameters)
	assert.Contains(t, get.Responses, "200")
}

func TestParseDoc_MissingPaths(t *testing.T) {
	_, err := parseDoc([]byte(`swagger: "2.0"`))
	assert.Error(t, err)
}

func TestCompare_NoChanges(t *testing.T) {
	base, err := parseDoc([]byte(baseYAML))
	require.NoError(t, err)
	assert.Empty(t, compare(base, base))
}

func TestCompare_ReportsBreakingChanges(t *testing.T) {
	base, err := parseDoc([]byte(baseYAML))
	require.NoError(t, err)

	revision, err := parseDoc([]byte(`
paths:
  /chats/{id}/messages:
    get:
      parameters:
        - name: id
          in: path
          required: true
        - name: before
          in: query
          required: true
      responses:
        "200": {description: OK}
`))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"new required parameter: GET /chats/{id}/messages -> before",
		"removed operation: POST /chats/{id}/messages",
		"removed path: /chats",
	}, compare(base, revision))
}

func TestCompiledDocumentParses(t *testing.T) {
	doc, err := parseDoc([]byte(docs.SwaggerInfo.ReadDoc()))
	require.NoError(t, err)
	assert.Contains(t, doc.Paths, "/auth/login")
	assert.Contains(t, doc.Paths["/auth/login"], "post")
}
