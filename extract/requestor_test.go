package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRender(t *testing.T) {
	tmpl := NewTemplate([]string{"PERSON", "GEO"}, DefaultDelimiters())

	out := tmpl.Render("Ada Lovelace lived in London.", nil)
	assert.Contains(t, out, "[PERSON, GEO]")
	assert.Contains(t, out, `("entity"|<entity_name>|<entity_type>|<entity_claim>)`)
	assert.Contains(t, out, "Ada Lovelace lived in London.")
	assert.NotContains(t, out, "{document}")
	assert.NotContains(t, out, "{context}")
	assert.NotContains(t, out, "earlier parts of this document")

	withContext := tmpl.Render("More text.", []string{"Ada Lovelace", "London"})
	assert.Contains(t, withContext, "Ada Lovelace, London")
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("types={entity_types} doc={document}{context}"), 0o644))
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("no slot"), 0o644))

	tmpl, err := LoadTemplate(good, []string{"GEO"}, DefaultDelimiters())
	require.NoError(t, err)
	assert.Equal(t, "types=[GEO] doc=hello", tmpl.Render("hello", nil))

	_, err = LoadTemplate(bad, nil, DefaultDelimiters())
	assert.Error(t, err)
	_, err = LoadTemplate(filepath.Join(dir, "missing.txt"), nil, DefaultDelimiters())
	assert.Error(t, err)
}

func TestDelimitersValidate(t *testing.T) {
	assert.NoError(t, DefaultDelimiters().Validate())
	assert.Error(t, Delimiters{Tuple: "|", Record: "|", Completion: "$"}.Validate())
	assert.Error(t, Delimiters{Tuple: "", Record: "##", Completion: "$"}.Validate())
}

func TestRequestorRequest(t *testing.T) {
	var gotSystem, gotUser string
	c := CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return "raw", nil
	})

	r, err := NewRequestor(c, RequestorConfig{RequestsPerSecond: 100}, nil)
	require.NoError(t, err)

	out, err := r.Request(context.Background(), "chunk text", []string{"Known Co"})
	require.NoError(t, err)
	assert.Equal(t, "raw", out)
	assert.Equal(t, DefaultSystemPrompt, gotSystem)
	assert.True(t, strings.Contains(gotUser, "chunk text"))
	assert.True(t, strings.Contains(gotUser, "Known Co"))
}

func TestRequestorPropagatesCompletionError(t *testing.T) {
	boom := errors.New("upstream 500")
	r, err := NewRequestor(CompleterFunc(func(context.Context, string, string) (string, error) {
		return "", boom
	}), RequestorConfig{}, nil)
	require.NoError(t, err)

	_, err = r.Request(context.Background(), "x", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRequestorHonoursCancellation(t *testing.T) {
	r, err := NewRequestor(CompleterFunc(func(ctx context.Context, _, _ string) (string, error) {
		return "", ctx.Err()
	}), RequestorConfig{RequestsPerSecond: 0.001}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Request(ctx, "x", nil)
	assert.Error(t, err)
}

func TestNewRequestorValidation(t *testing.T) {
	_, err := NewRequestor(nil, RequestorConfig{}, nil)
	assert.Error(t, err)

	bad := NewTemplate(nil, Delimiters{Tuple: "|", Record: "|", Completion: "$"})
	_, err = NewRequestor(CompleterFunc(func(context.Context, string, string) (string, error) { return "", nil }),
		RequestorConfig{Template: bad}, nil)
	assert.Error(t, err)
}
