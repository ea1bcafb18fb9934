package service

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedoc/internal/blob"
)

const base = "http://localhost:8080/storage/shared-documents"

func TestExtractImageRefs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]struct{}
	}{
		{"empty", "", map[string]struct{}{}},
		{"plain text", "no images, just [a link](http://x/y.png)", map[string]struct{}{}},
		{
			"duplicates collapse",
			"![a](http://x/1.png) text ![b](http://x/1.png) ![](rel/2.gif)",
			map[string]struct{}{"http://x/1.png": {}, "rel/2.gif": {}},
		},
		{
			"lazy match per image",
			"![a](one.png)![b](two.png)",
			map[string]struct{}{"one.png": {}, "two.png": {}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ExtractImageRefs(tt.content)); diff != "" {
				t.Errorf("ExtractImageRefs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func setupGC(t *testing.T) (*ImageGC, *blob.FileStore, *memDocs) {
	t.Helper()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	docs := newMemDocs()
	return NewImageGC(store, docs), store, docs
}

func exists(t *testing.T, store blob.Store, key string) bool {
	t.Helper()
	ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestReconcileDeletesRemovedImage(t *testing.T) {
	gc, store, _ := setupGC(t)
	require.NoError(t, putBlob(store, "shared-documents/doc1/x.png", "x"))
	require.NoError(t, putBlob(store, "shared-documents/doc1/y.png", "y"))

	old := "![a](" + base + "/doc1/x.png) ![b](" + base + "/doc1/y.png)"
	updated := "![a](" + base + "/doc1/x.png)"

	n := gc.Reconcile(context.Background(), "doc1", old, updated)
	assert.Equal(t, 1, n)
	assert.True(t, exists(t, store, "shared-documents/doc1/x.png"))
	assert.False(t, exists(t, store, "shared-documents/doc1/y.png"))
}

func TestReconcileKeepsImageReferencedElsewhere(t *testing.T) {
	gc, store, docs := setupGC(t)
	require.NoError(t, putBlob(store, "shared-documents/doc1/y.png", "y"))
	_, err := docs.UpdateContent(context.Background(), "doc2", "copied ![b]("+base+"/doc1/y.png)")
	require.NoError(t, err)

	n := gc.Reconcile(context.Background(), "doc1", "![b]("+base+"/doc1/y.png)", "")
	assert.Zero(t, n)
	assert.True(t, exists(t, store, "shared-documents/doc1/y.png"))
}

func TestReconcileKeepsImageStillReferencedByNewContent(t *testing.T) {
	tests := []struct {
		name    string
		updated string
	}{
		{"relative url", "![a](/storage/shared-documents/doc1/x.png)"},
		{"query string", "![a](http://localhost:8080/storage/shared-documents/doc1/x.png?v=2)"},
		{"plain link", "see [x](http://localhost:8080/storage/shared-documents/doc1/x.png)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc, store, _ := setupGC(t)
			require.NoError(t, putBlob(store, "shared-documents/doc1/x.png", "x"))

			n := gc.Reconcile(context.Background(), "doc1",
				"![a](http://localhost:8080/storage/shared-documents/doc1/x.png)", tt.updated)
			assert.Zero(t, n)
			assert.True(t, exists(t, store, "shared-documents/doc1/x.png"))
		})
	}
}

func TestReconcileIgnoresForeignURLs(t *testing.T) {
	gc, store, _ := setupGC(t)
	require.NoError(t, putBlob(store, "shared-documents/doc2/z.png", "z"))

	old := "![c](" + base + "/doc2/z.png) ![d](https://cdn.example.com/z.png)"
	n := gc.Reconcile(context.Background(), "doc1", old, "")
	assert.Zero(t, n)
	assert.True(t, exists(t, store, "shared-documents/doc2/z.png"))
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	gc, store, _ := setupGC(t)
	require.NoError(t, putBlob(store, "shared-documents/doc1/b.png", "b"))
	gc.Blobs = &flakyBlobs{Store: store, failKey: "shared-documents/doc1/a.png"}

	old := "![a](" + base + "/doc1/a.png) ![b](" + base + "/doc1/b.png) ![m](" + base + "/doc1/missing.png)"
	n := gc.Reconcile(context.Background(), "doc1", old, "")
	assert.Equal(t, 1, n)
	assert.False(t, exists(t, store, "shared-documents/doc1/b.png"))
}

func TestDeleteIfUnreferencedTwice(t *testing.T) {
	gc, store, _ := setupGC(t)
	require.NoError(t, putBlob(store, "shared-documents/doc1/x.png", "x"))

	res, err := gc.deleteIfUnreferenced(context.Background(), "doc1", "x.png")
	require.NoError(t, err)
	assert.Equal(t, gcDeleted, res)

	res, err = gc.deleteIfUnreferenced(context.Background(), "doc1", "x.png")
	require.NoError(t, err)
	assert.Equal(t, gcMissing, res)
}
