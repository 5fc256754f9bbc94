package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/postbox/internal/store"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		opts  []Option
		want  Params
	}{
		{name: "defaults", query: "", want: Params{Folder: store.FolderInbox, PageSize: 5, Page: 1}},
		{name: "folder_and_page", query: "folder=trash&page=3&pageSize=20", want: Params{Folder: store.FolderTrash, PageSize: 20, Page: 3}},
		{name: "limit_alias", query: "limit=7", want: Params{Folder: store.FolderInbox, PageSize: 7, Page: 1}},
		{name: "max_page_size", query: "pageSize=1000", want: Params{Folder: store.FolderInbox, PageSize: MaxPageSize, Page: 1}},
		{name: "bad_numbers_ignored", query: "page=-1&pageSize=abc", want: Params{Folder: store.FolderInbox, PageSize: 5, Page: 1}},
		{name: "starred_any_folder", query: "starred=true", want: Params{Starred: store.Bool(true), PageSize: 5, Page: 1}},
		{name: "starred_in_sent", query: "starred=1&folder=sent", want: Params{Folder: store.FolderSent, Starred: store.Bool(true), PageSize: 5, Page: 1}},
		{name: "unread", query: "read=false", want: Params{Folder: store.FolderInbox, Read: store.Bool(false), PageSize: 5, Page: 1}},
		{
			name:  "options",
			query: "",
			opts:  []Option{WithDefaultPageSize(25), WithDefaultFolder(store.FolderSent), WithDefaultFolder("bogus")},
			want:  Params{Folder: store.FolderSent, PageSize: 25, Page: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			got, err := ParseParams(q, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseParams_Invalid(t *testing.T) {
	for _, query := range []string{"folder=drafts", "starred=maybe", "read=x"} {
		q, err := url.ParseQuery(query)
		require.NoError(t, err)
		_, err = ParseParams(q)
		assert.ErrorIs(t, err, ErrInvalidParams, query)
	}
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 1, TotalPages(0, 5))
	assert.Equal(t, 1, TotalPages(5, 5))
	assert.Equal(t, 2, TotalPages(7, 5))
	assert.Equal(t, 1, TotalPages(7, 0))
}

func TestParams_Filter(t *testing.T) {
	p := Params{Starred: store.Bool(true)}
	f := p.Filter("a@x.com")
	assert.Equal(t, "a@x.com", f.Owner)
	assert.Empty(t, f.Folder)
	require.NotNil(t, f.Starred)
	assert.True(t, *f.Starred)
}
