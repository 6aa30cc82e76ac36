package region

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByID(t *testing.T) {
	tests := []struct {
		name     string
		id       ID
		useHTTPS bool
		wantUp   []string
		wantIO   []string
	}{
		{name: "z0 https", id: Z0, useHTTPS: true, wantUp: []string{"https://upload.qiniup.com", "https://up.qiniup.com"}, wantIO: []string{"https://iovip.qbox.me"}},
		{name: "z0 http", id: Z0, useHTTPS: false, wantUp: []string{"http://upload.qiniup.com", "http://up.qiniup.com"}, wantIO: []string{"http://iovip.qbox.me"}},
		{name: "z1", id: Z1, useHTTPS: true, wantUp: []string{"https://upload-z1.qiniup.com", "https://up-z1.qiniup.com"}, wantIO: []string{"https://iovip-z1.qbox.me"}},
		{name: "upper case id", id: "NA0", useHTTPS: true, wantUp: []string{"https://upload-na0.qiniup.com", "https://up-na0.qiniup.com"}, wantIO: []string{"https://iovip-na0.qbox.me"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ByID(tt.id, tt.useHTTPS)
			require.True(t, ok)
			assert.Equal(t, tt.wantUp, r.UpURLs())
			assert.Equal(t, tt.wantIO, r.IOURLs())
			assert.Equal(t, tt.useHTTPS, r.HTTPS())
		})
	}

	_, ok := ByID("mars0", true)
	assert.False(t, ok)
}

func TestRegion_WithHTTPS(t *testing.T) {
	r, ok := ByID(Z2, true)
	require.True(t, ok)

	plain := r.WithHTTPS(false)
	assert.Equal(t, []string{"http://rs-z2.qbox.me"}, plain.RSURLs())
	assert.Equal(t, []string{"https://rs-z2.qbox.me"}, r.RSURLs())
	assert.Equal(t, Z2, plain.ID())
}

func TestFromIDs(t *testing.T) {
	regions, err := FromIDs(true, Z0, Z1)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, Z0, regions[0].ID())
	assert.Equal(t, Z1, regions[1].ID())

	_, err = FromIDs(true, Z0, "unknown")
	require.Error(t, err)
}

func TestBuilder(t *testing.T) {
	r, err := NewBuilder().
		UpHosts("https://up.example.com/", "up.example.com", "http://up2.example.com").
		IOHosts("io.example.com").
		HTTPS(false).
		Build()
	require.NoError(t, err)
	assert.Equal(t, ID(""), r.ID())
	assert.Equal(t, []string{"http://up.example.com", "http://up2.example.com"}, r.UpURLs())
	assert.Equal(t, []string{"http://io.example.com"}, r.IOURLs())
	assert.Empty(t, r.RSURLs())
	assert.Equal(t, "up.example.com", r.String())
}

func TestBuilder_OverridesPredefinedZone(t *testing.T) {
	b := NewBuilder().ID(Z1).UpHosts("up.example.com")
	r, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, Z1, r.ID())
	assert.Equal(t, []string{"https://up.example.com"}, r.UpURLs())
	assert.Equal(t, []string{"https://iovip-z1.qbox.me"}, r.IOURLs())

	_, err = b.Reset().Build()
	require.ErrorIs(t, err, ErrEmptyRegion)
}

func TestStatic(t *testing.T) {
	regions, err := FromIDs(true, Z0, Z1)
	require.NoError(t, err)

	resolver := NewStatic(regions...)
	got, err := resolver.Resolve(context.Background(), "any-bucket", "any-ak")
	require.NoError(t, err)
	assert.Equal(t, regions, got)

	primary, err := ResolvePrimary(context.Background(), resolver, "any-bucket", "any-ak")
	require.NoError(t, err)
	assert.Equal(t, Z0, primary.ID())

	_, err = NewStatic().Resolve(context.Background(), "any-bucket", "any-ak")
	require.ErrorIs(t, err, ErrNoRegion)
}
