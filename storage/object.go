package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/melbahja/got"
)

// Object is a handle to a key in a bucket. The object does not need to exist.
type Object struct {
	bucket *Bucket
	key    string
}

// ObjectInfo ...
type ObjectInfo struct {
	Size int64  `json:"fsize"`
	Hash string `json:"hash"`
	MIME string `json:"mimeType"`
	// PutTime is in 100 nanosecond units since the epoch.
	PutTime int64 `json:"putTime"`
	Type    int   `json:"type"`
}

// UploadedAt ...
func (i ObjectInfo) UploadedAt() time.Time {
	return time.Unix(0, i.PutTime*100)
}

// Key ...
func (o *Object) Key() string {
	return o.key
}

// Bucket ...
func (o *Object) Bucket() *Bucket {
	return o.bucket
}

// Stat returns the metadata of the object. A missing object fails with a
// StatusNoSuchEntry response status error.
func (o *Object) Stat(ctx context.Context) (*ObjectInfo, error) {
	var info ObjectInfo
	if err := o.bucket.client.call(ctx, http.MethodGet, o.bucket.rsURLs(ctx), "/stat/"+o.entry(), &info); err != nil {
		return nil, fmt.Errorf("stat %s: %w", o, err)
	}
	return &info, nil
}

// Delete removes the object.
func (o *Object) Delete(ctx context.Context) error {
	if err := o.bucket.client.call(ctx, http.MethodPost, o.bucket.rsURLs(ctx), "/delete/"+o.entry(), nil); err != nil {
		return fmt.Errorf("delete %s: %w", o, err)
	}
	o.bucket.client.logger.Debugf("Deleted %s", o)
	return nil
}

// URL returns the public download URL of the object on the preferred domain of the bucket.
func (o *Object) URL(ctx context.Context) (string, error) {
	domains, err := o.bucket.Domains(ctx)
	if err != nil {
		return "", err
	}
	scheme := "http"
	if o.bucket.client.cfg.UseHTTPS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: domains[0], Path: "/" + o.key}
	return u.String(), nil
}

// Download saves the object to dest through its public URL.
func (o *Object) Download(ctx context.Context, dest string) error {
	u, err := o.URL(ctx)
	if err != nil {
		return fmt.Errorf("download %s: %w", o, err)
	}

	downloader := got.New()
	downloader.Client = o.bucket.client.client.StandardClient()

	o.bucket.client.logger.Debugf("Downloading %s to %s", u, dest)
	if err := downloader.Do(got.NewDownload(ctx, u, dest)); err != nil {
		return fmt.Errorf("download %s: %w", o, err)
	}
	return nil
}

func (o *Object) String() string {
	return o.bucket.name + ":" + o.key
}

func (o *Object) entry() string {
	return encodedEntry(o.bucket.name, o.key)
}
