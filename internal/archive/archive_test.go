package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeUploader struct {
	puts []string
}

func (f *fakeUploader) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	f.puts = append(f.puts, bucket+"/"+key)
	return nil
}

func TestJobDisabledWithoutBucketReturnsImmediately(t *testing.T) {
	j := New(nil, &fakeUploader{}, "", "exchange", 6, 24)
	j.Run(context.Background()) // should return immediately since bucket is empty
}

func TestEncodeNDJSONGzipRoundTrips(t *testing.T) {
	rows := []bson.M{
		{"a": int32(1)},
		{"a": int32(2)},
		{"a": int32(3)},
	}
	body, err := encodeNDJSONGzip(rows)
	if err != nil {
		t.Fatalf("encodeNDJSONGzip: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()

	plain, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(plain))
	var count int
	for {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			break
		}
		count++
	}
	if count != len(rows) {
		t.Fatalf("decoded %d rows, want %d", count, len(rows))
	}
}
