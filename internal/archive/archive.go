// Package archive implements the cold-storage archival job (§4.10): a
// background loop, independent of the matching path, that moves aged
// completed-order and message-log rows out of the live MongoDB collections
// and into object storage as gzip-compressed NDJSON batches. Grounded in the
// reference trade archiver's cursor/cycle/rotate structure, re-targeted from
// local gzip files to real S3 PutObject calls — the teacher's own
// aws-sdk-go-v2 config fields (S3Bucket, S3Region, S3Prefix) were declared
// but never read by any file in the teacher; this finishes what they were
// reaching for.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/stockexchange/matchd/internal/model"
)

// Uploader is the narrow S3 capability the job depends on, so tests can
// fake it without real AWS credentials or network access.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, body []byte) error
}

// s3Uploader adapts the AWS SDK's client to Uploader.
type s3Uploader struct {
	client *s3.Client
}

// NewS3Uploader builds an Uploader backed by a real S3 client, loading AWS
// credentials and region from the default provider chain.
func NewS3Uploader(ctx context.Context, region string) (Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return &s3Uploader{client: s3.NewFromConfig(cfg)}, nil
}

func (u *s3Uploader) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Job periodically moves old completed-order and message rows to S3.
type Job struct {
	db       *mongo.Database
	uploader Uploader
	bucket   string
	prefix   string
	interval time.Duration
	maxAge   time.Duration
}

// New creates an archival Job. It is inert (Run returns immediately) when
// bucket is empty, matching the opt-in disposition of the reference
// S3Bucket config field.
func New(db *mongo.Database, uploader Uploader, bucket, prefix string, intervalHours, afterHours int) *Job {
	return &Job{
		db: db, uploader: uploader, bucket: bucket, prefix: prefix,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	if j.bucket == "" {
		log.Printf("archive: disabled (no bucket configured)")
		return
	}
	log.Printf("archive: bucket=%s prefix=%s interval=%v age=%v", j.bucket, j.prefix, j.interval, j.maxAge)

	j.cycle(ctx, "orders", "order_id", "order_date", "order_intraday")
	j.cycle(ctx, "messages", "message_id", "date_part", "intraday_part")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.cycle(ctx, "orders", "order_id", "order_date", "order_intraday")
			j.cycle(ctx, "messages", "message_id", "date_part", "intraday_part")
		}
	}
}

// cycle archives one collection's rows older than maxAge, in a single
// chronologically-sorted batch per invocation. idField names the
// collection's unique id field (used to delete the archived rows once the
// upload succeeds); dateField/intradayField name its two-part timestamp.
func (j *Job) cycle(ctx context.Context, collection, idField, dateField, intradayField string) {
	cursorKey := "archive_cursor_" + collection
	cursor, err := j.loadCursor(ctx, cursorKey)
	if err != nil {
		log.Printf("archive: load cursor for %s: %v", collection, err)
		return
	}

	cutoff := time.Now().Add(-j.maxAge)
	cutoffDate := int32(cutoff.Unix() / 86400)

	rows, err := j.queryOlderThan(ctx, collection, dateField, intradayField, cursor, cutoffDate)
	if err != nil {
		log.Printf("archive: query %s: %v", collection, err)
		return
	}
	if len(rows) == 0 {
		j.saveCursor(ctx, cursorKey, cutoffDate)
		return
	}

	body, err := encodeNDJSONGzip(rows)
	if err != nil {
		log.Printf("archive: encode %s batch: %v", collection, err)
		return
	}

	key := fmt.Sprintf("%s/%s/%s.jsonl.gz", j.prefix, collection, time.Now().UTC().Format("20060102-150405"))
	if err := j.uploader.PutObject(ctx, j.bucket, key, body); err != nil {
		log.Printf("archive: upload %s: %v", collection, err)
		return
	}

	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if v, ok := r[idField]; ok {
			ids = append(ids, v)
		}
	}
	if _, err := j.db.Collection(collection).DeleteMany(ctx, bson.M{idField: bson.M{"$in": ids}}); err != nil {
		log.Printf("archive: delete archived %s rows: %v", collection, err)
		return
	}

	log.Printf("archive: archived %d %s rows to s3://%s/%s", len(rows), collection, j.bucket, key)
	j.saveCursor(ctx, cursorKey, cutoffDate)
}

func (j *Job) queryOlderThan(ctx context.Context, collection, dateField, intradayField string, fromDate, toDate int32) ([]bson.M, error) {
	filter := bson.M{dateField: bson.M{"$gte": fromDate, "$lt": toDate}}
	if collection == "orders" {
		// Only completed-order rows are archived; pending rows stay live.
		filter["status"] = byte(model.StatusCompleted)
	}
	opts := options.Find().SetSort(bson.D{{Key: dateField, Value: 1}, {Key: intradayField, Value: 1}})
	cur, err := j.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return rows, nil
}

func encodeNDJSONGzip(rows []bson.M) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return nil, fmt.Errorf("encode row: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (j *Job) loadCursor(ctx context.Context, key string) (int32, error) {
	var doc struct {
		Value int32 `bson:"value"`
	}
	err := j.db.Collection("sim_state").FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (j *Job) saveCursor(ctx context.Context, key string, value int32) {
	_, err := j.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("archive: save cursor %s: %v", key, err)
	}
}
