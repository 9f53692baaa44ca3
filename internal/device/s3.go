/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names the bucket and credentials an S3Device writes segments
// into. Segment N is stored as object "<prefix>/seg.<N>"; S3 has no
// in-place append or partial write, so Write always rewrites the whole
// segment object (acceptable for checkpoint-segment storage, where
// objects are written once and never mutated in place).
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Device backs segments with S3 objects. It is meant for checkpoint
// and AOF-archival segments rather than the hot log, since every Write
// re-uploads the full segment.
type S3Device struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client

	// cache holds the last-known full content of each segment so Write
	// at an offset can be folded into a read-modify-rewrite of the
	// object (S3 has no partial-write API).
	cache map[uint64][]byte
}

func NewS3Device(cfg S3Config) *S3Device {
	return &S3Device{cfg: cfg, cache: make(map[uint64][]byte)}
}

func (d *S3Device) ensureClient() (*s3.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if d.cfg.Region != "" {
		opts = append(opts, config.WithRegion(d.cfg.Region))
	}
	if d.cfg.AccessKeyID != "" && d.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	var s3Opts []func(*s3.Options)
	if d.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(d.cfg.Endpoint) })
	}
	if d.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	d.client = s3.NewFromConfig(cfg, s3Opts...)
	return d.client, nil
}

func (d *S3Device) key(segmentID uint64) string {
	if d.cfg.Prefix != "" {
		return fmt.Sprintf("%s/seg.%010d", d.cfg.Prefix, segmentID)
	}
	return fmt.Sprintf("seg.%010d", segmentID)
}

func (d *S3Device) Read(segmentID uint64, offset int64, length int64, cb ReadCallback) {
	if err := CheckAligned(offset, length); err != nil {
		cb(nil, err)
		return
	}
	client, err := d.ensureClient()
	if err != nil {
		cb(nil, err)
		return
	}
	go func() {
		resp, err := client.GetObject(context.Background(), &s3.GetObjectInput{
			Bucket: aws.String(d.cfg.Bucket),
			Key:    aws.String(d.key(segmentID)),
		})
		if err != nil {
			cb(nil, err)
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			cb(nil, err)
			return
		}
		end := offset + length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if offset >= int64(len(data)) {
			cb(make([]byte, length), nil)
			return
		}
		cb(data[offset:end], nil)
	}()
}

func (d *S3Device) Write(buf []byte, segmentID uint64, offset int64, cb WriteCallback) {
	if err := CheckAligned(offset, int64(len(buf))); err != nil {
		cb(err)
		return
	}
	client, err := d.ensureClient()
	if err != nil {
		cb(err)
		return
	}
	go func() {
		d.mu.Lock()
		existing := d.cache[segmentID]
		need := int(offset) + len(buf)
		if need > len(existing) {
			grown := make([]byte, need)
			copy(grown, existing)
			existing = grown
		}
		copy(existing[offset:], buf)
		d.cache[segmentID] = existing
		snapshot := make([]byte, len(existing))
		copy(snapshot, existing)
		d.mu.Unlock()

		_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(d.cfg.Bucket),
			Key:    aws.String(d.key(segmentID)),
			Body:   bytes.NewReader(snapshot),
		})
		cb(err)
	}()
}

func (d *S3Device) RemoveSegment(segmentID uint64) error {
	client, err := d.ensureClient()
	if err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.cache, segmentID)
	d.mu.Unlock()
	_, err = client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(segmentID)),
	})
	return err
}

func (d *S3Device) Close() error { return nil }
