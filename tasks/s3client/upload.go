package s3client

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/skhatri/esurldump/model"
)

// ObjectKey expands $date in key to now as yyyy-mm-dd.
func ObjectKey(key string, now time.Time) string {
	return strings.Replace(key, "$date", now.Format("2006-01-02"), -1)
}

// UploadToS3 copies the finished output file to cfg.Bucket. It is a no-op
// when no bucket is configured.
func UploadToS3(ctx context.Context, fileName string, cfg model.S3Config) error {
	if cfg.Bucket == "" {
		return nil
	}

	file, err := os.Open(fileName)
	if err != nil {
		return errors.Wrapf(err, "can not open %s for upload", fileName)
	}
	defer file.Close()

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return errors.Wrap(err, "aws session")
	}
	svc := s3.New(sess)
	key := ObjectKey(cfg.Key, time.Now())
	md, err := svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == request.CanceledErrorCode {
			return errors.Wrap(err, "upload canceled")
		}
		return errors.Wrapf(err, "failed to upload s3://%s/%s", cfg.Bucket, key)
	}

	entry := logrus.WithField("file", "s3://"+cfg.Bucket+"/"+key)
	if md.ETag != nil {
		entry = entry.WithField("etag", *md.ETag)
	}
	entry.Info("uploaded output")
	return nil
}
