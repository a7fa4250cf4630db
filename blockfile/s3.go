package blockfile

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// S3 is a read-only Backend over an object in S3, grounded on the teacher
// repository's file/s3file package (ranged GetObject reads, HeadObject for
// size) generalized to the byte-range access this store's block reads
// already need. A PaCHash/separator/cuckoo file, once written, is
// immutable (spec §1 Non-goals), which is exactly what an S3 object
// already guarantees without any extra locking on this module's part:
// useful for distributing a finished store to read-many query workers
// without a shared POSIX filesystem.
type S3 struct {
	client *s3.S3
	bucket string
	key    string
	size   int64
}

// OpenS3 opens bucket/key for reading, using the default AWS session
// credential chain.
func OpenS3(bucket, key string) (*S3, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "blockfile.OpenS3", err)
	}
	client := s3.New(sess)
	head, err := client.HeadObject(&s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "blockfile.OpenS3", err)
	}
	return &S3{client: client, bucket: bucket, key: key, size: aws.Int64Value(head.ContentLength)}, nil
}

// ReadAt issues a ranged GetObject request covering [off, off+len(p)).
func (s *S3) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	out, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return 0, pacherrors.New(pacherrors.IoError, "blockfile.S3.ReadAt", err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, pacherrors.New(pacherrors.IoError, "blockfile.S3.ReadAt", err)
	}
	return n, nil
}

// Size returns the object's content length as observed at open time.
func (s *S3) Size() (int64, error) { return s.size, nil }

// Close is a no-op: the S3 client holds no per-object resources.
func (s *S3) Close() error { return nil }
