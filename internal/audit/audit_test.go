package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	at := time.Date(2025, 4, 3, 6, 15, 0, 0, time.FixedZone("IST", 5*3600+1800))
	key := Key("3R", at)
	parts := strings.Split(key, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "3R", parts[0])
	assert.Equal(t, "2025-04-03", parts[1])
	assert.True(t, strings.HasPrefix(parts[2], "004500.000-"), parts[2])
	assert.True(t, strings.HasSuffix(parts[2], ".json"))
}

func TestKeyRejectsTraversal(t *testing.T) {
	key := Key("../etc", time.Unix(0, 0))
	assert.False(t, strings.Contains(key, ".."), key)
	assert.True(t, strings.HasPrefix(Key("", time.Unix(0, 0)), "_unknown/"))
}

func TestFileSinkWrites(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	payload := []byte(`{"satelliteId":"3R"}`)

	key, err := sink.Write(context.Background(), "3R", time.Now(), payload)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

type fakePutter struct {
	keys []string
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkPrefixesKey(t *testing.T) {
	fp := &fakePutter{}
	sink := &S3Sink{client: fp, bucket: "audit-bucket", prefix: "audit"}

	key, err := sink.Write(context.Background(), "3S", time.Now(), []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, fp.keys, 1)
	assert.Equal(t, key, fp.keys[0])
	assert.True(t, strings.HasPrefix(key, "audit/3S/"))
}

func TestMultiJoinsFailures(t *testing.T) {
	dir := t.TempDir()
	failing := &S3Sink{client: &fakePutter{err: errors.New("bucket gone")}, bucket: "b", prefix: "audit"}
	m := Multi{failing, NewFileSink(dir)}

	key, err := m.Write(context.Background(), "3R", time.Now(), []byte(`{}`))
	assert.Error(t, err)
	assert.NotEmpty(t, key, "the file sink still succeeds")
}
