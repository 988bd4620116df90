// Пакет s3store — хранение содержимого файлов в S3-совместимом бакете.
//
// Объект адресуется ключом {prefix}/{stored name}. Загрузка потоковая:
// первый фрагмент до partSize уходит одним PutObject, более крупные
// файлы — multipart upload. Незавершённый multipart upload невидим
// в бакете, при ошибке он отменяется (AbortMultipartUpload).
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
)

// DefaultPartSize — размер части multipart upload (минимум S3 — 5 MiB).
const DefaultPartSize = 8 * 1024 * 1024

// API — подмножество методов *s3.Client, используемых хранилищем.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Options — параметры подключения к S3.
type Options struct {
	Bucket    string
	Region    string
	// Endpoint — адрес S3-совместимого хранилища (MinIO и т.п.), пусто — AWS
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Store — хранилище содержимого в S3.
type Store struct {
	client   API
	bucket   string
	prefix   string
	partSize int64
	logger   *slog.Logger
}

// Проверка на этапе компиляции
var _ blob.Store = (*Store)(nil)

// NewClient создаёт *s3.Client по опциям. Статические ключи используются,
// если заданы, иначе — стандартная цепочка credentials AWS.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO и localstack требуют path-style адресации
			o.UsePathStyle = true
		}
	}), nil
}

// New создаёт хранилище и проверяет доступ к бакету.
func New(ctx context.Context, client API, bucket, prefix string, logger *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("имя бакета не задано")
	}

	s := &Store{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		partSize: DefaultPartSize,
		logger:   logger.With(slog.String("component", "s3store")),
	}

	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// key возвращает ключ объекта с учётом префикса.
func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *Store) Save(ctx context.Context, name string, r io.Reader) (*blob.SaveResult, error) {
	if err := blob.ValidateName(name); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	src := io.TeeReader(blob.ContextReader(ctx, r), hasher)

	buf := make([]byte, s.partSize)
	n, err := io.ReadFull(src, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Файл помещается в одну часть
		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.key(name)),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		}); err != nil {
			return nil, fmt.Errorf("ошибка загрузки объекта в S3: %w", err)
		}
		return &blob.SaveResult{Size: int64(n), Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
	case err != nil:
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}

	size, err := s.saveMultipart(ctx, name, src, buf)
	if err != nil {
		return nil, err
	}
	return &blob.SaveResult{Size: size, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// saveMultipart загружает src частями. first — уже прочитанная полная первая часть.
func (s *Store) saveMultipart(ctx context.Context, name string, src io.Reader, first []byte) (int64, error) {
	key := s.key(name)

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка создания multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (int64, error) {
		// Контекст запроса может быть уже отменён
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		}); err != nil {
			s.logger.Warn("Не удалось отменить multipart upload",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return 0, cause
	}

	var (
		parts []types.CompletedPart
		total int64
		chunk = first
	)
	for partNumber := int32(1); ; partNumber++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(int64(len(chunk))),
		})
		if err != nil {
			return abort(fmt.Errorf("ошибка загрузки части %d: %w", partNumber, err))
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
		total += int64(len(chunk))

		buf := make([]byte, s.partSize)
		n, err := io.ReadFull(src, buf)
		if n == 0 && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return abort(fmt.Errorf("ошибка чтения данных: %w", err))
		}
		chunk = buf[:n]
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		return abort(fmt.Errorf("ошибка завершения multipart upload: %w", err))
	}

	return total, nil
}

func (s *Store) Open(ctx context.Context, name string) (*blob.Object, error) {
	if err := blob.ValidateName(name); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка получения объекта из S3: %w", err)
	}

	obj := &blob.Object{Body: out.Body, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		obj.ModTime = *out.LastModified
	}
	return obj, nil
}

// Delete удаляет объект. DeleteObject в S3 не сообщает об отсутствии
// объекта, поэтому наличие проверяется HeadObject.
func (s *Store) Delete(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	}); err != nil {
		return fmt.Errorf("ошибка удаления объекта из S3: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := blob.ValidateName(name); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта в S3: %w", err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения списка объектов: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("бакет %q недоступен: %w", s.bucket, err)
	}
	return nil
}

// isNotFound — объект отсутствует (GetObject → NoSuchKey, HeadObject → NotFound).
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
